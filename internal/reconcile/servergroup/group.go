// Package servergroup reconciles AAA RADIUS server groups.
package servergroup

import (
	"context"
	"fmt"

	"github.com/dokzlo13/netdevd/internal/device"
	"github.com/dokzlo13/netdevd/internal/reconcile"
	"github.com/dokzlo13/netdevd/internal/reconcile/radius"
)

const (
	// GroupType is the only group type this package manages.
	GroupType = "radius"

	PropServers = "servers"

	AttrType     = "type"
	AttrServers  = "servers"
	AttrName     = "name"
	AttrAuthPort = "auth_port"
	AttrAcctPort = "acct_port"
)

// Group holds the ordered member list of a server group. Members are written
// as "<host>/<auth_port>/<acct_port>"; missing ports take the RADIUS defaults.
type Group struct {
	Servers []string `json:"servers" yaml:"servers,omitempty"`
}

// Adapter implements reconcile.Adapter for RADIUS server groups.
type Adapter struct{}

// New returns the server group adapter.
func New() *Adapter {
	return &Adapter{}
}

func (a *Adapter) Kind() device.Kind {
	return device.KindRadiusServerGroup
}

func (a *Adapter) Fields() []reconcile.Field[Group] {
	return []reconcile.Field[Group]{
		{Name: PropServers, Get: func(g Group) (any, bool) {
			if g.Servers == nil {
				return nil, false
			}
			return canonicalServers(g.Servers), true
		}},
	}
}

// canonicalServers rewrites member tokens with explicit ports. Tokens that do
// not parse are kept as written and rejected by Validate.
func canonicalServers(servers []string) []string {
	out := make([]string, 0, len(servers))
	for _, s := range servers {
		id, err := radius.ParseServerID(s)
		if err != nil {
			out = append(out, s)
			continue
		}
		out = append(out, id.String())
	}
	return out
}

func (a *Adapter) Identity(d reconcile.Desired[Group]) string {
	return d.Name
}

// List returns radius groups only.
func (a *Adapter) List(ctx context.Context, gw device.Gateway) ([]reconcile.Record[Group], error) {
	entities, err := gw.List(ctx, device.KindRadiusServerGroup)
	if err != nil {
		return nil, err
	}

	records := make([]reconcile.Record[Group], 0, len(entities))
	for _, e := range entities {
		if e.Attrs.String(AttrType) != GroupType {
			continue
		}
		servers := []string{}
		for _, member := range e.Attrs.List(AttrServers) {
			id, err := memberID(member)
			if err != nil {
				return nil, fmt.Errorf("server group %s: %w", e.ID, err)
			}
			servers = append(servers, id.String())
		}
		records = append(records, reconcile.Record[Group]{
			Name:   e.ID,
			Ensure: reconcile.EnsurePresent,
			Props:  Group{Servers: servers},
		})
	}
	return records, nil
}

func memberID(member device.Attributes) (radius.ServerID, error) {
	id := radius.ServerID{
		Host:     member.String(AttrName),
		AuthPort: radius.DefaultAuthPort,
		AcctPort: radius.DefaultAcctPort,
	}
	if id.Host == "" {
		return id, fmt.Errorf("member without %s", AttrName)
	}
	if _, ok := member[AttrAuthPort]; ok {
		port, ok := member.Int(AttrAuthPort)
		if !ok {
			return id, fmt.Errorf("member %s: unparseable %s", id.Host, AttrAuthPort)
		}
		id.AuthPort = port
	}
	if _, ok := member[AttrAcctPort]; ok {
		port, ok := member.Int(AttrAcctPort)
		if !ok {
			return id, fmt.Errorf("member %s: unparseable %s", id.Host, AttrAcctPort)
		}
		id.AcctPort = port
	}
	return id, nil
}

func (a *Adapter) Validate(name string, current *reconcile.Record[Group], cs *reconcile.ChangeSet) error {
	servers, ok := reconcile.Staged[[]string](cs, PropServers)
	if !ok {
		return nil
	}
	for _, s := range servers {
		if _, err := radius.ParseServerID(s); err != nil {
			return &reconcile.ValidationError{Property: PropServers, Value: s, Reason: err.Error()}
		}
	}
	return nil
}

// members renders the member list sent with Apply.
func members(servers []string) ([]device.Attributes, error) {
	out := make([]device.Attributes, 0, len(servers))
	for _, s := range servers {
		id, err := radius.ParseServerID(s)
		if err != nil {
			return nil, err
		}
		out = append(out, device.Attributes{
			AttrName:     id.Host,
			AttrAuthPort: id.AuthPort,
			AttrAcctPort: id.AcctPort,
		})
	}
	return out, nil
}

func setServers(ctx context.Context, gw device.Gateway, name string, servers []string) error {
	list, err := members(servers)
	if err != nil {
		return err
	}
	return gw.Apply(ctx, device.KindRadiusServerGroup, name, device.Attributes{AttrServers: list})
}

// Create makes the group and then sets its members when any were staged.
func (a *Adapter) Create(ctx context.Context, gw device.Gateway, d reconcile.Desired[Group], cs *reconcile.ChangeSet) (reconcile.Record[Group], error) {
	if err := gw.Create(ctx, device.KindRadiusServerGroup, d.Name, device.Attributes{AttrType: GroupType}); err != nil {
		return reconcile.Record[Group]{}, fmt.Errorf("unable to create server group %s: %w", d.Name, err)
	}

	rec := reconcile.Record[Group]{Name: d.Name, Ensure: reconcile.EnsurePresent}
	if servers, ok := reconcile.Staged[[]string](cs, PropServers); ok {
		if err := setServers(ctx, gw, d.Name, servers); err != nil {
			return reconcile.Record[Group]{}, err
		}
		rec.Props.Servers = servers
	}
	return rec, nil
}

func (a *Adapter) Destroy(ctx context.Context, gw device.Gateway, current reconcile.Record[Group]) error {
	return gw.Delete(ctx, device.KindRadiusServerGroup, current.Name, device.Attributes{AttrType: GroupType})
}

func (a *Adapter) Update(ctx context.Context, gw device.Gateway, current reconcile.Record[Group], cs *reconcile.ChangeSet) (reconcile.Record[Group], error) {
	servers, ok := reconcile.Staged[[]string](cs, PropServers)
	if !ok {
		return current, nil
	}
	if err := setServers(ctx, gw, current.Name, servers); err != nil {
		return current, err
	}
	return reconcile.Record[Group]{Name: current.Name, Ensure: reconcile.EnsurePresent, Props: Group{Servers: servers}}, nil
}
