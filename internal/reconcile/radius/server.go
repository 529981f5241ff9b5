// Package radius reconciles RADIUS servers.
//
// A server is identified by hostname, auth port and acct port, written as
// "<hostname>/<auth_port>/<acct_port>". Every commit sends the full attribute
// bundle in one call.
package radius

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dokzlo13/netdevd/internal/device"
	"github.com/dokzlo13/netdevd/internal/reconcile"
)

const (
	DefaultAuthPort = 1812
	DefaultAcctPort = 1813

	// KeyFormatEncrypted marks a key given in the device's encrypted form.
	KeyFormatEncrypted = 7
)

// Property and raw attribute names. The gateway uses the same spelling.
const (
	PropHostname        = "hostname"
	PropAuthPort        = "auth_port"
	PropAcctPort        = "acct_port"
	PropTimeout         = "timeout"
	PropRetransmitCount = "retransmit_count"
	PropKey             = "key"
	PropKeyFormat       = "key_format"
	PropVRF             = "vrf"
)

// ServerID identifies a RADIUS server.
type ServerID struct {
	Host     string
	AuthPort int
	AcctPort int
}

// String serializes the id as "<host>/<auth_port>/<acct_port>".
func (id ServerID) String() string {
	return fmt.Sprintf("%s/%d/%d", id.Host, id.AuthPort, id.AcctPort)
}

// ParseServerID parses "<host>[/<auth_port>[/<acct_port>]]", filling missing
// ports with their defaults.
func ParseServerID(s string) (ServerID, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) > 3 || parts[0] == "" {
		return ServerID{}, fmt.Errorf("invalid radius server name %q", s)
	}

	id := ServerID{Host: parts[0], AuthPort: DefaultAuthPort, AcctPort: DefaultAcctPort}
	ports := []*int{&id.AuthPort, &id.AcctPort}
	for i, p := range parts[1:] {
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 || n > 65535 {
			return ServerID{}, fmt.Errorf("invalid port %q in radius server name %q", p, s)
		}
		*ports[i] = n
	}
	return id, nil
}

// Server holds the attributes of one RADIUS server.
type Server struct {
	Hostname        *string `json:"hostname,omitempty" yaml:"hostname,omitempty"`
	AuthPort        *int    `json:"auth_port,omitempty" yaml:"auth_port,omitempty"`
	AcctPort        *int    `json:"acct_port,omitempty" yaml:"acct_port,omitempty"`
	Timeout         *int    `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	RetransmitCount *int    `json:"retransmit_count,omitempty" yaml:"retransmit_count,omitempty"`
	Key             *string `json:"key,omitempty" yaml:"key,omitempty"`
	KeyFormat       *int    `json:"key_format,omitempty" yaml:"key_format,omitempty"`
	VRF             *string `json:"vrf,omitempty" yaml:"vrf,omitempty"`
}

// Adapter implements reconcile.Adapter for RADIUS servers.
type Adapter struct{}

// New returns the RADIUS server adapter.
func New() *Adapter {
	return &Adapter{}
}

func (a *Adapter) Kind() device.Kind {
	return device.KindRadiusServer
}

func stringField(name string, get func(Server) *string) reconcile.Field[Server] {
	return reconcile.Field[Server]{Name: name, Get: func(s Server) (any, bool) {
		if v := get(s); v != nil {
			return *v, true
		}
		return nil, false
	}}
}

func intField(name string, get func(Server) *int) reconcile.Field[Server] {
	return reconcile.Field[Server]{Name: name, Get: func(s Server) (any, bool) {
		if v := get(s); v != nil {
			return *v, true
		}
		return nil, false
	}}
}

func (a *Adapter) Fields() []reconcile.Field[Server] {
	return []reconcile.Field[Server]{
		stringField(PropHostname, func(s Server) *string { return s.Hostname }),
		intField(PropAuthPort, func(s Server) *int { return s.AuthPort }),
		intField(PropAcctPort, func(s Server) *int { return s.AcctPort }),
		intField(PropTimeout, func(s Server) *int { return s.Timeout }),
		intField(PropRetransmitCount, func(s Server) *int { return s.RetransmitCount }),
		stringField(PropKey, func(s Server) *string { return s.Key }),
		intField(PropKeyFormat, func(s Server) *int { return s.KeyFormat }),
		stringField(PropVRF, func(s Server) *string { return s.VRF }),
	}
}

// ResolveID computes the server id for a declared resource. Explicit hostname
// and port properties take precedence over the name.
func ResolveID(d reconcile.Desired[Server]) (ServerID, error) {
	id, err := ParseServerID(d.Name)
	if err != nil {
		return id, err
	}
	if d.Props.Hostname != nil && *d.Props.Hostname != "" {
		id.Host = *d.Props.Hostname
	}
	if d.Props.AuthPort != nil {
		id.AuthPort = *d.Props.AuthPort
	}
	if d.Props.AcctPort != nil {
		id.AcctPort = *d.Props.AcctPort
	}
	return id, nil
}

func (a *Adapter) Identity(d reconcile.Desired[Server]) string {
	id, err := ResolveID(d)
	if err != nil {
		return d.Name
	}
	return id.String()
}

func (a *Adapter) List(ctx context.Context, gw device.Gateway) ([]reconcile.Record[Server], error) {
	entities, err := gw.List(ctx, device.KindRadiusServer)
	if err != nil {
		return nil, err
	}

	records := make([]reconcile.Record[Server], 0, len(entities))
	for _, e := range entities {
		props, err := normalize(e.Attrs)
		if err != nil {
			return nil, fmt.Errorf("radius server %s: %w", e.ID, err)
		}
		id := ServerID{Host: *props.Hostname, AuthPort: *props.AuthPort, AcctPort: *props.AcctPort}
		records = append(records, reconcile.Record[Server]{
			Name:   id.String(),
			Ensure: reconcile.EnsurePresent,
			Props:  props,
		})
	}
	return records, nil
}

func normalize(attrs device.Attributes) (Server, error) {
	var s Server

	host := attrs.String(PropHostname)
	if host == "" {
		return s, fmt.Errorf("missing %s", PropHostname)
	}
	s.Hostname = &host

	var err error
	if s.AuthPort, err = optionalInt(attrs, PropAuthPort, DefaultAuthPort); err != nil {
		return s, err
	}
	if s.AcctPort, err = optionalInt(attrs, PropAcctPort, DefaultAcctPort); err != nil {
		return s, err
	}
	if s.Timeout, err = optionalInt(attrs, PropTimeout, 0); err != nil {
		return s, err
	}
	if s.RetransmitCount, err = optionalInt(attrs, PropRetransmitCount, 0); err != nil {
		return s, err
	}
	if s.KeyFormat, err = optionalInt(attrs, PropKeyFormat, 0); err != nil {
		return s, err
	}
	if key := attrs.String(PropKey); key != "" {
		s.Key = &key
	}
	if vrf := attrs.String(PropVRF); vrf != "" {
		s.VRF = &vrf
	}
	return s, nil
}

// optionalInt reads an int attribute. A missing attribute yields the default,
// or nil when the default is zero.
func optionalInt(attrs device.Attributes, key string, def int) (*int, error) {
	raw, ok := attrs[key]
	if !ok || raw == nil || raw == "" {
		if def == 0 {
			return nil, nil
		}
		return &def, nil
	}
	v, ok := attrs.Int(key)
	if !ok {
		return nil, fmt.Errorf("unparseable %s %v", key, raw)
	}
	return &v, nil
}

func (a *Adapter) Validate(name string, current *reconcile.Record[Server], cs *reconcile.ChangeSet) error {
	checks := []struct {
		prop     string
		min, max int
	}{
		{PropAuthPort, 1, 65535},
		{PropAcctPort, 1, 65535},
		{PropTimeout, 1, 1000},
		{PropRetransmitCount, 1, 100},
	}
	for _, c := range checks {
		if v, ok := reconcile.Staged[int](cs, c.prop); ok && (v < c.min || v > c.max) {
			return &reconcile.ValidationError{
				Property: c.prop,
				Value:    v,
				Reason:   fmt.Sprintf("must be between %d and %d", c.min, c.max),
			}
		}
	}
	if v, ok := reconcile.Staged[int](cs, PropKeyFormat); ok && v != 0 && v != KeyFormatEncrypted {
		return &reconcile.ValidationError{Property: PropKeyFormat, Value: v, Reason: "expected 0 or 7"}
	}
	if _, ok := reconcile.Staged[string](cs, PropKey); ok {
		var base Server
		if current != nil {
			base = current.Props
		}
		if props := merge(base, cs); props.KeyFormat == nil || *props.KeyFormat != KeyFormatEncrypted {
			return plaintextKeyError()
		}
	}
	return nil
}

func plaintextKeyError() error {
	return &reconcile.ValidationError{Property: PropKey, Value: "(hidden)", Reason: "the device stores keys encrypted, declare the key_format 7 form"}
}

// CheckDeclared rejects declarations that could never settle: the device
// reads every key back in its encrypted form, so a plaintext key would be
// rewritten on each cycle.
func CheckDeclared(s Server) error {
	if s.Key != nil && (s.KeyFormat == nil || *s.KeyFormat != KeyFormatEncrypted) {
		return plaintextKeyError()
	}
	return nil
}

// merge overlays staged values on props.
func merge(props Server, cs *reconcile.ChangeSet) Server {
	if v, ok := reconcile.Staged[string](cs, PropHostname); ok {
		props.Hostname = &v
	}
	if v, ok := reconcile.Staged[int](cs, PropAuthPort); ok {
		props.AuthPort = &v
	}
	if v, ok := reconcile.Staged[int](cs, PropAcctPort); ok {
		props.AcctPort = &v
	}
	if v, ok := reconcile.Staged[int](cs, PropTimeout); ok {
		props.Timeout = &v
	}
	if v, ok := reconcile.Staged[int](cs, PropRetransmitCount); ok {
		props.RetransmitCount = &v
	}
	if v, ok := reconcile.Staged[string](cs, PropKey); ok {
		props.Key = &v
	}
	if v, ok := reconcile.Staged[int](cs, PropKeyFormat); ok {
		props.KeyFormat = &v
	}
	if v, ok := reconcile.Staged[string](cs, PropVRF); ok {
		props.VRF = &v
	}
	return props
}

// Bundle renders the full attribute bundle sent to the gateway.
func Bundle(s Server) device.Attributes {
	attrs := device.Attributes{}
	if s.Hostname != nil {
		attrs[PropHostname] = *s.Hostname
	}
	if s.AuthPort != nil {
		attrs[PropAuthPort] = *s.AuthPort
	}
	if s.AcctPort != nil {
		attrs[PropAcctPort] = *s.AcctPort
	}
	if s.Timeout != nil {
		attrs[PropTimeout] = *s.Timeout
	}
	if s.RetransmitCount != nil {
		attrs[PropRetransmitCount] = *s.RetransmitCount
	}
	if s.Key != nil {
		attrs[PropKey] = *s.Key
	}
	if s.KeyFormat != nil {
		attrs[PropKeyFormat] = *s.KeyFormat
	}
	if s.VRF != nil {
		attrs[PropVRF] = *s.VRF
	}
	return attrs
}

// Create sends one bundle with the default ports filled in.
func (a *Adapter) Create(ctx context.Context, gw device.Gateway, d reconcile.Desired[Server], cs *reconcile.ChangeSet) (reconcile.Record[Server], error) {
	id, err := ResolveID(d)
	if err != nil {
		return reconcile.Record[Server]{}, &reconcile.ValidationError{Property: "name", Value: d.Name, Reason: err.Error()}
	}

	props := merge(Server{}, cs)
	props.Hostname = &id.Host
	props.AuthPort = &id.AuthPort
	props.AcctPort = &id.AcctPort

	if err := gw.Apply(ctx, device.KindRadiusServer, id.String(), Bundle(props)); err != nil {
		return reconcile.Record[Server]{}, err
	}
	return reconcile.Record[Server]{Name: id.String(), Ensure: reconcile.EnsurePresent, Props: props}, nil
}

func (a *Adapter) Destroy(ctx context.Context, gw device.Gateway, current reconcile.Record[Server]) error {
	bundle := Bundle(current.Props)
	args := device.Attributes{}
	for _, key := range []string{PropHostname, PropAuthPort, PropAcctPort, PropVRF} {
		if v, ok := bundle[key]; ok {
			args[key] = v
		}
	}
	return gw.Delete(ctx, device.KindRadiusServer, current.Name, args)
}

// Update resends the full bundle with the staged values applied.
func (a *Adapter) Update(ctx context.Context, gw device.Gateway, current reconcile.Record[Server], cs *reconcile.ChangeSet) (reconcile.Record[Server], error) {
	props := merge(current.Props, cs)
	if err := gw.Apply(ctx, device.KindRadiusServer, current.Name, Bundle(props)); err != nil {
		return current, err
	}
	return reconcile.Record[Server]{Name: current.Name, Ensure: reconcile.EnsurePresent, Props: props}, nil
}
