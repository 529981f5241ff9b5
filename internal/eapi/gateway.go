package eapi

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/netdevd/internal/device"
)

// Read commands.
const (
	cmdShowInterfaces  = "show interfaces"
	cmdInterfaceConfig = "show running-config all section ^interface"
	cmdRadiusConfig    = "show running-config all section radius-server"
	cmdServerGroups    = "show running-config section aaa group"
	cmdSNMPHosts       = "show running-config section snmp-server host"
	cmdShowVersion     = "show version"
)

const (
	interfaceDisabled  = "disabled"
	stateShutdown      = "shutdown"
	stateNoShutdown    = "no shutdown"
	defaultServerGroup = "radius"
)

// Gateway implements device.Gateway for EOS switches. Entity ids are the
// record keys the adapters use: interface name, "<host>/<auth>/<acct>" for
// RADIUS servers, group name, and "<host>:<user>:<port>" for SNMP receivers.
type Gateway struct {
	client *Client
}

// NewGateway creates a gateway over client.
func NewGateway(client *Client) *Gateway {
	return &Gateway{client: client}
}

// Ping checks that the switch answers and the credentials are accepted.
func (g *Gateway) Ping(ctx context.Context) error {
	var version struct {
		ModelName string `json:"modelName"`
		Version   string `json:"version"`
	}
	if err := g.client.Show(ctx, cmdShowVersion, &version); err != nil {
		return err
	}
	log.Debug().Str("model", version.ModelName).Str("version", version.Version).Msg("Switch reachable")
	return nil
}

func callError(kind device.Kind, op, id string, err error) error {
	if err == nil {
		return nil
	}
	return &device.CallError{Kind: kind, Op: op, ID: id, Err: err}
}

// List implements device.Gateway.
func (g *Gateway) List(ctx context.Context, kind device.Kind) ([]device.Entity, error) {
	var (
		entities []device.Entity
		err      error
	)
	switch kind {
	case device.KindInterface:
		entities, err = g.listInterfaces(ctx)
	case device.KindRadiusServer:
		entities, err = g.listText(ctx, cmdRadiusConfig, parseRadiusHosts)
	case device.KindRadiusServerGroup:
		entities, err = g.listText(ctx, cmdServerGroups, parseServerGroups)
	case device.KindSNMPReceiver:
		entities, err = g.listText(ctx, cmdSNMPHosts, parseSNMPHosts)
	default:
		err = device.ErrUnsupported
	}
	if err != nil {
		return nil, callError(kind, device.OpList, "", err)
	}
	return entities, nil
}

func (g *Gateway) listText(ctx context.Context, cmd string, parse func(string) ([]device.Entity, error)) ([]device.Entity, error) {
	text, err := g.client.ShowText(ctx, cmd)
	if err != nil {
		return nil, err
	}
	entities, err := parse(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", device.ErrProtocol, err)
	}
	return entities, nil
}

type showInterfaces struct {
	Interfaces map[string]struct {
		Name            string `json:"name"`
		Hardware        string `json:"hardware"`
		InterfaceStatus string `json:"interfaceStatus"`
		MTU             int    `json:"mtu"`
		Description     string `json:"description"`
	} `json:"interfaces"`
}

func (g *Gateway) listInterfaces(ctx context.Context) ([]device.Entity, error) {
	var status showInterfaces
	if err := g.client.Show(ctx, cmdShowInterfaces, &status); err != nil {
		return nil, err
	}
	text, err := g.client.ShowText(ctx, cmdInterfaceConfig)
	if err != nil {
		return nil, err
	}
	speeds := parseSpeedSettings(text)

	names := make([]string, 0, len(status.Interfaces))
	for name := range status.Interfaces {
		names = append(names, name)
	}
	sort.Strings(names)

	entities := make([]device.Entity, 0, len(names))
	for _, name := range names {
		intf := status.Interfaces[name]
		state := stateNoShutdown
		if intf.InterfaceStatus == interfaceDisabled {
			state = stateShutdown
		}
		speed, ok := speeds[name]
		if !ok {
			speed = "auto"
		}
		entities = append(entities, device.Entity{ID: name, Attrs: device.Attributes{
			attrHardware:    intf.Hardware,
			attrState:       state,
			attrSpeed:       speed,
			attrMTU:         intf.MTU,
			attrDescription: intf.Description,
		}})
	}
	return entities, nil
}

// Set implements device.Gateway. Only interfaces take single-attribute writes.
func (g *Gateway) Set(ctx context.Context, kind device.Kind, id, attr, value string) error {
	if kind != device.KindInterface {
		return callError(kind, device.OpSet, id, device.ErrUnsupported)
	}

	var line string
	switch attr {
	case attrState:
		if value != stateShutdown && value != stateNoShutdown {
			return callError(kind, device.OpSet, id, fmt.Errorf("%w: state %q", device.ErrUnsupported, value))
		}
		line = value
	case attrSpeed:
		line = "speed " + value
	case attrMTU:
		line = "mtu " + value
	case attrDescription:
		line = "description " + value
		if value == "" {
			line = "no description"
		}
	default:
		return callError(kind, device.OpSet, id, fmt.Errorf("%w: attribute %q", device.ErrUnsupported, attr))
	}

	return callError(kind, device.OpSet, id, g.client.Configure(ctx, "interface "+id, line))
}

// Create implements device.Gateway.
func (g *Gateway) Create(ctx context.Context, kind device.Kind, id string, args device.Attributes) error {
	switch kind {
	case device.KindRadiusServerGroup:
		groupType := args.String(attrType)
		if groupType == "" {
			groupType = defaultServerGroup
		}
		return callError(kind, device.OpCreate, id, g.client.Configure(ctx, fmt.Sprintf("aaa group server %s %s", groupType, id)))
	case device.KindRadiusServer, device.KindSNMPReceiver:
		return g.Apply(ctx, kind, id, args)
	default:
		return callError(kind, device.OpCreate, id, device.ErrUnsupported)
	}
}

// Delete implements device.Gateway.
func (g *Gateway) Delete(ctx context.Context, kind device.Kind, id string, args device.Attributes) error {
	var cmd string
	switch kind {
	case device.KindRadiusServer:
		cmd = "no " + radiusHostLine(args, false)
	case device.KindRadiusServerGroup:
		groupType := args.String(attrType)
		if groupType == "" {
			groupType = defaultServerGroup
		}
		cmd = fmt.Sprintf("no aaa group server %s %s", groupType, id)
	case device.KindSNMPReceiver:
		cmd = "no " + snmpHostLine(args)
	default:
		return callError(kind, device.OpDelete, id, device.ErrUnsupported)
	}
	return callError(kind, device.OpDelete, id, g.client.Configure(ctx, cmd))
}

// Apply implements device.Gateway. The bundle is rendered as one configuration
// session so the switch never sees a half-written entry.
func (g *Gateway) Apply(ctx context.Context, kind device.Kind, id string, attrs device.Attributes) error {
	var cmds []string
	switch kind {
	case device.KindRadiusServer:
		hosts, err := g.listText(ctx, cmdRadiusConfig, parseRadiusHosts)
		if err != nil {
			return callError(kind, device.OpApply, id, err)
		}
		// The vrf is part of the host entry, so moving a server adds a line.
		for _, h := range hosts {
			if h.ID == id && h.Attrs.String(attrVRF) != attrs.String(attrVRF) {
				cmds = append(cmds, "no "+radiusHostLine(h.Attrs, false))
			}
		}
		cmds = append(cmds, radiusHostLine(attrs, true))

	case device.KindRadiusServerGroup:
		groups, err := g.listText(ctx, cmdServerGroups, parseServerGroups)
		if err != nil {
			return callError(kind, device.OpApply, id, err)
		}
		groupType := defaultServerGroup
		var current []device.Attributes
		for _, grp := range groups {
			if grp.ID == id {
				groupType = grp.Attrs.String(attrType)
				current = grp.Attrs.List(attrServers)
				break
			}
		}
		cmds = append(cmds, fmt.Sprintf("aaa group server %s %s", groupType, id))
		for _, m := range current {
			cmds = append(cmds, "no "+groupMemberLine(m))
		}
		for _, m := range attrs.List(attrServers) {
			cmds = append(cmds, groupMemberLine(m))
		}
		cmds = append(cmds, "exit")

	case device.KindSNMPReceiver:
		hosts, err := g.listText(ctx, cmdSNMPHosts, parseSNMPHosts)
		if err != nil {
			return callError(kind, device.OpApply, id, err)
		}
		// A receiver line is replaced, not amended.
		for _, h := range hosts {
			if h.ID == id {
				cmds = append(cmds, "no "+snmpHostLine(h.Attrs))
			}
		}
		cmds = append(cmds, snmpHostLine(attrs))

	default:
		return callError(kind, device.OpApply, id, device.ErrUnsupported)
	}

	return callError(kind, device.OpApply, id, g.client.Configure(ctx, cmds...))
}
