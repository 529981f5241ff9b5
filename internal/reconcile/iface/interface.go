// Package iface reconciles physical ethernet interfaces.
//
// Interfaces cannot be created or removed; only their attributes are managed.
// Speed and duplex share a single device command and are always sent together.
package iface

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dokzlo13/netdevd/internal/device"
	"github.com/dokzlo13/netdevd/internal/reconcile"
)

// Raw attribute names reported by and accepted from the gateway.
const (
	AttrHardware    = "hardware"
	AttrState       = "state"
	AttrSpeed       = "speed"
	AttrMTU         = "mtu"
	AttrDescription = "description"
)

// Staged property names.
const (
	PropEnable      = "enable"
	PropSpeed       = "speed"
	PropDuplex      = "duplex"
	PropMTU         = "mtu"
	PropDescription = "description"
)

// Device command values for the admin state.
const (
	StateShutdown   = "shutdown"
	StateNoShutdown = "no shutdown"
)

// Combined speed/duplex defaults used when only one of the pair is known.
const (
	DefaultSpeed  = "auto"
	DefaultDuplex = "full"
)

// Toggle is a boolean-like declared value, normally "true" or "false".
// Anything else is rejected when committed.
type Toggle string

const (
	ToggleTrue  Toggle = "true"
	ToggleFalse Toggle = "false"
)

// Interface holds the managed attributes of an ethernet interface.
type Interface struct {
	Enable      *Toggle `json:"enable,omitempty" yaml:"enable,omitempty"`
	Speed       *string `json:"speed,omitempty" yaml:"speed,omitempty"`
	Duplex      *string `json:"duplex,omitempty" yaml:"duplex,omitempty"`
	MTU         *int    `json:"mtu,omitempty" yaml:"mtu,omitempty"`
	Description *string `json:"description,omitempty" yaml:"description,omitempty"`
}

// speedMbps maps declared speeds to the forced-speed prefix used by EOS.
var speedMbps = map[string]string{
	"10m":  "10",
	"100m": "100",
	"1g":   "1000",
	"10g":  "10000",
	"25g":  "25000",
	"40g":  "40000",
	"50g":  "50000",
	"56g":  "56000",
	"100g": "100000",
}

var duplexValues = map[string]bool{"auto": true, "full": true, "half": true}

// Adapter implements reconcile.Adapter for interfaces.
type Adapter struct{}

// New returns the interface adapter.
func New() *Adapter {
	return &Adapter{}
}

func (a *Adapter) Kind() device.Kind {
	return device.KindInterface
}

func (a *Adapter) Fields() []reconcile.Field[Interface] {
	return []reconcile.Field[Interface]{
		{Name: PropEnable, Get: func(i Interface) (any, bool) {
			if i.Enable == nil {
				return nil, false
			}
			return *i.Enable, true
		}},
		{Name: PropSpeed, Get: func(i Interface) (any, bool) {
			if i.Speed == nil {
				return nil, false
			}
			return *i.Speed, true
		}},
		{Name: PropDuplex, Get: func(i Interface) (any, bool) {
			// duplex carries no meaning while the speed is negotiated
			if i.Duplex == nil || (i.Speed != nil && *i.Speed == DefaultSpeed) {
				return nil, false
			}
			return *i.Duplex, true
		}},
		{Name: PropMTU, Get: func(i Interface) (any, bool) {
			if i.MTU == nil {
				return nil, false
			}
			return *i.MTU, true
		}},
		{Name: PropDescription, Get: func(i Interface) (any, bool) {
			if i.Description == nil {
				return nil, false
			}
			return *i.Description, true
		}},
	}
}

func (a *Adapter) Identity(d reconcile.Desired[Interface]) string {
	return d.Name
}

// List returns ethernet interfaces only.
func (a *Adapter) List(ctx context.Context, gw device.Gateway) ([]reconcile.Record[Interface], error) {
	entities, err := gw.List(ctx, device.KindInterface)
	if err != nil {
		return nil, err
	}

	records := make([]reconcile.Record[Interface], 0, len(entities))
	for _, e := range entities {
		if e.Attrs.String(AttrHardware) != "ethernet" {
			continue
		}
		props, err := normalize(e.Attrs)
		if err != nil {
			return nil, fmt.Errorf("interface %s: %w", e.ID, err)
		}
		records = append(records, reconcile.Record[Interface]{
			Name:   e.ID,
			Ensure: reconcile.EnsurePresent,
			Props:  props,
		})
	}
	return records, nil
}

func normalize(attrs device.Attributes) (Interface, error) {
	var i Interface

	enable := ToggleTrue
	if attrs.String(AttrState) == StateShutdown {
		enable = ToggleFalse
	}
	i.Enable = &enable

	speed, duplex, err := ParseSpeed(attrs.String(AttrSpeed))
	if err != nil {
		return i, err
	}
	i.Speed = &speed
	i.Duplex = &duplex

	if _, ok := attrs[AttrMTU]; ok {
		mtu, ok := attrs.Int(AttrMTU)
		if !ok {
			return i, fmt.Errorf("unparseable mtu %v", attrs[AttrMTU])
		}
		i.MTU = &mtu
	}

	description := attrs.String(AttrDescription)
	i.Description = &description

	return i, nil
}

// ParseSpeed converts a device speed setting such as "forced 1000full" or
// "auto" into declared speed and duplex values. An empty setting is auto.
func ParseSpeed(setting string) (speed, duplex string, err error) {
	setting = strings.TrimSpace(setting)
	if setting == "" || setting == "auto" {
		return DefaultSpeed, "auto", nil
	}

	token := strings.TrimSpace(strings.TrimPrefix(setting, "forced"))
	for _, d := range []string{"full", "half"} {
		if !strings.HasSuffix(token, d) {
			continue
		}
		mbps := strings.TrimSuffix(token, d)
		for name, prefix := range speedMbps {
			if prefix == mbps {
				return name, d, nil
			}
		}
	}
	return "", "", fmt.Errorf("unrecognized speed setting %q", setting)
}

// SpeedSetting renders the device command value for a speed and duplex pair.
func SpeedSetting(speed, duplex string) string {
	if speed == DefaultSpeed {
		return "auto"
	}
	return "forced " + speedMbps[speed] + duplex
}

func (a *Adapter) Validate(name string, current *reconcile.Record[Interface], cs *reconcile.ChangeSet) error {
	if v, ok := cs.Get(PropEnable); ok {
		if _, err := enableCommand(v); err != nil {
			return &reconcile.ValidationError{
				Property: PropEnable,
				Value:    v,
				Reason:   "expected true or false",
			}
		}
	}

	if speed, ok := reconcile.Staged[string](cs, PropSpeed); ok {
		if _, known := speedMbps[speed]; !known && speed != DefaultSpeed {
			return &reconcile.ValidationError{Property: PropSpeed, Value: speed, Reason: "unknown speed"}
		}
	}

	if duplex, ok := reconcile.Staged[string](cs, PropDuplex); ok {
		if !duplexValues[duplex] {
			return &reconcile.ValidationError{Property: PropDuplex, Value: duplex, Reason: "expected auto, full or half"}
		}
	}

	if cs.Has(PropSpeed) || cs.Has(PropDuplex) {
		var props *Interface
		if current != nil {
			props = &current.Props
		}
		speed, duplex := resolveSpeed(props, cs)
		if speed != DefaultSpeed && duplex == "auto" {
			return &reconcile.ValidationError{Property: PropDuplex, Value: duplex, Reason: "a forced speed needs full or half duplex"}
		}
		if speed == DefaultSpeed && cs.Has(PropDuplex) && !cs.Has(PropSpeed) {
			return &reconcile.ValidationError{Property: PropDuplex, Value: duplex, Reason: "duplex needs a forced speed"}
		}
	}

	if mtu, ok := reconcile.Staged[int](cs, PropMTU); ok && mtu <= 0 {
		return &reconcile.ValidationError{Property: PropMTU, Value: mtu, Reason: "must be positive"}
	}
	return nil
}

// enableCommand translates an enable value to the admin state command.
func enableCommand(v any) (string, error) {
	switch fmt.Sprint(v) {
	case string(ToggleTrue):
		return StateNoShutdown, nil
	case string(ToggleFalse):
		return StateShutdown, nil
	default:
		return "", fmt.Errorf("unknown enable value=%v expected true or false", v)
	}
}

// CheckDeclared rejects declarations whose validity depends on the device.
// A lone duplex is only meaningful while the device speed is forced.
func CheckDeclared(i Interface) error {
	if i.Duplex != nil && i.Speed == nil {
		return &reconcile.ValidationError{Property: PropDuplex, Value: *i.Duplex, Reason: "declare speed alongside duplex"}
	}
	return nil
}

// resolveSpeed combines staged speed/duplex with the current values, falling
// back to the auto/full default pair.
func resolveSpeed(current *Interface, cs *reconcile.ChangeSet) (speed, duplex string) {
	speed, ok := reconcile.Staged[string](cs, PropSpeed)
	if !ok {
		speed = DefaultSpeed
		if current != nil && current.Speed != nil {
			speed = *current.Speed
		}
	}

	duplex, ok = reconcile.Staged[string](cs, PropDuplex)
	if !ok {
		duplex = DefaultDuplex
		if current != nil && current.Duplex != nil && *current.Duplex != "auto" {
			duplex = *current.Duplex
		}
	}
	return speed, duplex
}

func (a *Adapter) Create(ctx context.Context, gw device.Gateway, d reconcile.Desired[Interface], cs *reconcile.ChangeSet) (reconcile.Record[Interface], error) {
	return reconcile.Record[Interface]{}, fmt.Errorf("interface %s does not exist: %w", d.Name, reconcile.ErrUnsupported)
}

func (a *Adapter) Destroy(ctx context.Context, gw device.Gateway, current reconcile.Record[Interface]) error {
	return fmt.Errorf("interface %s cannot be removed: %w", current.Name, reconcile.ErrUnsupported)
}

// Update sends enable, then speed and duplex together, then mtu, then
// description. Properties that were not staged are not sent.
func (a *Adapter) Update(ctx context.Context, gw device.Gateway, current reconcile.Record[Interface], cs *reconcile.ChangeSet) (reconcile.Record[Interface], error) {
	name := current.Name
	next := current.Props

	if v, ok := cs.Get(PropEnable); ok {
		cmd, err := enableCommand(v)
		if err != nil {
			return current, err
		}
		if err := gw.Set(ctx, device.KindInterface, name, AttrState, cmd); err != nil {
			return current, err
		}
		enable := Toggle(fmt.Sprint(v))
		next.Enable = &enable
	}

	if cs.Has(PropSpeed) || cs.Has(PropDuplex) {
		speed, duplex := resolveSpeed(&current.Props, cs)
		if err := gw.Set(ctx, device.KindInterface, name, AttrSpeed, SpeedSetting(speed, duplex)); err != nil {
			return current, err
		}
		if speed == DefaultSpeed {
			duplex = "auto"
		}
		next.Speed = &speed
		next.Duplex = &duplex
	}

	if mtu, ok := reconcile.Staged[int](cs, PropMTU); ok {
		if err := gw.Set(ctx, device.KindInterface, name, AttrMTU, strconv.Itoa(mtu)); err != nil {
			return current, err
		}
		next.MTU = &mtu
	}

	if description, ok := reconcile.Staged[string](cs, PropDescription); ok {
		if err := gw.Set(ctx, device.KindInterface, name, AttrDescription, description); err != nil {
			return current, err
		}
		next.Description = &description
	}

	return reconcile.Record[Interface]{Name: name, Ensure: reconcile.EnsurePresent, Props: next}, nil
}
