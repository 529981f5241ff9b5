// Package snmp reconciles SNMP notification receivers.
//
// Receivers are declared by host name. On the device several receivers may
// share a host, so records are keyed by "<host>:<username-or-community>:<port>"
// and a declared receiver binds to the record with the same full key.
package snmp

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/gosnmp/gosnmp"

	"github.com/dokzlo13/netdevd/internal/device"
	"github.com/dokzlo13/netdevd/internal/reconcile"
)

// DefaultPort is the standard SNMP trap port.
const DefaultPort = 162

// Property and raw attribute names.
const (
	PropHost      = "host"
	PropType      = "type"
	PropVersion   = "version"
	PropUsername  = "username"
	PropCommunity = "community"
	PropPort      = "port"
	PropSecurity  = "security"
	PropVRF       = "vrf"
)

// Notification types.
const (
	TypeTraps   = "traps"
	TypeInforms = "informs"
)

var versions = map[string]gosnmp.SnmpVersion{
	"v1": gosnmp.Version1,
	"v2": gosnmp.Version2c,
	"v3": gosnmp.Version3,
}

var securityLevels = map[string]gosnmp.SnmpV3MsgFlags{
	"noauth": gosnmp.NoAuthNoPriv,
	"auth":   gosnmp.AuthNoPriv,
	"priv":   gosnmp.AuthPriv,
}

// NotificationPDU returns the PDU type the device sends to a receiver of the
// given version and notification type. There is no v1 inform.
func NotificationPDU(version gosnmp.SnmpVersion, typ string) (gosnmp.PDUType, bool) {
	switch {
	case typ == TypeTraps && version == gosnmp.Version1:
		return gosnmp.Trap, true
	case typ == TypeTraps:
		return gosnmp.SNMPv2Trap, true
	case typ == TypeInforms && version != gosnmp.Version1:
		return gosnmp.InformRequest, true
	}
	return 0, false
}

// DeviceVersion returns the version token the device uses ("1", "2c", "3").
func DeviceVersion(v gosnmp.SnmpVersion) string {
	return v.String()
}

// parseDeviceVersion maps a device version token to its declared spelling.
func parseDeviceVersion(token string) (string, error) {
	token = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(token)), "v")
	for name, v := range versions {
		if DeviceVersion(v) == token || (token == "2" && v == gosnmp.Version2c) {
			return name, nil
		}
	}
	return "", fmt.Errorf("unknown snmp version %q", token)
}

// ReceiverID identifies a receiver entry on the device.
type ReceiverID struct {
	Host string
	User string
	Port int
}

// String serializes the id as "<host>:<user>:<port>".
func (id ReceiverID) String() string {
	return id.Host + ":" + id.User + ":" + strconv.Itoa(id.Port)
}

// Receiver holds the attributes of one notification receiver.
type Receiver struct {
	Host      *string `json:"host,omitempty" yaml:"host,omitempty"`
	Type      *string `json:"type,omitempty" yaml:"type,omitempty"`
	Version   *string `json:"version,omitempty" yaml:"version,omitempty"`
	Username  *string `json:"username,omitempty" yaml:"username,omitempty"`
	Community *string `json:"community,omitempty" yaml:"community,omitempty"`
	Port      *int    `json:"port,omitempty" yaml:"port,omitempty"`
	Security  *string `json:"security,omitempty" yaml:"security,omitempty"`
	VRF       *string `json:"vrf,omitempty" yaml:"vrf,omitempty"`
}

// ID returns the receiver identity with the default port filled in.
func (r Receiver) ID() ReceiverID {
	id := ReceiverID{Port: DefaultPort}
	if r.Host != nil {
		id.Host = *r.Host
	}
	if r.Username != nil && *r.Username != "" {
		id.User = *r.Username
	} else if r.Community != nil {
		id.User = *r.Community
	}
	if r.Port != nil {
		id.Port = *r.Port
	}
	return id
}

// Adapter implements reconcile.Adapter for notification receivers.
type Adapter struct{}

// New returns the receiver adapter.
func New() *Adapter {
	return &Adapter{}
}

func (a *Adapter) Kind() device.Kind {
	return device.KindSNMPReceiver
}

func optional[V any](name string, get func(Receiver) *V) reconcile.Field[Receiver] {
	return reconcile.Field[Receiver]{Name: name, Get: func(r Receiver) (any, bool) {
		if v := get(r); v != nil {
			return *v, true
		}
		return nil, false
	}}
}

func (a *Adapter) Fields() []reconcile.Field[Receiver] {
	return []reconcile.Field[Receiver]{
		optional(PropType, func(r Receiver) *string { return r.Type }),
		optional(PropVersion, func(r Receiver) *string { return r.Version }),
		optional(PropUsername, func(r Receiver) *string { return r.Username }),
		optional(PropCommunity, func(r Receiver) *string { return r.Community }),
		optional(PropPort, func(r Receiver) *int { return r.Port }),
		optional(PropSecurity, func(r Receiver) *string { return r.Security }),
		optional(PropVRF, func(r Receiver) *string { return r.VRF }),
	}
}

func declaredProps(d reconcile.Desired[Receiver]) Receiver {
	props := d.Props
	if props.Host == nil || *props.Host == "" {
		host := d.Name
		props.Host = &host
	}
	return props
}

func (a *Adapter) Identity(d reconcile.Desired[Receiver]) string {
	return declaredProps(d).ID().String()
}

func (a *Adapter) List(ctx context.Context, gw device.Gateway) ([]reconcile.Record[Receiver], error) {
	entities, err := gw.List(ctx, device.KindSNMPReceiver)
	if err != nil {
		return nil, err
	}

	records := make([]reconcile.Record[Receiver], 0, len(entities))
	for _, e := range entities {
		props, err := normalize(e.Attrs)
		if err != nil {
			return nil, fmt.Errorf("snmp receiver %s: %w", e.ID, err)
		}
		records = append(records, reconcile.Record[Receiver]{
			Name:   props.ID().String(),
			Ensure: reconcile.EnsurePresent,
			Props:  props,
		})
	}
	return records, nil
}

func normalize(attrs device.Attributes) (Receiver, error) {
	var r Receiver

	host := attrs.String(PropHost)
	if host == "" {
		return r, fmt.Errorf("missing %s", PropHost)
	}
	r.Host = &host

	port := DefaultPort
	if _, ok := attrs[PropPort]; ok {
		p, ok := attrs.Int(PropPort)
		if !ok {
			return r, fmt.Errorf("unparseable %s %v", PropPort, attrs[PropPort])
		}
		port = p
	}
	r.Port = &port

	if v := attrs.String(PropVersion); v != "" {
		version, err := parseDeviceVersion(v)
		if err != nil {
			return r, err
		}
		r.Version = &version
	}

	for key, dst := range map[string]**string{
		PropType:      &r.Type,
		PropUsername:  &r.Username,
		PropCommunity: &r.Community,
		PropSecurity:  &r.Security,
		PropVRF:       &r.VRF,
	} {
		if v := attrs.String(key); v != "" {
			*dst = &v
		}
	}
	return r, nil
}

func merge(props Receiver, cs *reconcile.ChangeSet) Receiver {
	for key, dst := range map[string]**string{
		PropType:      &props.Type,
		PropVersion:   &props.Version,
		PropUsername:  &props.Username,
		PropCommunity: &props.Community,
		PropSecurity:  &props.Security,
		PropVRF:       &props.VRF,
	} {
		if v, ok := reconcile.Staged[string](cs, key); ok {
			*dst = &v
		}
	}
	if v, ok := reconcile.Staged[int](cs, PropPort); ok {
		props.Port = &v
	}
	return props
}

func (a *Adapter) Validate(name string, current *reconcile.Record[Receiver], cs *reconcile.ChangeSet) error {
	if v, ok := reconcile.Staged[string](cs, PropType); ok && v != TypeTraps && v != TypeInforms {
		return &reconcile.ValidationError{Property: PropType, Value: v, Reason: "expected traps or informs"}
	}
	if v, ok := reconcile.Staged[string](cs, PropVersion); ok {
		if _, known := versions[v]; !known {
			return &reconcile.ValidationError{Property: PropVersion, Value: v, Reason: "expected v1, v2 or v3"}
		}
	}
	if v, ok := reconcile.Staged[string](cs, PropSecurity); ok {
		if _, known := securityLevels[v]; !known {
			return &reconcile.ValidationError{Property: PropSecurity, Value: v, Reason: "expected noauth, auth or priv"}
		}
	}
	if v, ok := reconcile.Staged[int](cs, PropPort); ok && (v < 1 || v > 65535) {
		return &reconcile.ValidationError{Property: PropPort, Value: v, Reason: "must be between 1 and 65535"}
	}

	var base Receiver
	if current != nil {
		base = current.Props
	}
	props := merge(base, cs)

	// An omitted version is v1 on the device.
	version := gosnmp.Version1
	if props.Version != nil {
		version = versions[*props.Version]
	}
	if props.Type != nil {
		if _, ok := NotificationPDU(version, *props.Type); !ok {
			return &reconcile.ValidationError{Property: PropType, Value: *props.Type, Reason: "informs need version v2 or v3"}
		}
	}
	if props.Security != nil && version != gosnmp.Version3 {
		return &reconcile.ValidationError{Property: PropSecurity, Value: *props.Security, Reason: "security level needs version v3"}
	}

	username, _ := reconcile.Staged[string](cs, PropUsername)
	community, _ := reconcile.Staged[string](cs, PropCommunity)
	return checkUser(version, username, community)
}

// checkUser matches the user token to the version. The device reads the
// token back as a username for v3 and as a community otherwise.
func checkUser(version gosnmp.SnmpVersion, username, community string) error {
	if username != "" && version != gosnmp.Version3 {
		return &reconcile.ValidationError{Property: PropUsername, Value: username, Reason: "username needs version v3, use community for v1 and v2"}
	}
	if community != "" && version == gosnmp.Version3 {
		return &reconcile.ValidationError{Property: PropCommunity, Value: community, Reason: "community needs version v1 or v2, use username for v3"}
	}
	return nil
}

// CheckDeclared rejects a user token declared under the wrong property for
// its version. Unknown versions are left to Validate.
func CheckDeclared(r Receiver) error {
	version := gosnmp.Version1
	if r.Version != nil {
		v, known := versions[*r.Version]
		if !known {
			return nil
		}
		version = v
	}
	var username, community string
	if r.Username != nil {
		username = *r.Username
	}
	if r.Community != nil {
		community = *r.Community
	}
	return checkUser(version, username, community)
}

// Bundle renders the full attribute bundle sent to the gateway.
func Bundle(r Receiver) device.Attributes {
	attrs := device.Attributes{}
	if r.Host != nil {
		attrs[PropHost] = *r.Host
	}
	if r.Type != nil {
		attrs[PropType] = *r.Type
	}
	if r.Version != nil {
		attrs[PropVersion] = DeviceVersion(versions[*r.Version])
	}
	if r.Username != nil {
		attrs[PropUsername] = *r.Username
	}
	if r.Community != nil {
		attrs[PropCommunity] = *r.Community
	}
	if r.Port != nil {
		attrs[PropPort] = *r.Port
	}
	if r.Security != nil {
		attrs[PropSecurity] = *r.Security
	}
	if r.VRF != nil {
		attrs[PropVRF] = *r.VRF
	}
	return attrs
}

// Create sends the whole receiver in one call with the default port filled in.
func (a *Adapter) Create(ctx context.Context, gw device.Gateway, d reconcile.Desired[Receiver], cs *reconcile.ChangeSet) (reconcile.Record[Receiver], error) {
	props := merge(Receiver{Host: declaredProps(d).Host}, cs)
	if props.Port == nil {
		port := DefaultPort
		props.Port = &port
	}
	if props.ID().User == "" {
		return reconcile.Record[Receiver]{}, &reconcile.ValidationError{Property: PropUsername, Value: "", Reason: "username or community is required"}
	}

	key := props.ID().String()
	if err := gw.Apply(ctx, device.KindSNMPReceiver, key, Bundle(props)); err != nil {
		return reconcile.Record[Receiver]{}, err
	}
	return reconcile.Record[Receiver]{Name: key, Ensure: reconcile.EnsurePresent, Props: props}, nil
}

func (a *Adapter) Destroy(ctx context.Context, gw device.Gateway, current reconcile.Record[Receiver]) error {
	return gw.Delete(ctx, device.KindSNMPReceiver, current.Name, Bundle(current.Props))
}

// Update resends the whole receiver with the staged values applied.
func (a *Adapter) Update(ctx context.Context, gw device.Gateway, current reconcile.Record[Receiver], cs *reconcile.ChangeSet) (reconcile.Record[Receiver], error) {
	props := merge(current.Props, cs)
	if err := gw.Apply(ctx, device.KindSNMPReceiver, current.Name, Bundle(props)); err != nil {
		return current, err
	}
	return reconcile.Record[Receiver]{Name: current.Name, Ensure: reconcile.EnsurePresent, Props: props}, nil
}
