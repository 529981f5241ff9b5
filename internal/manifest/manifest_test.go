package manifest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/netdevd/internal/device"
	"github.com/dokzlo13/netdevd/internal/reconcile"
	"github.com/dokzlo13/netdevd/internal/reconcile/iface"
)

const sample = `
network_interfaces:
  - name: Ethernet1
    enable: true
    speed: 10g
    duplex: full
    mtu: 9214
    description: uplink
  - name: Ethernet2
    enable: false

radius_servers:
  - name: 10.0.0.1
    timeout: 5
    key: ${NETDEVD_TEST_RADIUS_KEY:070E234F1F5B4A}
    key_format: 7
  - name: 10.0.0.2/1645/1646
    ensure: absent

radius_server_groups:
  - name: RAD-SG
    servers: [10.0.0.1, 10.0.0.3/1645]

snmp_notification_receivers:
  - name: 127.0.0.1
    type: traps
    version: v3
    username: snmpuser
    security: noauth
`

func TestParse(t *testing.T) {
	doc, err := Parse([]byte(sample))
	require.NoError(t, err)

	require.Len(t, doc.Interfaces, 2)
	eth1 := doc.Interfaces[0]
	assert.Equal(t, "Ethernet1", eth1.Name)
	assert.Equal(t, reconcile.EnsurePresent, eth1.Ensure)
	require.NotNil(t, eth1.Props.Enable)
	assert.Equal(t, iface.ToggleTrue, *eth1.Props.Enable)
	assert.Equal(t, "10g", *eth1.Props.Speed)
	assert.Equal(t, 9214, *eth1.Props.MTU)
	assert.Nil(t, doc.Interfaces[1].Props.MTU)
	assert.Equal(t, iface.ToggleFalse, *doc.Interfaces[1].Props.Enable)

	require.Len(t, doc.RadiusServers, 2)
	assert.Equal(t, "070E234F1F5B4A", *doc.RadiusServers[0].Props.Key)
	assert.Equal(t, reconcile.EnsureAbsent, doc.RadiusServers[1].Ensure)

	assert.Equal(t, []string{"10.0.0.1", "10.0.0.3/1645"}, doc.ServerGroups[0].Props.Servers)
	assert.Equal(t, "snmpuser", *doc.SNMPReceivers[0].Props.Username)

	assert.Equal(t, map[device.Kind]int{
		device.KindInterface:         2,
		device.KindRadiusServer:      2,
		device.KindRadiusServerGroup: 1,
		device.KindSNMPReceiver:      1,
	}, doc.Counts())
}

func TestParseEmpty(t *testing.T) {
	doc, err := Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, doc.Interfaces)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown ensure", "radius_servers:\n  - name: a\n    ensure: maybe\n", "unknown ensure value"},
		{"duplicate name", "network_interfaces:\n  - name: Ethernet1\n  - name: Ethernet1\n", "declared more than once"},
		{"missing name", "radius_server_groups:\n  - servers: [a]\n", "missing name"},
		{"unknown key", "network_interfaces:\n  - name: Ethernet1\n    colour: red\n", "colour"},
		{"wrong type", "network_interfaces:\n  - name: Ethernet1\n    mtu: big\n", "parse manifest"},
		{"lone duplex", "network_interfaces:\n  - name: Ethernet1\n    duplex: half\n", "declare speed alongside duplex"},
		{"plaintext key", "radius_servers:\n  - name: 10.0.0.1\n    key: secret\n", `radius_server "10.0.0.1": invalid key`},
		{"snmp username with v2", "snmp_notification_receivers:\n  - name: 10.0.0.9\n    version: v2\n    username: public\n", "username needs version v3"},
		{"snmp community with v3", "snmp_notification_receivers:\n  - name: 10.0.0.9\n    version: v3\n    community: public\n", "community needs version v1 or v2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseChecksOnlyPresentEntries(t *testing.T) {
	doc, err := Parse([]byte("radius_servers:\n  - name: 10.0.0.1\n    ensure: absent\n    key: secret\n"))
	require.NoError(t, err)
	require.Len(t, doc.RadiusServers, 1)

	_, err = Parse([]byte("radius_servers:\n  - name: 10.0.0.1\n    key: secret\n"))
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret")
}

func TestSourceReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	src := NewSource(path)
	ctx := context.Background()

	ifaces, err := src.Interfaces(ctx)
	require.NoError(t, err)
	assert.Empty(t, ifaces, "nothing is served before the first reload")

	require.NoError(t, src.Reload(ctx))
	ifaces, err = src.Interfaces(ctx)
	require.NoError(t, err)
	require.Len(t, ifaces, 2)
	assert.Equal(t, "Ethernet1", ifaces[0].Name)

	servers, err := src.RadiusServers(ctx)
	require.NoError(t, err)
	assert.Equal(t, reconcile.EnsureAbsent, servers[1].Ensure)

	// A broken edit keeps the previous document.
	require.NoError(t, os.WriteFile(path, []byte("network_interfaces: [\n"), 0o644))
	err = src.Reload(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), path)

	groups, err := src.ServerGroups(ctx)
	require.NoError(t, err)
	assert.Len(t, groups, 1)
	receivers, err := src.SNMPReceivers(ctx)
	require.NoError(t, err)
	assert.Len(t, receivers, 1)
}

func TestStaticSource(t *testing.T) {
	src := NewStaticSource(&Document{Interfaces: []Entry[iface.Interface]{{Name: "Ethernet5"}}})
	require.NoError(t, src.Reload(context.Background()))

	ifaces, err := src.Interfaces(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []reconcile.Desired[iface.Interface]{{Name: "Ethernet5"}}, ifaces)
}
