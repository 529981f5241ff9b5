package iface

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/netdevd/internal/device"
	"github.com/dokzlo13/netdevd/internal/reconcile"
)

func strPtr(s string) *string { return &s }

func intPtr(v int) *int { return &v }

func togglePtr(t Toggle) *Toggle { return &t }

func seedSwitch() *device.MemoryGateway {
	gw := device.NewMemoryGateway()
	gw.Seed(device.KindInterface,
		device.Entity{ID: "Ethernet1", Attrs: device.Attributes{
			"hardware": "ethernet", "state": "no shutdown", "speed": "auto", "mtu": 1500, "description": "",
		}},
		device.Entity{ID: "Ethernet2", Attrs: device.Attributes{
			"hardware": "ethernet", "state": "shutdown", "speed": "forced 1000half", "mtu": 9214, "description": "uplink",
		}},
		device.Entity{ID: "Management1", Attrs: device.Attributes{
			"hardware": "ethernet", "state": "no shutdown", "speed": "auto", "mtu": 1500,
		}},
		device.Entity{ID: "Vlan10", Attrs: device.Attributes{
			"hardware": "vlan", "state": "no shutdown", "mtu": 1500,
		}},
	)
	return gw
}

func TestListFiltersAndNormalizes(t *testing.T) {
	records, err := New().List(context.Background(), seedSwitch())
	require.NoError(t, err)
	require.Len(t, records, 3)

	eth2 := records[1]
	assert.Equal(t, "Ethernet2", eth2.Name)
	assert.Equal(t, reconcile.EnsurePresent, eth2.Ensure)
	assert.Equal(t, ToggleFalse, *eth2.Props.Enable)
	assert.Equal(t, "1g", *eth2.Props.Speed)
	assert.Equal(t, "half", *eth2.Props.Duplex)
	assert.Equal(t, 9214, *eth2.Props.MTU)
	assert.Equal(t, "uplink", *eth2.Props.Description)

	for _, r := range records {
		assert.NotEqual(t, "Vlan10", r.Name)
	}
}

func TestListRejectsUnknownSpeed(t *testing.T) {
	gw := device.NewMemoryGateway()
	gw.Seed(device.KindInterface, device.Entity{ID: "Ethernet1", Attrs: device.Attributes{
		"hardware": "ethernet", "speed": "forced 7g",
	}})

	_, err := reconcile.NewDiscoverer[Interface](New(), gw).Discover(context.Background())
	var de *reconcile.DiscoveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, device.KindInterface, de.Kind)
}

func TestParseSpeed(t *testing.T) {
	tests := []struct {
		setting string
		speed   string
		duplex  string
		wantErr bool
	}{
		{setting: "", speed: "auto", duplex: "auto"},
		{setting: "auto", speed: "auto", duplex: "auto"},
		{setting: "forced 1000full", speed: "1g", duplex: "full"},
		{setting: "forced 100half", speed: "100m", duplex: "half"},
		{setting: "forced 100000full", speed: "100g", duplex: "full"},
		{setting: "10000full", speed: "10g", duplex: "full"},
		{setting: "forced 1000", wantErr: true},
		{setting: "sideways", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.setting, func(t *testing.T) {
			speed, duplex, err := ParseSpeed(tt.setting)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.speed, speed)
			assert.Equal(t, tt.duplex, duplex)
			assert.Equal(t, tt.setting == "" || tt.setting == "auto", SpeedSetting(speed, duplex) == "auto")
		})
	}
}

func currentRecord(t *testing.T, gw *device.MemoryGateway, name string) reconcile.Record[Interface] {
	t.Helper()
	records, err := New().List(context.Background(), gw)
	require.NoError(t, err)
	for _, r := range records {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("interface %s not found", name)
	return reconcile.Record[Interface]{}
}

func TestUpdateSendsSpeedAndDuplexTogether(t *testing.T) {
	gw := seedSwitch()
	current := currentRecord(t, gw, "Ethernet2")

	cs := reconcile.NewChangeSet()
	cs.Stage(PropSpeed, "10g")

	rec, err := New().Update(context.Background(), gw, current, cs)
	require.NoError(t, err)

	writes := gw.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, device.OpSet, writes[0].Op)
	assert.Equal(t, "speed", writes[0].Attr)
	assert.Equal(t, "forced 10000half", writes[0].Value)

	assert.Equal(t, "10g", *rec.Props.Speed)
	assert.Equal(t, "half", *rec.Props.Duplex)
}

func TestUpdateDuplexOnlyKeepsCurrentSpeed(t *testing.T) {
	gw := seedSwitch()
	current := currentRecord(t, gw, "Ethernet2")

	cs := reconcile.NewChangeSet()
	cs.Stage(PropDuplex, "full")

	_, err := New().Update(context.Background(), gw, current, cs)
	require.NoError(t, err)

	writes := gw.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, "forced 1000full", writes[0].Value)
}

func TestUpdateForcedSpeedFromAutoDefaultsToFullDuplex(t *testing.T) {
	gw := seedSwitch()
	current := currentRecord(t, gw, "Ethernet1")

	cs := reconcile.NewChangeSet()
	cs.Stage(PropSpeed, "40g")

	rec, err := New().Update(context.Background(), gw, current, cs)
	require.NoError(t, err)

	writes := gw.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, "forced 40000full", writes[0].Value)
	assert.Equal(t, "full", *rec.Props.Duplex)
}

func TestUpdateOrder(t *testing.T) {
	gw := seedSwitch()
	current := currentRecord(t, gw, "Ethernet1")

	cs := reconcile.NewChangeSet()
	cs.Stage(PropDescription, "to core")
	cs.Stage(PropMTU, 9000)
	cs.Stage(PropDuplex, "full")
	cs.Stage(PropSpeed, "10g")
	cs.Stage(PropEnable, ToggleFalse)

	_, err := New().Update(context.Background(), gw, current, cs)
	require.NoError(t, err)

	var attrs, values []string
	for _, w := range gw.Writes() {
		attrs = append(attrs, w.Attr)
		values = append(values, w.Value)
	}
	assert.Equal(t, []string{"state", "speed", "mtu", "description"}, attrs)
	assert.Equal(t, []string{"shutdown", "forced 10000full", "9000", "to core"}, values)
}

func TestUpdateSkipsUnstaged(t *testing.T) {
	gw := seedSwitch()
	current := currentRecord(t, gw, "Ethernet1")

	cs := reconcile.NewChangeSet()
	cs.Stage(PropEnable, ToggleTrue)

	rec, err := New().Update(context.Background(), gw, current, cs)
	require.NoError(t, err)

	writes := gw.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, "no shutdown", writes[0].Value)
	assert.Equal(t, current.Props.MTU, rec.Props.MTU)
}

func TestCommitRejectsUnknownEnableValue(t *testing.T) {
	gw := seedSwitch()
	current := currentRecord(t, gw, "Ethernet1")

	cs := reconcile.NewChangeSet()
	cs.Stage(PropEnable, Toggle("yes"))
	cs.Stage(PropMTU, 9000)

	c := reconcile.NewCommitter[Interface](New(), gw)
	rec, action, err := c.Commit(context.Background(), "Ethernet1", &current, cs, reconcile.Desired[Interface]{Name: "Ethernet1"})

	var ve *reconcile.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "enable", ve.Property)
	assert.Equal(t, Toggle("yes"), ve.Value)
	assert.Equal(t, "Ethernet1", ve.Name)
	assert.Contains(t, err.Error(), "yes")
	assert.Equal(t, reconcile.ActionUpdate, action)
	assert.Nil(t, rec)
	assert.Empty(t, gw.Writes())
}

func TestDuplexWithoutForcedSpeedIsRejected(t *testing.T) {
	gw := seedSwitch()
	current := currentRecord(t, gw, "Ethernet1")

	cs := reconcile.NewChangeSet()
	cs.Stage(PropDuplex, "half")

	err := New().Validate("Ethernet1", &current, cs)
	var ve *reconcile.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "duplex", ve.Property)
}

func TestCheckDeclared(t *testing.T) {
	assert.NoError(t, CheckDeclared(Interface{Speed: strPtr("10g"), Duplex: strPtr("half")}))
	assert.NoError(t, CheckDeclared(Interface{Speed: strPtr("auto")}))
	assert.NoError(t, CheckDeclared(Interface{MTU: intPtr(9214)}))

	var ve *reconcile.ValidationError
	require.ErrorAs(t, CheckDeclared(Interface{Duplex: strPtr("half")}), &ve)
	assert.Equal(t, PropDuplex, ve.Property)
}

func TestCreateIsUnsupported(t *testing.T) {
	gw := seedSwitch()
	engine := reconcile.NewEngine[Interface](New(), gw, reconcile.EngineConfig{}, nil)

	result, err := engine.Reconcile(context.Background(), []reconcile.Desired[Interface]{
		{Name: "Ethernet99", Props: Interface{MTU: intPtr(9000)}},
	})
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 1)

	out := result.Outcomes[0]
	assert.Equal(t, reconcile.ActionCreate, out.Action)
	assert.True(t, errors.Is(out.Err, reconcile.ErrUnsupported))

	var ce *reconcile.CommitError
	require.ErrorAs(t, out.Err, &ce)
	assert.Equal(t, reconcile.OpCreate, ce.Op)
	assert.Empty(t, gw.Writes())
}

func TestReconcileIsIdempotent(t *testing.T) {
	gw := seedSwitch()
	engine := reconcile.NewEngine[Interface](New(), gw, reconcile.EngineConfig{}, nil)

	desired := []reconcile.Desired[Interface]{
		{Name: "Ethernet1", Props: Interface{
			Enable:      togglePtr(ToggleFalse),
			Speed:       strPtr("10g"),
			MTU:         intPtr(9214),
			Description: strPtr("server-a"),
		}},
		{Name: "Ethernet2", Props: Interface{
			Enable: togglePtr(ToggleTrue),
			Speed:  strPtr("auto"),
			Duplex: strPtr("full"),
		}},
	}

	first, err := engine.Reconcile(context.Background(), desired)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Changed())
	assert.Zero(t, first.Failed())
	assert.NotEmpty(t, gw.Writes())

	gw.ResetCalls()

	second, err := engine.Reconcile(context.Background(), desired)
	require.NoError(t, err)
	assert.Zero(t, second.Changed())
	assert.Empty(t, gw.Writes())
	for _, out := range second.Outcomes {
		assert.Equal(t, reconcile.ActionNone, out.Action, out.Name)
	}
}
