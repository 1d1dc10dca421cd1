package registry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shale-yeah/kernel/registry"
	"github.com/shale-yeah/kernel/shape"
)

func testConfigs() []registry.ServerConfig {
	return []registry.ServerConfig{
		{
			Name:         "geowiz",
			Script:       "servers/geowiz.py",
			Description:  "Geological formation analysis",
			Persona:      "Marcus Aurelius Geologicus",
			Domain:       "geology",
			Capabilities: []string{"formation-analysis", "well-log-parsing", "gis-mapping"},
		},
		{
			Name:         "econobot",
			Script:       "servers/econobot.py",
			Description:  "Economic evaluation and DCF modeling",
			Persona:      "Lucius Cornelius Monetarius",
			Domain:       "economics",
			Capabilities: []string{"dcf-analysis", "npv-calculation", "sensitivity-analysis"},
			Defaults:     map[string]any{"discountRate": 0.1},
		},
		{
			Name:         "reporter",
			Script:       "servers/reporter.py",
			Description:  "Executive report generation",
			Persona:      "Scriptor Reporticus Maximus",
			Domain:       "reporting",
			Capabilities: []string{"report-generation"},
		},
		{
			Name:         "decision",
			Script:       "servers/decision.py",
			Description:  "Investment decision synthesis",
			Persona:      "Augustus Decidius Maximus",
			Domain:       "decision",
			Capabilities: []string{"investment-decision"},
		},
	}
}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New()
	require.NoError(t, r.Register(testConfigs()...))
	return r
}

func TestRegisterBuildsPrimaryTools(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	desc, ok := r.GetTool("geowiz.analyze")
	require.True(t, ok)
	assert.Equal(t, "geowiz", desc.Server)
	assert.Equal(t, registry.ToolTypeQuery, desc.Type)
	assert.True(t, desc.ReadOnly)
	assert.False(t, desc.RequiresConfirmation)
	assert.Equal(t, []shape.DetailLevel{shape.DetailSummary, shape.DetailStandard, shape.DetailFull}, desc.DetailLevels)

	desc, ok = r.GetTool("reporter.analyze")
	require.True(t, ok)
	assert.Equal(t, registry.ToolTypeCommand, desc.Type)
	assert.False(t, desc.ReadOnly)
	assert.False(t, desc.RequiresConfirmation)

	desc, ok = r.GetTool("decision.analyze")
	require.True(t, ok)
	assert.Equal(t, registry.ToolTypeCommand, desc.Type)
	assert.True(t, desc.RequiresConfirmation)
	assert.True(t, desc.Destructive)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	err := r.Register(registry.ServerConfig{Name: "geowiz"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	err = r.Register(registry.ServerConfig{})
	require.Error(t, err)
}

func TestListServers(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	all := r.ListServers(registry.Filter{})
	require.Len(t, all, 4)
	assert.Equal(t, "geowiz", all[0].Name)
	assert.Equal(t, registry.StatusDisconnected, all[0].Status)
	assert.Equal(t, 1, all[0].ToolCount)
	assert.Equal(t, "Marcus Aurelius Geologicus", all[0].Persona)

	byDomain := r.ListServers(registry.Filter{Domain: "economics"})
	require.Len(t, byDomain, 1)
	assert.Equal(t, "econobot", byDomain[0].Name)

	byType := r.ListServers(registry.Filter{ToolType: registry.ToolTypeCommand})
	require.Len(t, byType, 2)

	byCapability := r.ListServers(registry.Filter{Capability: "ANALYSIS"})
	require.Len(t, byCapability, 2)

	combined := r.ListServers(registry.Filter{ToolType: registry.ToolTypeQuery, Capability: "dcf"})
	require.Len(t, combined, 1)
	assert.Equal(t, "econobot", combined[0].Name)

	none := r.ListServers(registry.Filter{Domain: "geology", Capability: "dcf"})
	assert.Empty(t, none)
}

func TestListTools(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	all := r.ListTools("")
	require.Len(t, all, 4)
	assert.Equal(t, "geowiz.analyze", all[0].Name)

	one := r.ListTools("econobot")
	require.Len(t, one, 1)
	assert.Equal(t, "econobot.analyze", one[0].Name)

	assert.Nil(t, r.ListTools("no-such-server"))
}

func TestFindByCapability(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	found := r.FindByCapability("analysis")
	names := make(map[string]bool, len(found))
	for _, d := range found {
		assert.False(t, names[d.Name], "duplicate tool %s", d.Name)
		names[d.Name] = true
	}
	assert.True(t, names["geowiz.analyze"])
	assert.True(t, names["econobot.analyze"])

	assert.Empty(t, r.FindByCapability("quantum"))
	assert.Empty(t, r.FindByCapability(""))

	// Case-insensitive.
	assert.NotEmpty(t, r.FindByCapability("DCF"))
}

func TestResolveServer(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	server, ok := r.ResolveServer("geowiz.analyze")
	require.True(t, ok)
	assert.Equal(t, "geowiz", server)

	server, ok = r.ResolveServer("geowiz")
	require.True(t, ok)
	assert.Equal(t, "geowiz", server)

	server, ok = r.ResolveServer("econ")
	require.True(t, ok)
	assert.Equal(t, "econobot", server)

	_, ok = r.ResolveServer("nope")
	assert.False(t, ok)

	_, ok = r.ResolveServer("")
	assert.False(t, ok)
}

func TestResolveToolBareNameReturnsPrimary(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	desc, ok := r.ResolveTool("decision")
	require.True(t, ok)
	assert.Equal(t, "decision.analyze", desc.Name)
	assert.True(t, desc.RequiresConfirmation)
}

func TestSetServerStatus(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	require.True(t, r.SetServerStatus("geowiz", registry.StatusConnected))
	servers := r.ListServers(registry.Filter{Domain: "geology"})
	require.Len(t, servers, 1)
	assert.Equal(t, registry.StatusConnected, servers[0].Status)

	assert.False(t, r.SetServerStatus("no-such-server", registry.StatusError))
}

func TestValidateArgs(t *testing.T) {
	t.Parallel()
	r := registry.New()
	require.NoError(t, r.Register(registry.ServerConfig{
		Name:   "geowiz",
		Domain: "geology",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []any{"tract"},
			"properties": map[string]any{
				"tract": map[string]any{"type": "string"},
				"depth": map[string]any{"type": "number", "minimum": 0},
			},
		},
	}))

	assert.NoError(t, r.ValidateArgs("geowiz.analyze", map[string]any{"tract": "Permian-A", "depth": 9000}))
	assert.Error(t, r.ValidateArgs("geowiz.analyze", map[string]any{"depth": 9000}))
	assert.Error(t, r.ValidateArgs("geowiz.analyze", map[string]any{"tract": "Permian-A", "depth": -5}))
	assert.Error(t, r.ValidateArgs("unknown.analyze", nil))

	// Bare server names resolve before validating.
	assert.NoError(t, r.ValidateArgs("geowiz", map[string]any{"tract": "Permian-A"}))
}

func TestValidateArgsNoSchemaAcceptsAnything(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	assert.NoError(t, r.ValidateArgs("geowiz.analyze", nil))
	assert.NoError(t, r.ValidateArgs("geowiz.analyze", map[string]any{"anything": map[string]any{"goes": true}}))
}

func TestDescriptorDefaultsAreCloned(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	desc, ok := r.GetTool("econobot.analyze")
	require.True(t, ok)
	require.Equal(t, map[string]any{"discountRate": 0.1}, desc.Defaults)

	desc.Defaults["discountRate"] = 0.99
	again, _ := r.GetTool("econobot.analyze")
	assert.Equal(t, 0.1, again.Defaults["discountRate"])
}
