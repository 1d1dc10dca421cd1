package bundle_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shale-yeah/kernel/bundle"
	"github.com/shale-yeah/kernel/shape"
)

func TestGeologicalDeepDive(t *testing.T) {
	t.Parallel()

	b := bundle.GeologicalDeepDive()
	assert.Equal(t, "geological_deep_dive", b.Name)
	assert.Equal(t, bundle.GatherAll, b.Gather)
	require.Len(t, b.Steps, 3)

	assert.Equal(t, "geowiz.analyze", b.Steps[0].Tool)
	assert.Equal(t, shape.DetailFull, b.Steps[0].DetailLevel)
	assert.False(t, b.Steps[0].Optional)

	assert.Equal(t, "curve-smith.analyze", b.Steps[1].Tool)
	assert.Equal(t, shape.DetailStandard, b.Steps[1].DetailLevel)

	assert.Equal(t, "research.analyze", b.Steps[2].Tool)
	assert.Equal(t, shape.DetailSummary, b.Steps[2].DetailLevel)
	assert.True(t, b.Steps[2].Optional)

	for _, s := range b.Steps {
		assert.True(t, s.Parallel)
		assert.Empty(t, s.DependsOn)
	}
}

func TestFinancialReview(t *testing.T) {
	t.Parallel()

	b := bundle.FinancialReview()
	assert.Equal(t, "financial_review", b.Name)
	assert.Equal(t, bundle.GatherAll, b.Gather)
	require.Len(t, b.Steps, 3)

	assert.Equal(t, "econobot.analyze", b.Steps[0].Tool)
	assert.Equal(t, shape.DetailFull, b.Steps[0].DetailLevel)

	assert.Equal(t, "risk-analysis.analyze", b.Steps[1].Tool)
	assert.False(t, b.Steps[1].Optional)

	assert.Equal(t, "market.analyze", b.Steps[2].Tool)
	assert.True(t, b.Steps[2].Optional)
}

func TestCatalog(t *testing.T) {
	t.Parallel()

	catalog := bundle.Catalog()
	require.Len(t, catalog, 2)
	assert.Equal(t, "geological_deep_dive", catalog[0].Name)
	assert.Equal(t, "financial_review", catalog[1].Name)

	// Catalog returns fresh copies.
	catalog[0].Steps[0].Tool = "mutated"
	assert.Equal(t, "geowiz.analyze", bundle.Catalog()[0].Steps[0].Tool)
}
