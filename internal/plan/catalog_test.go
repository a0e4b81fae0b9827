package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperstreamhq/paperstream/internal/config"
)

func newTestCatalog() Catalog {
	return NewCatalog(config.DefaultPlanSettings())
}

func TestResolve(t *testing.T) {
	catalog := newTestCatalog()

	starter, err := catalog.Resolve(Starter)
	require.NoError(t, err)
	assert.Equal(t, "price_starter_monthly", starter.PriceID)
	assert.Equal(t, 500, starter.MonthlyQuota)

	pro, err := catalog.Resolve(Pro)
	require.NoError(t, err)
	assert.Equal(t, 1500, pro.MonthlyQuota)

	enterprise, err := catalog.Resolve(Enterprise)
	require.NoError(t, err)
	assert.Empty(t, enterprise.PriceID, "enterprise is billed out-of-band")
	assert.Equal(t, 5000, enterprise.MonthlyQuota)
}

func TestParseID(t *testing.T) {
	id, err := ParseID("pro")
	require.NoError(t, err)
	assert.Equal(t, Pro, id)

	_, err = ParseID("platinum")
	assert.ErrorIs(t, err, ErrUnknownPlan)

	_, err = ParseID("")
	assert.ErrorIs(t, err, ErrUnknownPlan)
}

func TestByPriceID(t *testing.T) {
	catalog := newTestCatalog()

	id, ok := catalog.ByPriceID("price_pro_monthly")
	require.True(t, ok)
	assert.Equal(t, Pro, id)

	_, ok = catalog.ByPriceID("price_from_another_dashboard")
	assert.False(t, ok)

	_, ok = catalog.ByPriceID("")
	assert.False(t, ok)
}

func TestRankOrdersPlans(t *testing.T) {
	assert.Less(t, Rank(Starter), Rank(Pro))
	assert.Less(t, Rank(Pro), Rank(Enterprise))
}

func TestTrialSettings(t *testing.T) {
	catalog := newTestCatalog()
	assert.Equal(t, 14, catalog.TrialDays())
	assert.Equal(t, 10, catalog.TrialQuota())
}
