package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogAwaitingAndLedCodes(t *testing.T) {
	s := NewCatalogStore(testDB(t), testLog())
	ctx := context.Background()

	id, err := s.Add(ctx, CatalogModule{
		ProductionBatchID: "PB-1", ModuleSKU: "STARa-00001", OrderID: "SO-100",
		Qty: 6, LedCodes: []string{"R2a", "G1b"},
	})
	require.NoError(t, err)
	_, err = s.Add(ctx, CatalogModule{
		ProductionBatchID: "PB-1", ModuleSKU: "STARa-00002", OrderID: "SO-100", Qty: 2,
	})
	require.NoError(t, err)

	awaiting, err := s.Awaiting(ctx)
	require.NoError(t, err)
	require.Len(t, awaiting, 2)
	assert.Equal(t, []string{"R2a", "G1b"}, awaiting[0].LedCodes)
	assert.Nil(t, awaiting[1].LedCodes)

	codes, ok, err := s.LedCodesFor(ctx, "PB-1", "STARa-00001", "SO-100")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"R2a", "G1b"}, codes)

	// Mirrored lot without codes: ok but nil.
	codes, ok, err = s.LedCodesFor(ctx, "PB-1", "STARa-00002", "SO-100")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Nil(t, codes)

	// Lot no longer mirrored.
	_, ok, err = s.LedCodesFor(ctx, "PB-2", "STARa-00001", "SO-100")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.MarkEngraved(ctx, id))
	awaiting, err = s.Awaiting(ctx)
	require.NoError(t, err)
	require.Len(t, awaiting, 1)
	assert.Equal(t, "STARa-00002", awaiting[0].ModuleSKU)
}
