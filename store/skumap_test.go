package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quadi/qsa-engrave/models"
)

func mapping(pattern, matchType, canonical, revision string, priority int) models.SkuMapping {
	return models.SkuMapping{
		LegacyPattern: pattern, MatchType: matchType,
		CanonicalCode: canonical, Revision: revision,
		Priority: priority, IsActive: true,
	}
}

func TestCreateMappingValidation(t *testing.T) {
	s := NewSkuStore(testDB(t), testLog())
	ctx := context.Background()

	_, err := s.Create(ctx, mapping("", models.MatchExact, "STAR", "", 100))
	assert.True(t, models.IsCode(err, models.CodeInvalidParams))

	long := make([]byte, 129)
	for i := range long {
		long[i] = 'x'
	}
	_, err = s.Create(ctx, mapping(string(long), models.MatchExact, "STAR", "", 100))
	assert.True(t, models.IsCode(err, models.CodePatternTooLong))

	_, err = s.Create(ctx, mapping("LED-(", models.MatchRegex, "STAR", "", 100))
	assert.True(t, models.IsCode(err, models.CodeInvalidRegex))

	_, err = s.Create(ctx, mapping("LED-1", "contains", "STAR", "", 100))
	assert.True(t, models.IsCode(err, models.CodeInvalidParams))

	_, err = s.Create(ctx, mapping("LED-1", models.MatchExact, "TOOLONG", "", 100))
	assert.True(t, models.IsCode(err, models.CodeInvalidParams))

	_, err = s.Create(ctx, mapping("LED-1", models.MatchExact, "STAR", "A", 100))
	assert.True(t, models.IsCode(err, models.CodeInvalidParams))
}

func TestDuplicatePattern(t *testing.T) {
	s := NewSkuStore(testDB(t), testLog())
	ctx := context.Background()

	_, err := s.Create(ctx, mapping("LED-1", models.MatchExact, "STAR", "", 100))
	require.NoError(t, err)
	_, err = s.Create(ctx, mapping("LED-1", models.MatchExact, "QUAD", "", 50))
	assert.True(t, models.IsCode(err, models.CodeDuplicatePattern))

	// Same pattern under a different match type is fine.
	_, err = s.Create(ctx, mapping("LED-1", models.MatchPrefix, "QUAD", "", 50))
	require.NoError(t, err)
}

func TestUpdateAndDelete(t *testing.T) {
	s := NewSkuStore(testDB(t), testLog())
	ctx := context.Background()

	id, err := s.Create(ctx, mapping("LED-1", models.MatchExact, "STAR", "", 100))
	require.NoError(t, err)

	m := mapping("LED-1", models.MatchExact, "quad", "b", 10)
	m.ID = id
	require.NoError(t, s.Update(ctx, m))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "QUAD", list[0].CanonicalCode) // uppercased on write
	assert.Equal(t, "b", list[0].Revision)

	m.ID = id + 99
	err = s.Update(ctx, m)
	assert.True(t, models.IsCode(err, models.CodeNotFound))

	require.NoError(t, s.Delete(ctx, id))
	err = s.Delete(ctx, id)
	assert.True(t, models.IsCode(err, models.CodeNotFound))
}

func TestResolveNativeSKUNeedsNoMapping(t *testing.T) {
	r := NewResolver(nil, nil)
	res := r.Resolve("STARa-34924")
	require.NotNil(t, res)
	assert.Equal(t, "STAR", res.CanonicalCode)
	assert.Equal(t, "a", res.Revision)
	assert.False(t, res.IsLegacy)

	assert.Nil(t, r.Resolve("LED-OLD-99"))
	assert.Nil(t, r.Resolve(""))
	assert.Nil(t, r.Resolve("   "))
}

func TestResolvePrecedence(t *testing.T) {
	r := NewResolver([]models.SkuMapping{
		mapping("led-old-99", models.MatchExact, "EXCT", "", 100),
		mapping("LED-OLD", models.MatchPrefix, "PRFX", "", 100),
		mapping("LED-OLD-9", models.MatchPrefix, "PRFL", "", 100),
		mapping("-99", models.MatchSuffix, "SUFX", "", 100),
		mapping(`^LED-.*$`, models.MatchRegex, "REGX", "", 100),
	}, nil)

	// Exact beats everything, case-insensitively.
	res := r.Resolve("LED-OLD-99")
	require.NotNil(t, res)
	assert.Equal(t, "EXCT", res.CanonicalCode)
	assert.True(t, res.IsLegacy)

	// Longest prefix wins among prefixes.
	res = r.Resolve("LED-OLD-91")
	require.NotNil(t, res)
	assert.Equal(t, "PRFL", res.CanonicalCode)

	res = r.Resolve("LED-OLD-42")
	require.NotNil(t, res)
	assert.Equal(t, "PRFX", res.CanonicalCode)

	// Suffix only fires when no prefix matched.
	res = r.Resolve("PANEL-99")
	require.NotNil(t, res)
	assert.Equal(t, "SUFX", res.CanonicalCode)

	// Regex is the last resort.
	res = r.Resolve("LED-X")
	require.NotNil(t, res)
	assert.Equal(t, "REGX", res.CanonicalCode)
}

func TestResolvePriorityBreaksTies(t *testing.T) {
	r := NewResolver([]models.SkuMapping{
		mapping("LED-A", models.MatchExact, "LOWP", "", 10),
		mapping("led-a", models.MatchExact, "HIGH", "", 200),
	}, nil)
	// Both can't coexist in the store (unique pattern), but the resolver
	// itself orders candidates by priority.
	res := r.Resolve("LED-A")
	require.NotNil(t, res)
	assert.Equal(t, "LOWP", res.CanonicalCode)
}

func TestResolverSkipsBadStoredRegex(t *testing.T) {
	r := NewResolver([]models.SkuMapping{
		{LegacyPattern: "LED-(", MatchType: models.MatchRegex, CanonicalCode: "BADX", Priority: 1, IsActive: true},
		mapping(`^LED-.*$`, models.MatchRegex, "GOOD", "", 100),
	}, nil)
	res := r.Resolve("LED-1")
	require.NotNil(t, res)
	assert.Equal(t, "GOOD", res.CanonicalCode)
}

func TestStoreResolverUsesOnlyActiveMappings(t *testing.T) {
	s := NewSkuStore(testDB(t), testLog())
	ctx := context.Background()

	id, err := s.Create(ctx, mapping("LED-OLD", models.MatchPrefix, "STAR", "a", 100))
	require.NoError(t, err)

	r, err := s.Resolver(ctx)
	require.NoError(t, err)
	res := r.Resolve("LED-OLD-42")
	require.NotNil(t, res)
	assert.Equal(t, "STAR", res.CanonicalCode)
	assert.Equal(t, "a", res.Revision)

	m := mapping("LED-OLD", models.MatchPrefix, "STAR", "a", 100)
	m.ID = id
	m.IsActive = false
	require.NoError(t, s.Update(ctx, m))

	r, err = s.Resolver(ctx)
	require.NoError(t, err)
	assert.Nil(t, r.Resolve("LED-OLD-42"))
}
