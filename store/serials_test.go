package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quadi/qsa-engrave/models"
)

func reserveRow(positions ...int) []ReserveModule {
	mods := make([]ReserveModule, 0, len(positions))
	for _, p := range positions {
		mods = append(mods, ReserveModule{ModuleSKU: "STARa-00001", ArrayPosition: p})
	}
	return mods
}

func TestReserveAssignsContiguousSerials(t *testing.T) {
	s := NewSerialStore(testDB(t), testLog())
	ctx := context.Background()

	got, err := s.Reserve(ctx, 1, 1, reserveRow(1, 2, 3), "op")
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, rs := range got {
		assert.Equal(t, i+1, rs.SerialInteger)
		assert.Equal(t, models.FormatSerial(i+1), rs.SerialNumber)
		assert.Equal(t, i+1, rs.ArrayPosition)
	}

	// A second reservation continues where the first left off.
	got, err = s.Reserve(ctx, 1, 2, reserveRow(1, 2), "op")
	require.NoError(t, err)
	assert.Equal(t, 4, got[0].SerialInteger)
	assert.Equal(t, 5, got[1].SerialInteger)
}

func TestReserveEmptyRowFails(t *testing.T) {
	s := NewSerialStore(testDB(t), testLog())
	_, err := s.Reserve(context.Background(), 1, 1, nil, "op")
	assert.True(t, models.IsCode(err, models.CodeNoModules))
}

func TestVoidedSerialsAreNeverRecycled(t *testing.T) {
	s := NewSerialStore(testDB(t), testLog())
	ctx := context.Background()

	first, err := s.Reserve(ctx, 1, 1, reserveRow(1, 2), "op")
	require.NoError(t, err)
	n, err := s.Void(ctx, 1, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	second, err := s.Reserve(ctx, 1, 1, reserveRow(1, 2), "op")
	require.NoError(t, err)
	assert.Greater(t, second[0].SerialInteger, first[1].SerialInteger)
}

func TestCommitAndVoidAreTerminal(t *testing.T) {
	s := NewSerialStore(testDB(t), testLog())
	ctx := context.Background()

	_, err := s.Reserve(ctx, 1, 1, reserveRow(1, 2), "op")
	require.NoError(t, err)

	n, err := s.Commit(ctx, 1, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	// Nothing reserved remains, so both transitions are now no-ops.
	n, err = s.Commit(ctx, 1, 1)
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = s.Void(ctx, 1, 1)
	require.NoError(t, err)
	assert.Zero(t, n)

	engraved, err := s.CountEngraved(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, engraved)
}

func TestCommitOnlyTouchesItsOwnRow(t *testing.T) {
	s := NewSerialStore(testDB(t), testLog())
	ctx := context.Background()

	_, err := s.Reserve(ctx, 1, 1, reserveRow(1), "op")
	require.NoError(t, err)
	_, err = s.Reserve(ctx, 1, 2, reserveRow(1), "op")
	require.NoError(t, err)

	n, err := s.Commit(ctx, 1, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	committable, err := s.CountCommittable(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, committable)
}

func TestCapacityThresholds(t *testing.T) {
	s := NewSerialStore(testDB(t), testLog())
	ctx := context.Background()

	_, err := s.Reserve(ctx, 1, 1, reserveRow(1, 2, 3, 4), "op")
	require.NoError(t, err)

	cap, err := s.Capacity(ctx, 50000, 10000)
	require.NoError(t, err)
	assert.Equal(t, 4, cap.HighestAssigned)
	assert.Equal(t, models.SerialMax-4, cap.Remaining)
	assert.False(t, cap.Warning)
	assert.False(t, cap.Critical)

	cap, err = s.Capacity(ctx, models.SerialMax, 10000)
	require.NoError(t, err)
	assert.True(t, cap.Warning)
	assert.False(t, cap.Critical)

	cap, err = s.Capacity(ctx, models.SerialMax, models.SerialMax)
	require.NoError(t, err)
	assert.True(t, cap.Critical)
}

func TestNextFree(t *testing.T) {
	s := NewSerialStore(testDB(t), testLog())
	ctx := context.Background()

	next, err := s.NextFree(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, next)

	_, err = s.Reserve(ctx, 1, 1, reserveRow(1, 2), "op")
	require.NoError(t, err)
	next, err = s.NextFree(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, next)
}

func TestFindAndRowSerials(t *testing.T) {
	s := NewSerialStore(testDB(t), testLog())
	ctx := context.Background()

	_, err := s.Reserve(ctx, 7, 3, reserveRow(1, 2), "alice")
	require.NoError(t, err)

	rec, err := s.Find(ctx, models.FormatSerial(2))
	require.NoError(t, err)
	assert.EqualValues(t, 7, rec.BatchID)
	assert.Equal(t, 3, rec.QsaSequence)
	assert.Equal(t, 2, rec.ArrayPosition)
	assert.Equal(t, models.SerialReserved, rec.Status)
	assert.Equal(t, "alice", rec.CreatedBy)
	assert.False(t, rec.CreatedAt.IsZero())
	assert.Nil(t, rec.EngravedAt)

	_, err = s.Find(ctx, "00009999")
	assert.True(t, models.IsCode(err, models.CodeNotFound))

	// Voiding then re-reserving leaves both generations visible on the row.
	_, err = s.Void(ctx, 7, 3)
	require.NoError(t, err)
	_, err = s.Reserve(ctx, 7, 3, reserveRow(1, 2), "alice")
	require.NoError(t, err)

	all, err := s.RowSerials(ctx, 7, 3)
	require.NoError(t, err)
	require.Len(t, all, 4)
	voided := 0
	for _, rs := range all {
		if rs.Status == models.SerialVoided {
			voided++
			assert.NotNil(t, rs.VoidedAt)
		}
	}
	assert.Equal(t, 2, voided)
}
