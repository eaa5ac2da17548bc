package criteria

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/denisok6893-rgb/open-house/internal/domain"
)

func binary(id int64, name string, v float64) domain.Criterion {
	return domain.Criterion{ID: id, Name: name, Type: domain.TypeBinary, Value: v}
}

func ternary(id int64, name string, v float64) domain.Criterion {
	return domain.Criterion{ID: id, Name: name, Type: domain.TypeTernary, Value: v}
}

func TestNewStore_HasEveryCategory(t *testing.T) {
	t.Parallel()

	s := NewStore()
	snap := s.Snapshot()
	for _, c := range domain.Categories() {
		_, ok := snap[c]
		assert.True(t, ok, "category %s missing", c)
	}
	assert.Equal(t, 0, s.Len())
}

func TestAdd_DuplicateIDAcrossCategories(t *testing.T) {
	t.Parallel()

	s := NewStore()
	require.NoError(t, s.Add(domain.CategoryLocation, binary(1, "near school", 1)))

	err := s.Add(domain.CategoryInterior, binary(1, "big kitchen", 0))
	require.ErrorIs(t, err, domain.ErrDuplicateID)
	assert.Empty(t, s.Criteria(domain.CategoryInterior))
	assert.Equal(t, 1, s.Len())
}

func TestAdd_RejectsBadValueAndCategory(t *testing.T) {
	t.Parallel()

	s := NewStore()
	require.ErrorIs(t, s.Add(domain.CategoryLocation, binary(1, "garage", 2)), domain.ErrOutOfRange)
	require.ErrorIs(t, s.Add("garden", binary(2, "pond", 1)), domain.ErrUnknownCategory)
	assert.Equal(t, 0, s.Len())
}

func TestRemove(t *testing.T) {
	t.Parallel()

	s := NewStore()
	dream := binary(1, "garage", 1)
	dream.IsDream = true
	require.NoError(t, s.Add(domain.CategoryExterior, dream))
	require.NoError(t, s.Add(domain.CategoryExterior, binary(2, "pool", 0)))

	before := s.Snapshot()
	_, err := s.Remove(domain.Ref{Category: domain.CategoryExterior, Index: 0})
	require.ErrorIs(t, err, domain.ErrNotRemovable)
	assert.Equal(t, before, s.Snapshot())

	removed, err := s.Remove(domain.Ref{Category: domain.CategoryExterior, Index: 1})
	require.NoError(t, err)
	assert.Equal(t, "pool", removed.Name)
	assert.Len(t, s.Criteria(domain.CategoryExterior), 1)

	_, err = s.Remove(domain.Ref{Category: domain.CategoryExterior, Index: 5})
	require.ErrorIs(t, err, domain.ErrIndexOutOfRange)
}

func TestUpdateValue(t *testing.T) {
	t.Parallel()

	s := NewStore()
	require.NoError(t, s.Add(domain.CategoryLocation, binary(1, "near work", 0)))
	require.NoError(t, s.Add(domain.CategoryLocation, ternary(2, "noise", 0)))
	ref := domain.Ref{Category: domain.CategoryLocation, Index: 0}

	before := s.Snapshot()
	for _, v := range []float64{-1, 0.5, 2} {
		_, err := s.UpdateValue(ref, v)
		require.ErrorIs(t, err, domain.ErrOutOfRange, "value %v", v)
	}
	assert.Equal(t, before, s.Snapshot())

	c, err := s.UpdateValue(ref, 1)
	require.NoError(t, err)
	assert.Equal(t, 1.0, c.Value)

	c, err = s.UpdateValue(domain.Ref{Category: domain.CategoryLocation, Index: 1}, -1)
	require.NoError(t, err)
	assert.Equal(t, -1.0, c.Value)
}

func TestMove(t *testing.T) {
	t.Parallel()

	s := NewStore()
	for i, name := range []string{"a", "b", "c", "d"} {
		require.NoError(t, s.Add(domain.CategoryInterior, binary(int64(i+1), name, 0)))
	}
	require.NoError(t, s.Add(domain.CategoryAmenities, binary(10, "gym", 0)))

	before := s.Snapshot()
	err := s.Move(domain.Ref{Category: domain.CategoryInterior, Index: 0}, domain.Ref{Category: domain.CategoryAmenities, Index: 0})
	require.ErrorIs(t, err, domain.ErrInvalidMove)
	err = s.Move(domain.Ref{Category: domain.CategoryInterior, Index: 0}, domain.Ref{Category: domain.CategoryInterior, Index: 4})
	require.ErrorIs(t, err, domain.ErrInvalidMove)
	assert.Equal(t, before, s.Snapshot())

	require.NoError(t, s.Move(domain.Ref{Category: domain.CategoryInterior, Index: 0}, domain.Ref{Category: domain.CategoryInterior, Index: 2}))
	assert.Equal(t, []string{"b", "c", "a", "d"}, names(s.Criteria(domain.CategoryInterior)))

	require.NoError(t, s.Move(domain.Ref{Category: domain.CategoryInterior, Index: 3}, domain.Ref{Category: domain.CategoryInterior, Index: 0}))
	assert.Equal(t, []string{"d", "b", "c", "a"}, names(s.Criteria(domain.CategoryInterior)))
	assert.Equal(t, 5, s.Len())
}

func TestFindAndNextID(t *testing.T) {
	t.Parallel()

	s := NewStore()
	assert.Equal(t, int64(1), s.NextID())
	require.NoError(t, s.Add(domain.CategoryAmenities, binary(7, "gym", 1)))

	ref, c, ok := s.Find(7)
	require.True(t, ok)
	assert.Equal(t, domain.Ref{Category: domain.CategoryAmenities, Index: 0}, ref)
	assert.Equal(t, "gym", c.Name)
	assert.Equal(t, int64(8), s.NextID())

	_, _, ok = s.Find(8)
	assert.False(t, ok)
}

func TestSubscribe(t *testing.T) {
	t.Parallel()

	s := NewStore()
	var got []Event
	unsubscribe := s.Subscribe(func(e Event) { got = append(got, e) })

	require.NoError(t, s.Add(domain.CategoryLocation, binary(1, "near park", 0)))
	_, err := s.UpdateValue(domain.Ref{Category: domain.CategoryLocation, Index: 0}, 1)
	require.NoError(t, err)
	_, err = s.UpdateValue(domain.Ref{Category: domain.CategoryLocation, Index: 0}, 3)
	require.Error(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, EventAdded, got[0].Kind)
	assert.Equal(t, EventValueChanged, got[1].Kind)
	assert.Equal(t, domain.CategoryLocation, got[1].Category)
	assert.Equal(t, 0, got[1].Index)
	assert.Equal(t, 1.0, got[1].Criterion.Value)

	unsubscribe()
	require.NoError(t, s.Add(domain.CategoryLocation, binary(2, "near lake", 0)))
	assert.Len(t, got, 2)
}

func names(list []domain.Criterion) []string {
	out := make([]string, len(list))
	for i, c := range list {
		out[i] = c.Name
	}
	return out
}
