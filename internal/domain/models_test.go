package domain

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCriterionValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		c    Criterion
		want error
	}{
		{"binary ok", Criterion{Category: CategoryExterior, Type: TypeBinary, Value: 1}, nil},
		{"binary out of range", Criterion{Category: CategoryExterior, Type: TypeBinary, Value: -1}, ErrOutOfRange},
		{"ternary ok", Criterion{Category: CategoryLocation, Type: TypeTernary, Value: -1}, nil},
		{"ternary fraction", Criterion{Category: CategoryLocation, Type: TypeTernary, Value: 0.5}, ErrOutOfRange},
		{"unknown type", Criterion{Category: CategoryLocation, Type: "slider", Value: 0}, ErrOutOfRange},
		{"unknown category", Criterion{Category: "garden", Type: TypeBinary}, ErrUnknownCategory},
	}
	for _, tc := range cases {
		err := tc.c.Validate()
		if tc.want == nil {
			assert.NoError(t, err, tc.name)
			continue
		}
		assert.ErrorIs(t, err, tc.want, tc.name)
	}
}

func TestCategoryIndex(t *testing.T) {
	t.Parallel()

	for i, c := range Categories() {
		assert.Equal(t, i, c.Index())
	}
	assert.Equal(t, -1, Category("garden").Index())
	assert.False(t, Category("garden").Valid())
}

func TestInputFor(t *testing.T) {
	t.Parallel()

	in := InputFor(Criterion{Type: TypeTernary, Value: 1})
	require.IsType(t, TernaryInput{}, in)
	assert.Equal(t, "[ ] bad  [ ] ok  [x] good", in.Render())
	assert.Equal(t, 1.0, in.CurrentValue())

	in = InputFor(Criterion{Type: TypeBinary, Value: 0})
	require.IsType(t, BinaryInput{}, in)
	assert.Equal(t, "[ ] yes  [x] no", in.Render())
}

func TestRemoteErrorKinds(t *testing.T) {
	t.Parallel()

	assert.ErrorIs(t, &RemoteError{Status: http.StatusUnauthorized}, ErrAuth)
	assert.ErrorIs(t, &RemoteError{Status: http.StatusForbidden}, ErrAuth)
	assert.ErrorIs(t, &RemoteError{Status: http.StatusBadGateway}, ErrRemote)
	assert.NotErrorIs(t, &RemoteError{Status: http.StatusBadGateway}, ErrAuth)
}
