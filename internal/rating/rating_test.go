package rating

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource map[string][]int

func (s staticSource) RatingsFor(_ context.Context, id string) ([]int, error) {
	if id == "broken" {
		return nil, errors.New("store down")
	}
	return s[id], nil
}

func TestAverageRating(t *testing.T) {
	agg := NewAggregator(staticSource{"f1": {5, 3, 4}, "f2": {5}})

	r, err := agg.AverageRating(context.Background(), "f1")
	require.NoError(t, err)
	assert.True(t, r.Rated())
	assert.Equal(t, 4.0, r.Average)
	assert.Equal(t, 3, r.Count)

	r, err = agg.AverageRating(context.Background(), "f2")
	require.NoError(t, err)
	assert.Equal(t, 5.0, r.Average)
}

func TestNoReviewsIsUnrated(t *testing.T) {
	r, err := NewAggregator(staticSource{}).AverageRating(context.Background(), "nobody")
	require.NoError(t, err)
	assert.False(t, r.Rated())

	body, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"average":null,"count":0}`, string(body))
}

func TestRatedJSON(t *testing.T) {
	body, err := json.Marshal(Of([]int{4, 5}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"average":4.5,"count":2}`, string(body))
}

func TestAverageIsExactMean(t *testing.T) {
	r := Of([]int{5, 4, 4})
	assert.Equal(t, 3, r.Count)
	assert.Equal(t, 13.0/3.0, r.Average)
	assert.NotEqual(t, 4.33, r.Average)
}

func TestSourceErrorPropagates(t *testing.T) {
	_, err := NewAggregator(staticSource{}).AverageRating(context.Background(), "broken")
	assert.Error(t, err)
}
