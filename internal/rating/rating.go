// Package rating derives a freelancer's rating from the review ledger on every
// read; nothing is cached or maintained incrementally.
package rating

import (
	"context"
	"encoding/json"
)

// Source is satisfied by every repository.ReviewStore.
type Source interface {
	RatingsFor(ctx context.Context, freelancerID string) ([]int, error)
}

// Rating is the unrounded mean of all ratings. Count == 0 means "never rated"; Average
// is then meaningless and is encoded as null.
type Rating struct {
	Average float64
	Count   int
}

func (r Rating) Rated() bool { return r.Count > 0 }

func (r Rating) MarshalJSON() ([]byte, error) {
	out := struct {
		Average *float64 `json:"average"`
		Count   int      `json:"count"`
	}{Count: r.Count}
	if r.Rated() {
		avg := r.Average
		out.Average = &avg
	}
	return json.Marshal(out)
}

// Of computes the rating of a fixed set of ratings.
func Of(ratings []int) Rating {
	if len(ratings) == 0 {
		return Rating{}
	}
	sum := 0
	for _, v := range ratings {
		sum += v
	}
	return Rating{Average: float64(sum) / float64(len(ratings)), Count: len(ratings)}
}

type Aggregator struct {
	src Source
}

func NewAggregator(src Source) *Aggregator {
	return &Aggregator{src: src}
}

func (a *Aggregator) AverageRating(ctx context.Context, freelancerID string) (Rating, error) {
	ratings, err := a.src.RatingsFor(ctx, freelancerID)
	if err != nil {
		return Rating{}, err
	}
	return Of(ratings), nil
}
