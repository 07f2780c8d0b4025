package ranking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryan-buckman/quickfeed/internal/model"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func article(id int64, published, feedAdded time.Time) model.Article {
	return model.Article{ID: id, PublishedAt: published, FeedAddedAt: feedAdded}
}

func ids(articles []model.Article) []int64 {
	out := make([]int64, len(articles))
	for i, a := range articles {
		out[i] = a.ID
	}
	return out
}

func TestWeight(t *testing.T) {
	tests := []struct {
		name string
		age  time.Duration
		want float64
	}{
		{"added now", 0, 1},
		{"ten days", 10 * 24 * time.Hour, 0.5},
		{"half a day", 12 * time.Hour, 0.975},
		{"twenty days", 20 * 24 * time.Hour, 0},
		{"sixty days clamps to zero", 60 * 24 * time.Hour, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Weight(now.Add(-tt.age), now), 1e-9)
		})
	}
}

func TestSortNewestFirst(t *testing.T) {
	feedAdded := now.Add(-30 * 24 * time.Hour)
	in := []model.Article{
		article(1, now.Add(-3*time.Hour), feedAdded),
		article(2, now.Add(-1*time.Hour), feedAdded),
		article(3, now.Add(-2*time.Hour), feedAdded),
	}

	got := Sort(in, now)

	assert.Equal(t, []int64{2, 3, 1}, ids(got))
	assert.Equal(t, []int64{1, 2, 3}, ids(in), "input must not be reordered")
}

func TestSortBoostsNewFeedOnTie(t *testing.T) {
	published := now.Add(-time.Hour)
	oldFeed := article(1, published, now.Add(-61*24*time.Hour))
	newFeed := article(2, published, now)

	got := Sort([]model.Article{oldFeed, newFeed}, now)

	assert.Equal(t, []int64{2, 1}, ids(got))
}

func TestSortPublishedDominatesWeight(t *testing.T) {
	older := article(1, now.Add(-2*time.Hour), now)
	newer := article(2, now.Add(-time.Hour), now.Add(-90*24*time.Hour))

	got := Sort([]model.Article{older, newer}, now)

	assert.Equal(t, []int64{2, 1}, ids(got))
}

func TestSortIsStableForEqualKeys(t *testing.T) {
	published := now.Add(-time.Hour)
	feedAdded := now.Add(-40 * 24 * time.Hour)
	in := []model.Article{
		article(5, published, feedAdded),
		article(3, published, feedAdded),
		article(9, published, feedAdded),
	}

	assert.Equal(t, []int64{5, 3, 9}, ids(Sort(in, now)))
}

func TestSortDeterministic(t *testing.T) {
	var in []model.Article
	for i := 0; i < 50; i++ {
		in = append(in, article(int64(i),
			now.Add(-time.Duration(i%7)*time.Hour),
			now.Add(-time.Duration(i%5)*24*time.Hour)))
	}

	first := Sort(in, now)
	second := Sort(in, now)

	require.Equal(t, ids(first), ids(second))
	for i := 1; i < len(first); i++ {
		assert.False(t, first[i].PublishedAt.After(first[i-1].PublishedAt),
			"article %d published after its predecessor", first[i].ID)
	}
}

func TestSortEmpty(t *testing.T) {
	assert.Empty(t, Sort(nil, now))
}
