// Package ranking orders articles for display.
package ranking

import (
	"slices"
	"time"

	"github.com/bryan-buckman/quickfeed/internal/model"
)

// DecayPerDay is how much of the new-feed boost is lost per day of feed age.
const DecayPerDay = 0.05

// Weight returns the boost of an article whose feed was added at feedAddedAt:
// 1 for a brand new feed, falling linearly to 0 after 20 days.
func Weight(feedAddedAt, now time.Time) float64 {
	ageDays := now.Sub(feedAddedAt).Seconds() / 86400
	return max(0, 1-DecayPerDay*ageDays)
}

// Sort returns a copy of articles ordered by published time, newest first,
// with ties broken by the higher feed weight. The sort is stable, so
// articles with equal keys keep their input order. now is used for every
// weight in the call.
func Sort(articles []model.Article, now time.Time) []model.Article {
	type keyed struct {
		article model.Article
		weight  float64
	}
	items := make([]keyed, len(articles))
	for i, a := range articles {
		items[i] = keyed{article: a, weight: Weight(a.FeedAddedAt, now)}
	}

	slices.SortStableFunc(items, func(a, b keyed) int {
		if c := b.article.PublishedAt.Compare(a.article.PublishedAt); c != 0 {
			return c
		}
		switch {
		case a.weight > b.weight:
			return -1
		case a.weight < b.weight:
			return 1
		}
		return 0
	})

	sorted := make([]model.Article, len(items))
	for i, it := range items {
		sorted[i] = it.article
	}
	return sorted
}
