package compat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/oggyb/cowatch/internal/db"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func set(items ...Activity) ActivitySet {
	s := ActivitySet{}
	for _, a := range items {
		s.Add(a)
	}
	return s
}

func TestScoreNoOverlapIsZero(t *testing.T) {
	sc := DefaultScorer()
	a := set(Activity{ContentID: 1, UpdatedAt: now})
	b := set(Activity{ContentID: 2, UpdatedAt: now})

	assert.Equal(t, 0.0, sc.Score(a, b, now))
	assert.Equal(t, 0.0, sc.Score(ActivitySet{}, b, now))
}

func TestScoreSameContentIsPositive(t *testing.T) {
	sc := DefaultScorer()
	a := set(Activity{ContentID: 100, UpdatedAt: now})
	b := set(Activity{ContentID: 100, UpdatedAt: now})

	assert.Greater(t, sc.Score(a, b, now), 0.0)
	assert.LessOrEqual(t, sc.Score(a, b, now), 1.0)
}

func TestScoreIsAsymmetric(t *testing.T) {
	sc := DefaultScorer()
	old := now.Add(-time.Hour)
	a := set(
		Activity{ContentID: 1, Progress: 0, UpdatedAt: old},
		Activity{ContentID: 2, Progress: 0, UpdatedAt: old},
		Activity{ContentID: 3, Progress: 0, UpdatedAt: old},
		Activity{ContentID: 4, Progress: 0, UpdatedAt: old},
	)
	b := set(Activity{ContentID: 1, Progress: 100, UpdatedAt: old})

	// a: base 1/4, progress bonus 0 (opposite ends), no recency
	assert.InDelta(t, 0.25, sc.Score(a, b, now), 1e-9)
	// b: base 1/1 clamps at 1
	assert.InDelta(t, 1.0, sc.Score(b, a, now), 1e-9)
}

func TestScoreBonusesAreCapped(t *testing.T) {
	sc := DefaultScorer()
	a, b := ActivitySet{}, ActivitySet{}
	for i := int64(1); i <= 10; i++ {
		a.Add(Activity{ContentID: i, Progress: 50, UpdatedAt: now})
		b.Add(Activity{ContentID: i, Progress: 50, UpdatedAt: now})
	}
	for i := int64(11); i <= 40; i++ {
		a.Add(Activity{ContentID: i, UpdatedAt: now})
	}

	// base 10/40 + progress capped 0.3 + recency capped 0.2
	assert.InDelta(t, 0.75, sc.Score(a, b, now), 1e-9)
}

func TestScoreRecencyNeedsBothSidesRecent(t *testing.T) {
	sc := DefaultScorer()
	a := set(
		Activity{ContentID: 1, Progress: 10, UpdatedAt: now.Add(-time.Minute)},
		Activity{ContentID: 2, UpdatedAt: now},
		Activity{ContentID: 3, UpdatedAt: now},
		Activity{ContentID: 4, UpdatedAt: now},
		Activity{ContentID: 5, UpdatedAt: now},
	)
	recent := set(Activity{ContentID: 1, Progress: 10, UpdatedAt: now.Add(-2 * time.Minute)})
	stale := set(Activity{ContentID: 1, Progress: 10, UpdatedAt: now.Add(-20 * time.Minute)})

	assert.InDelta(t, 0.2+0.1+0.05, sc.Score(a, recent, now), 1e-9)
	assert.InDelta(t, 0.2+0.1, sc.Score(a, stale, now), 1e-9)
}

func TestActivitySetMerging(t *testing.T) {
	s := ActivitySet{}
	s.AddHistory([]db.WatchHistory{
		{ContentID: "7", Progress: 80, WatchedAt: now.Add(-time.Hour)},
		{ContentID: "7.0", Progress: 20, WatchedAt: now.Add(-2 * time.Hour)},
		{ContentID: "junk", WatchedAt: now},
	})
	assert.Len(t, s, 1)
	assert.Equal(t, 80.0, s[7].Progress)

	s.AddSession(&db.WatchSession{ContentID: "7", PositionSeconds: 30, LastUpdatedAt: now}, 60)
	assert.Equal(t, 50.0, s[7].Progress)

	s.AddSession(nil, 0)
	assert.Len(t, s, 1)
}

func TestCommonIsSorted(t *testing.T) {
	a := set(Activity{ContentID: 9}, Activity{ContentID: 3}, Activity{ContentID: 5})
	b := set(Activity{ContentID: 5}, Activity{ContentID: 9})
	assert.Equal(t, []int64{5, 9}, Common(a, b))
}
