// Package compat scores how much two users' viewing overlaps and picks who
// to show a user next.
package compat

import (
	"sort"
	"time"

	"github.com/oggyb/cowatch/internal/content"
	"github.com/oggyb/cowatch/internal/db"
	"github.com/oggyb/cowatch/internal/presence"
)

// Activity is one item in a user's viewing activity.
type Activity struct {
	ContentID int64
	Progress  float64 // percent, 0..100
	UpdatedAt time.Time
}

// ActivitySet is a user's activity keyed by canonical content id.
type ActivitySet map[int64]Activity

// Add keeps the most recently updated entry per content.
func (s ActivitySet) Add(a Activity) {
	if cur, ok := s[a.ContentID]; ok && !a.UpdatedAt.After(cur.UpdatedAt) {
		return
	}
	s[a.ContentID] = a
}

// AddHistory merges history rows. Rows with unusable content ids are skipped.
func (s ActivitySet) AddHistory(rows []db.WatchHistory) {
	for _, h := range rows {
		id, err := content.ParseID(h.ContentID)
		if err != nil {
			continue
		}
		s.Add(Activity{ContentID: id, Progress: h.Progress, UpdatedAt: h.WatchedAt})
	}
}

// AddSession merges a live session. durationFallback is used when the
// session does not know its own duration.
func (s ActivitySet) AddSession(ws *db.WatchSession, durationFallback float64) {
	if ws == nil {
		return
	}
	id, err := content.ParseID(ws.ContentID)
	if err != nil {
		return
	}
	duration := ws.DurationSeconds
	if duration <= 0 {
		duration = durationFallback
	}
	s.Add(Activity{
		ContentID: id,
		Progress:  presence.ProgressPercent(ws.PositionSeconds, duration),
		UpdatedAt: ws.LastUpdatedAt,
	})
}

// Scorer computes the compatibility score.
//
//	base     = |common| / |A|
//	progress = sum over common of (1 - |pA - pB| / 100) * ProgressWeight, capped
//	recency  = sum over common of RecencyWeight when both sides were active
//	           within RecencyWindow, capped
//
// The total is clamped to [0,1]. No common content means exactly 0.
type Scorer struct {
	ProgressWeight float64
	ProgressCap    float64
	RecencyWeight  float64
	RecencyCap     float64
	RecencyWindow  time.Duration
}

func DefaultScorer() Scorer {
	return Scorer{
		ProgressWeight: 0.1,
		ProgressCap:    0.3,
		RecencyWeight:  0.05,
		RecencyCap:     0.2,
		RecencyWindow:  10 * time.Minute,
	}
}

// Score is asymmetric: it measures how much of a's activity b shares.
func (s Scorer) Score(a, b ActivitySet, now time.Time) float64 {
	if len(a) == 0 {
		return 0
	}

	common := Common(a, b)
	if len(common) == 0 {
		return 0
	}

	base := float64(len(common)) / float64(len(a))

	var progress, recency float64
	for _, id := range common {
		x, y := a[id], b[id]

		diff := x.Progress - y.Progress
		if diff < 0 {
			diff = -diff
		}
		closeness := 1 - diff/100
		if closeness < 0 {
			closeness = 0
		}
		progress += closeness * s.ProgressWeight

		older := x.UpdatedAt
		if y.UpdatedAt.Before(older) {
			older = y.UpdatedAt
		}
		if now.Sub(older) < s.RecencyWindow {
			recency += s.RecencyWeight
		}
	}
	progress = min(progress, s.ProgressCap)
	recency = min(recency, s.RecencyCap)

	return max(0, min(1, base+progress+recency))
}

// Common returns content ids present in both sets, ascending.
func Common(a, b ActivitySet) []int64 {
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	var out []int64
	for id := range small {
		if _, ok := large[id]; ok {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
