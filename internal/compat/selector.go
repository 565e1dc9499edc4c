package compat

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/oggyb/cowatch/internal/content"
	"github.com/oggyb/cowatch/internal/coviewing"
	apperrors "github.com/oggyb/cowatch/internal/errors"
	"github.com/oggyb/cowatch/internal/presence"
	"github.com/oggyb/cowatch/internal/repository"
)

// SnapshotSource is the live co-viewing view candidates are drawn from.
type SnapshotSource interface {
	Snapshot() *coviewing.Snapshot
}

// Candidate is a user worth showing to the caller.
type Candidate struct {
	UserID           string    `json:"user_id"`
	DisplayName      string    `json:"display_name,omitempty"`
	PhotoURL         string    `json:"photo_url,omitempty"`
	Score            float64   `json:"score"`
	CommonContentIDs []int64   `json:"common_content_ids"`
	WatchingNow      int64     `json:"watching_now"`
	LastActiveAt     time.Time `json:"last_active_at"`
}

// SelectorOptions bound the candidate list.
type SelectorOptions struct {
	FreshnessWindow time.Duration
	MaxCandidates   int
	HistoryWindow   time.Duration
}

// Selector builds the "who should I be shown" list.
//
// Pool: everyone in the current co-viewing snapshot except the caller and
// users excluded by relationship state. Each candidate is scored, users
// with score 0 or no activity inside FreshnessWindow are dropped, and the
// rest are shuffled before capping so that the same top scorers do not
// crowd out everyone else.
type Selector struct {
	source    SnapshotSource
	sessions  *repository.SessionRepository
	history   *repository.HistoryRepository
	relations *repository.RelationRepository
	users     *repository.UserRepository
	scorer    Scorer
	clock     clockwork.Clock
	log       *slog.Logger
	opts      SelectorOptions

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewSelector wires a Selector. rng may be nil for a randomly seeded source.
func NewSelector(
	source SnapshotSource,
	sessions *repository.SessionRepository,
	history *repository.HistoryRepository,
	relations *repository.RelationRepository,
	users *repository.UserRepository,
	scorer Scorer,
	clock clockwork.Clock,
	rng *rand.Rand,
	log *slog.Logger,
	opts SelectorOptions,
) *Selector {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if opts.FreshnessWindow <= 0 {
		opts.FreshnessWindow = 5 * time.Minute
	}
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = 20
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 30 * 24 * time.Hour
	}
	return &Selector{
		source:    source,
		sessions:  sessions,
		history:   history,
		relations: relations,
		users:     users,
		scorer:    scorer,
		clock:     clock,
		log:       log,
		opts:      opts,
		rng:       rng,
	}
}

// RealTimeMatches returns at most MaxCandidates shuffled candidates.
// Store failures degrade to an empty list.
func (s *Selector) RealTimeMatches(ctx context.Context, userID string) ([]Candidate, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", apperrors.ErrInvalidArgument)
	}

	now := s.clock.Now().UTC()
	snap := s.source.Snapshot()

	excluded, err := s.relations.Excluded(ctx, userID)
	if err != nil {
		s.log.Warn("failed to load exclusions, returning no candidates", "user", userID, "err", err)
		return []Candidate{}, nil
	}

	var pool []string
	for _, g := range snap.Groups {
		for id := range g.Viewers {
			if id == userID {
				continue
			}
			if _, skip := excluded[id]; skip {
				continue
			}
			pool = append(pool, id)
		}
	}
	if len(pool) == 0 {
		return []Candidate{}, nil
	}
	sort.Strings(pool)

	summaries, err := s.users.Summaries(ctx, pool)
	if err != nil {
		s.log.Warn("failed to load candidate profiles", "user", userID, "err", err)
		summaries = nil
	}

	history, err := s.history.ListForUsers(ctx, append([]string{userID}, pool...), now.Add(-s.opts.HistoryWindow))
	if err != nil {
		s.log.Warn("failed to load watch history, scoring live sessions only", "user", userID, "err", err)
		history = nil
	}

	mine := ActivitySet{}
	mine.AddHistory(history[userID])
	if cur, err := s.sessions.Current(ctx, userID); err != nil {
		s.log.Warn("failed to load caller session", "user", userID, "err", err)
	} else if cur != nil {
		mine.AddSession(cur, runtimeOf(snap, cur.ContentID))
	}

	out := make([]Candidate, 0, len(pool))
	for _, id := range pool {
		v, _ := snap.Viewer(id)
		watching, _ := snap.ContentOf(id)

		lastActive := v.LastUpdatedAt
		sum := summaries[id]
		if sum.LastActiveAt.After(lastActive) {
			lastActive = sum.LastActiveAt
		}
		if now.Sub(lastActive) > s.opts.FreshnessWindow {
			continue
		}

		theirs := ActivitySet{}
		theirs.AddHistory(history[id])
		theirs.Add(liveActivity(snap, watching, v))

		score := s.scorer.Score(mine, theirs, now)
		if score <= 0 {
			continue
		}
		out = append(out, Candidate{
			UserID:           id,
			DisplayName:      sum.DisplayName,
			PhotoURL:         sum.PhotoURL,
			Score:            score,
			CommonContentIDs: Common(mine, theirs),
			WatchingNow:      watching,
			LastActiveAt:     lastActive,
		})
	}

	s.shuffle(out)
	if len(out) > s.opts.MaxCandidates {
		out = out[:s.opts.MaxCandidates]
	}
	return out, nil
}

// shuffle is an unbiased Fisher–Yates permutation.
func (s *Selector) shuffle(c []Candidate) {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	for i := len(c) - 1; i > 0; i-- {
		j := s.rng.IntN(i + 1)
		c[i], c[j] = c[j], c[i]
	}
}

func liveActivity(snap *coviewing.Snapshot, contentID int64, v coviewing.Viewer) Activity {
	duration := v.DurationSeconds
	if duration <= 0 {
		if g, ok := snap.Group(contentID); ok {
			duration = float64(g.Metadata.RuntimeMinutes) * 60
		}
	}
	return Activity{
		ContentID: contentID,
		Progress:  presence.ProgressPercent(v.PositionSeconds, duration),
		UpdatedAt: v.LastUpdatedAt,
	}
}

func runtimeOf(snap *coviewing.Snapshot, rawID string) float64 {
	id, err := content.ParseID(rawID)
	if err != nil {
		return 0
	}
	if g, ok := snap.Group(id); ok {
		return float64(g.Metadata.RuntimeMinutes) * 60
	}
	return 0
}
