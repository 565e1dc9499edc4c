// Package coviewing aggregates every user's watch session into a shared
// "who is watching what" view.
package coviewing

import (
	"maps"
	"slices"
	"sort"
	"time"

	"github.com/oggyb/cowatch/internal/content"
)

// Viewer is one user inside a group.
type Viewer struct {
	UserID          string    `json:"user_id"`
	DisplayName     string    `json:"display_name,omitempty"`
	PhotoURL        string    `json:"photo_url,omitempty"`
	PositionSeconds float64   `json:"position_seconds"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	LastUpdatedAt   time.Time `json:"last_updated_at"`
}

// Group is everyone currently watching one catalog item.
// Groups inside a published Snapshot are shared and must not be modified.
type Group struct {
	ContentID int64             `json:"content_id"`
	MediaType content.MediaType `json:"media_type"`
	Metadata  content.Metadata  `json:"metadata"`
	Viewers   map[string]Viewer `json:"viewers"`
	StartedAt time.Time         `json:"started_at"`

	enriched bool
}

// ViewerIDs returns the viewers' ids in ascending order.
func (g *Group) ViewerIDs() []string {
	return slices.Sorted(maps.Keys(g.Viewers))
}

func (g *Group) clone() *Group {
	c := *g
	c.Viewers = maps.Clone(g.Viewers)
	return &c
}

// recomputeStart sets StartedAt to the earliest viewer start.
func (g *Group) recomputeStart() {
	var earliest time.Time
	for _, v := range g.Viewers {
		if earliest.IsZero() || v.StartedAt.Before(earliest) {
			earliest = v.StartedAt
		}
	}
	g.StartedAt = earliest
}

type membership struct {
	contentID int64
	startedAt time.Time
}

// Snapshot is an immutable view of all groups. A new Snapshot is built for
// every change and swapped in whole.
type Snapshot struct {
	Groups  []*Group
	BuiltAt time.Time
	Version uint64

	byContent map[int64]*Group
	byUser    map[string]membership
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		byContent: map[int64]*Group{},
		byUser:    map[string]membership{},
	}
}

// Group returns the group for a content id.
func (s *Snapshot) Group(contentID int64) (*Group, bool) {
	g, ok := s.byContent[contentID]
	return g, ok
}

// ContentOf returns what the user is watching according to this snapshot.
func (s *Snapshot) ContentOf(userID string) (int64, bool) {
	m, ok := s.byUser[userID]
	return m.contentID, ok
}

// Viewer returns the user's entry, if watching.
func (s *Snapshot) Viewer(userID string) (Viewer, bool) {
	m, ok := s.byUser[userID]
	if !ok {
		return Viewer{}, false
	}
	v, ok := s.byContent[m.contentID].Viewers[userID]
	return v, ok
}

// ViewerCount is the number of users across all groups.
func (s *Snapshot) ViewerCount() int {
	return len(s.byUser)
}

// mutable returns a shallow copy whose maps can be edited. Groups are still
// shared and must be cloned before they are changed.
func (s *Snapshot) mutable() *Snapshot {
	return &Snapshot{
		BuiltAt:   s.BuiltAt,
		Version:   s.Version,
		byContent: maps.Clone(s.byContent),
		byUser:    maps.Clone(s.byUser),
	}
}

// seal orders the groups: most viewers first, then ascending content id.
func (s *Snapshot) seal() {
	groups := make([]*Group, 0, len(s.byContent))
	for _, g := range s.byContent {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool {
		if len(groups[i].Viewers) != len(groups[j].Viewers) {
			return len(groups[i].Viewers) > len(groups[j].Viewers)
		}
		return groups[i].ContentID < groups[j].ContentID
	})
	s.Groups = groups
}
