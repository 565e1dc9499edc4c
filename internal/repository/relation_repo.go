package repository

import (
	"context"

	"github.com/oggyb/cowatch/internal/db"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RelationRepository reads and writes both sides of a user pair.
type RelationRepository struct {
	db *gorm.DB
}

// NewRelationRepository creates a new repository bound to the given DB connection.
func NewRelationRepository(database *gorm.DB) *RelationRepository {
	return &RelationRepository{db: database}
}

// Pair holds both directed rows of a relationship.
// AB is what A's record says about B, BA the reverse.
type Pair struct {
	AB db.Relation
	BA db.Relation
}

// Transact loads the (a,b) pair, hands it to fn and writes back every side
// fn changed, all inside one transaction.
//
// Behavior:
//   - Missing rows are presented as zero-value relations and created on write.
//   - Rows are locked FOR UPDATE on engines that support it, so two writers
//     on the same pair serialize.
//   - If fn returns an error nothing is written.
//
// Example:
//
//	repo.Transact(ctx, "alice", "bob", func(tx *gorm.DB, p *Pair) error {
//		p.AB.Blocked, p.BA.Blocked = true, true
//		return nil
//	})
func (r *RelationRepository) Transact(
	ctx context.Context,
	a, b string,
	fn func(tx *gorm.DB, p *Pair) error,
) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx
		if tx.Dialector.Name() != "sqlite" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		var rows []db.Relation
		err := q.Where("(owner_id = ? AND other_id = ?) OR (owner_id = ? AND other_id = ?)", a, b, b, a).
			Order("owner_id").
			Find(&rows).Error
		if err != nil {
			return err
		}

		p := &Pair{
			AB: db.Relation{OwnerID: a, OtherID: b},
			BA: db.Relation{OwnerID: b, OtherID: a},
		}
		for _, row := range rows {
			if row.OwnerID == a {
				p.AB = row
			} else {
				p.BA = row
			}
		}
		before := *p

		if err := fn(tx, p); err != nil {
			return err
		}

		if p.AB != before.AB {
			if err := upsertRelation(tx, &p.AB); err != nil {
				return err
			}
		}
		if p.BA != before.BA {
			if err := upsertRelation(tx, &p.BA); err != nil {
				return err
			}
		}
		return nil
	})
}

// relationColumns are rewritten on conflict. updated_at is listed
// explicitly so the caller's timestamp wins over gorm's auto-update time.
var relationColumns = []string{
	"liked", "liked_at", "status", "matched_at", "matched_content_id",
	"blocked", "blocked_at", "updated_at",
}

func upsertRelation(tx *gorm.DB, rel *db.Relation) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_id"}, {Name: "other_id"}},
		DoUpdates: clause.AssignmentColumns(relationColumns),
	}).Create(rel).Error
}

// Get returns owner's row about other, or a zero-value relation when none exists.
func (r *RelationRepository) Get(ctx context.Context, owner, other string) (db.Relation, error) {
	var rows []db.Relation
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND other_id = ?", owner, other).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return db.Relation{}, err
	}
	if len(rows) == 0 {
		return db.Relation{OwnerID: owner, OtherID: other}, nil
	}
	return rows[0], nil
}

// ListByOwner returns every row owned by the user, most recently changed first.
func (r *RelationRepository) ListByOwner(ctx context.Context, owner string) ([]db.Relation, error) {
	var rows []db.Relation
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", owner).
		Order("updated_at DESC, other_id").
		Find(&rows).Error
	return rows, err
}

// Excluded returns the users that must never be suggested to userID:
// anyone blocked in either direction and anyone already matched.
func (r *RelationRepository) Excluded(ctx context.Context, userID string) (map[string]struct{}, error) {
	var own []db.Relation
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND (blocked = ? OR status = ?)", userID, true, db.RelationMatched).
		Find(&own).Error
	if err != nil {
		return nil, err
	}

	var blockedBy []string
	err = r.db.WithContext(ctx).
		Model(&db.Relation{}).
		Where("other_id = ? AND blocked = ?", userID, true).
		Pluck("owner_id", &blockedBy).Error
	if err != nil {
		return nil, err
	}

	out := make(map[string]struct{}, len(own)+len(blockedBy))
	for _, rel := range own {
		out[rel.OtherID] = struct{}{}
	}
	for _, id := range blockedBy {
		out[id] = struct{}{}
	}
	return out, nil
}

// ScanAfter pages through all rows in primary-key order for background
// checks. Pass the last seen (owner, other) to continue; empty strings start
// from the beginning.
func (r *RelationRepository) ScanAfter(
	ctx context.Context,
	owner, other string,
	limit int,
) ([]db.Relation, error) {
	var rows []db.Relation
	err := r.db.WithContext(ctx).
		Where("owner_id > ? OR (owner_id = ? AND other_id > ?)", owner, owner, other).
		Order("owner_id, other_id").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
