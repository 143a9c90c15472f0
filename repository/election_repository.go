package repository

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"campus-election-backend/database"
	"campus-election-backend/errs"
	"campus-election-backend/models"
)

// ExistenceFilter is a probabilistic set of known ids. A negative answer
// is authoritative only while every id has been added; a positive one must
// be confirmed by the store.
type ExistenceFilter interface {
	Add(ctx context.Context, item string) error
	Contains(ctx context.Context, item string) (bool, error)
}

type batchAdder interface {
	AddMany(ctx context.Context, items ...string) error
}

// ElectionFilter narrows List.
type ElectionFilter struct {
	Query string
}

// ElectionRepository persists elections.
type ElectionRepository struct {
	db     *gorm.DB
	filter ExistenceFilter
	// warm is set once WarmFilter has loaded every id. Until then negative
	// filter answers are not trusted.
	warm *atomic.Bool
}

// NewElectionRepository creates the repository. filter may be nil; it is
// consulted only after a successful WarmFilter.
func NewElectionRepository(db *gorm.DB, filter ExistenceFilter) *ElectionRepository {
	return &ElectionRepository{db: db, filter: filter, warm: new(atomic.Bool)}
}

// WithTx returns a copy bound to tx.
func (r *ElectionRepository) WithTx(tx *gorm.DB) *ElectionRepository {
	return &ElectionRepository{db: tx, filter: r.filter, warm: r.warm}
}

func filterKey(id uint) string {
	return "election:" + strconv.FormatUint(uint64(id), 10)
}

// Create inserts e. A title clash is reported as a conflict. The id is
// added to the filter before the insert commits, so a failed add leaves no
// election that the filter would hide.
func (r *ElectionRepository) Create(ctx context.Context, e *models.Election) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(e).Error; err != nil {
			return err
		}
		return r.remember(ctx, e.ID)
	})
	if err != nil {
		if database.IsUniqueViolation(err) {
			return errs.Wrap(errs.ErrTitleTaken, err)
		}
		return fmt.Errorf("create election: %w", err)
	}
	return nil
}

func (r *ElectionRepository) remember(ctx context.Context, id uint) error {
	if r.filter == nil {
		return nil
	}
	if err := r.filter.Add(ctx, filterKey(id)); err != nil {
		zap.L().Warn("bloom filter add failed", zap.Uint("election_id", id), zap.Error(err))
		return fmt.Errorf("add election %d to bloom filter: %w", id, err)
	}
	return nil
}

// FindByID loads an election. Once warm, the bloom filter short-circuits
// ids that were never created.
func (r *ElectionRepository) FindByID(ctx context.Context, id uint) (*models.Election, error) {
	if r.filter != nil && r.warm.Load() {
		exists, err := r.filter.Contains(ctx, filterKey(id))
		if err == nil && !exists {
			return nil, errs.ErrElectionNotFound
		}
	}

	var e models.Election
	if err := r.db.WithContext(ctx).First(&e, id).Error; err != nil {
		if database.IsNotFound(err) {
			return nil, errs.ErrElectionNotFound
		}
		return nil, fmt.Errorf("find election %d: %w", id, err)
	}
	return &e, nil
}

// TitleTaken reports whether another election already uses title.
func (r *ElectionRepository) TitleTaken(ctx context.Context, title string, excludeID uint) (bool, error) {
	var count int64
	q := r.db.WithContext(ctx).Model(&models.Election{}).Where("title = ?", title)
	if excludeID != 0 {
		q = q.Where("id <> ?", excludeID)
	}
	if err := q.Count(&count).Error; err != nil {
		return false, fmt.Errorf("check title: %w", err)
	}
	return count > 0, nil
}

// Save writes every column of e.
func (r *ElectionRepository) Save(ctx context.Context, e *models.Election) error {
	if err := r.db.WithContext(ctx).Save(e).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return errs.Wrap(errs.ErrTitleTaken, err)
		}
		return fmt.Errorf("save election %d: %w", e.ID, err)
	}
	return nil
}

// SetFlag turns on a one-way boolean column (closed_early,
// results_published). It never turns one off.
func (r *ElectionRepository) SetFlag(ctx context.Context, id uint, column, updatedBy string) error {
	switch column {
	case "closed_early", "results_published":
	default:
		return fmt.Errorf("unknown election flag %q", column)
	}
	res := r.db.WithContext(ctx).Model(&models.Election{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{column: true, "updated_by": updatedBy})
	if res.Error != nil {
		return fmt.Errorf("set %s on election %d: %w", column, id, res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.ErrElectionNotFound
	}
	return nil
}

// Delete removes an election and its candidacies.
func (r *ElectionRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("election_id = ?", id).Delete(&models.Candidate{}).Error; err != nil {
			return fmt.Errorf("delete candidates of election %d: %w", id, err)
		}
		res := tx.Delete(&models.Election{}, id)
		if res.Error != nil {
			return fmt.Errorf("delete election %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return errs.ErrElectionNotFound
		}
		return nil
	})
}

// List returns elections, newest window first.
func (r *ElectionRepository) List(ctx context.Context, f ElectionFilter) ([]models.Election, error) {
	q := r.db.WithContext(ctx).Model(&models.Election{})
	if s := strings.TrimSpace(f.Query); s != "" {
		q = q.Where("LOWER(title) LIKE ?", "%"+strings.ToLower(s)+"%")
	}

	var out []models.Election
	if err := q.Order("start_time DESC, id DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list elections: %w", err)
	}
	return out, nil
}

// IDs returns every election id, used to warm the existence filter.
func (r *ElectionRepository) IDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	if err := r.db.WithContext(ctx).Model(&models.Election{}).Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list election ids: %w", err)
	}
	return ids, nil
}

// WarmFilter loads every existing id into the existence filter. Lookups
// bypass the filter until it succeeds.
func (r *ElectionRepository) WarmFilter(ctx context.Context) error {
	if r.filter == nil {
		return nil
	}
	r.warm.Store(false)
	ids, err := r.IDs(ctx)
	if err != nil {
		return err
	}
	if b, ok := r.filter.(batchAdder); ok {
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = filterKey(id)
		}
		if err := b.AddMany(ctx, keys...); err != nil {
			return fmt.Errorf("warm bloom filter: %w", err)
		}
	} else {
		for _, id := range ids {
			if err := r.filter.Add(ctx, filterKey(id)); err != nil {
				return fmt.Errorf("warm bloom filter: %w", err)
			}
		}
	}
	r.warm.Store(true)
	zap.L().Info("election bloom filter warmed", zap.Int("count", len(ids)))
	return nil
}
