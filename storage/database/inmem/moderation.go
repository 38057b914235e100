package inmemdb

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/nithadya/classsync/core/moderation"
)

type moderationRepository struct {
	db *flagTable
}

var _ moderation.Repository = (*moderationRepository)(nil) // interface compliance check

func NewModerationRepository(db *DB) moderation.Repository {
	return &moderationRepository{db: db.moderation}
}

func (repo *moderationRepository) CreateFlaggedContent(_ context.Context, fc moderation.FlaggedContent) (moderation.FlaggedContent, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	fc.ID = uuid.New().String()
	repo.db.table[fc.ID] = &fc
	return fc, nil
}

func (repo *moderationRepository) GetFlaggedContent(_ context.Context, id string) (moderation.FlaggedContent, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if fc, ok := repo.db.table[id]; ok {
		return *fc, nil
	}
	return moderation.FlaggedContent{}, moderation.ErrNotFound
}

func (repo *moderationRepository) QueryFlaggedContent(_ context.Context, filter moderation.QueryFilter) ([]moderation.FlaggedContent, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	flags := make([]moderation.FlaggedContent, 0, len(repo.db.table))
	for _, fc := range repo.db.table {
		if filter.Status != "" && fc.Status != filter.Status {
			continue
		}
		if filter.ContentType != "" && fc.ContentType != filter.ContentType {
			continue
		}
		flags = append(flags, *fc)
	}
	sort.Slice(flags, func(i, j int) bool {
		if !flags[i].CreatedAt.Equal(flags[j].CreatedAt) {
			return flags[i].CreatedAt.After(flags[j].CreatedAt)
		}
		return flags[i].ID < flags[j].ID
	})
	return flags, nil
}

func (repo *moderationRepository) UpdateFlaggedContent(_ context.Context, fc moderation.FlaggedContent) (moderation.FlaggedContent, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.table[fc.ID]; !ok {
		return moderation.FlaggedContent{}, moderation.ErrNotFound
	}
	repo.db.table[fc.ID] = &fc
	return fc, nil
}
