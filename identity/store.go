package identity

import (
	"context"

	"gorm.io/gorm"

	"dm-service/model"
)

// Store answers identity questions straight from the users table.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Exists(ctx context.Context, ids ...uint) (bool, error) {
	want := dedupe(ids)
	if len(want) == 0 {
		return false, nil
	}
	var n int64
	err := s.db.WithContext(ctx).Model(&model.User{}).Where("id IN ?", want).Count(&n).Error
	if err != nil {
		return false, err
	}
	return int(n) == len(want), nil
}

func (s *Store) Profiles(ctx context.Context, ids []uint) (map[uint]model.Profile, error) {
	out := make(map[uint]model.Profile, len(ids))
	want := dedupe(ids)
	if len(want) == 0 {
		return out, nil
	}
	var users []model.User
	if err := s.db.WithContext(ctx).Where("id IN ?", want).Find(&users).Error; err != nil {
		return nil, err
	}
	for i := range users {
		out[users[i].ID] = users[i].Profile()
	}
	return out, nil
}

func dedupe(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
