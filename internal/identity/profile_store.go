package identity

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrProfileNotFound indicates no profile row exists for the id.
var ErrProfileNotFound = errors.New("identity: profile not found")

// ProfileStore is the persistence surface the service consumes.
type ProfileStore interface {
	ByID(ctx context.Context, id string) (Profile, error)
	Create(ctx context.Context, profile Profile) error
	Update(ctx context.Context, id string, updates map[string]any) (Profile, error)
}

// GormProfileStore persists profiles through a gorm connection.
type GormProfileStore struct {
	db *gorm.DB
}

// NewGormProfileStore wraps the provided database connection.
func NewGormProfileStore(db *gorm.DB) (*GormProfileStore, error) {
	if db == nil {
		return nil, fmt.Errorf("identity: database connection required")
	}
	return &GormProfileStore{db: db}, nil
}

func (s *GormProfileStore) ByID(ctx context.Context, id string) (Profile, error) {
	var profile Profile
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, ErrProfileNotFound
	}
	if err != nil {
		return Profile{}, err
	}
	return profile, nil
}

func (s *GormProfileStore) Create(ctx context.Context, profile Profile) error {
	if normalize(profile.ID) == "" {
		return fmt.Errorf("identity: profile id required")
	}
	return s.db.WithContext(ctx).Create(&profile).Error
}

func (s *GormProfileStore) Update(ctx context.Context, id string, updates map[string]any) (Profile, error) {
	if len(updates) > 0 {
		result := s.db.WithContext(ctx).Model(&Profile{}).Where("id = ?", id).Updates(updates)
		if result.Error != nil {
			return Profile{}, result.Error
		}
		if result.RowsAffected == 0 {
			return Profile{}, ErrProfileNotFound
		}
	}
	return s.ByID(ctx, id)
}
