package credentials

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore persists credential records and OAuth transactions in the
// service database.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore constructs a store over an opened database connection.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, fmt.Errorf("credentials: database connection required")
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Get(ctx context.Context, userID string, provider Provider) (Record, error) {
	userID = normalizeUserID(userID)
	if userID == "" || provider == "" {
		return Record{}, ErrInvalidKey
	}
	var record Record
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND provider = ?", userID, provider).
		First(&record).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	return record, nil
}

func (s *GormStore) Put(ctx context.Context, record Record) error {
	record.UserID = normalizeUserID(record.UserID)
	if record.UserID == "" || record.Provider == "" {
		return ErrInvalidKey
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "provider"}},
			UpdateAll: true,
		}).
		Create(&record).
		Error
}

func (s *GormStore) Clear(ctx context.Context, userID string, provider Provider) error {
	userID = normalizeUserID(userID)
	if userID == "" || provider == "" {
		return ErrInvalidKey
	}
	return s.db.WithContext(ctx).
		Where("user_id = ? AND provider = ?", userID, provider).
		Delete(&Record{}).
		Error
}

func (s *GormStore) PutState(ctx context.Context, state TransactionState) error {
	state.UserID = normalizeUserID(state.UserID)
	if state.UserID == "" || state.Provider == "" {
		return ErrInvalidKey
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "provider"}},
			UpdateAll: true,
		}).
		Create(&state).
		Error
}

func (s *GormStore) ConsumeState(ctx context.Context, userID string, provider Provider) (string, error) {
	userID = normalizeUserID(userID)
	if userID == "" || provider == "" {
		return "", ErrInvalidKey
	}
	nonce := ""
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var state TransactionState
		err := tx.Where("user_id = ? AND provider = ?", userID, provider).
			First(&state).
			Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNoTransaction
		}
		if err != nil {
			return err
		}
		nonce = state.Nonce
		return tx.Where("user_id = ? AND provider = ?", userID, provider).
			Delete(&TransactionState{}).
			Error
	})
	if err != nil {
		return "", err
	}
	return nonce, nil
}

func (s *GormStore) ClearState(ctx context.Context, userID string, provider Provider) error {
	userID = normalizeUserID(userID)
	if userID == "" || provider == "" {
		return ErrInvalidKey
	}
	return s.db.WithContext(ctx).
		Where("user_id = ? AND provider = ?", userID, provider).
		Delete(&TransactionState{}).
		Error
}
