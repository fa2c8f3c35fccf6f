// Package store is the single data-access layer over gorm shared by the HTTP
// handlers, the CLI commands and the drop-folder watcher.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"loanmatch/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for callers that need raw access (migrations, sanitize).
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Summary holds the aggregate counts shown on the home and dashboard views.
type Summary struct {
	TotalUsers      int64 `json:"total_users"`
	TotalProducts   int64 `json:"total_products"`
	TotalMatches    int64 `json:"total_matches"`
	NotifiedMatches int64 `json:"notified_matches"`
}

func (s *Store) Summary(ctx context.Context) (Summary, error) {
	var sum Summary
	db := s.db.WithContext(ctx)
	if err := db.Model(&models.UserProfile{}).Count(&sum.TotalUsers).Error; err != nil {
		return Summary{}, fmt.Errorf("count profiles: %w", err)
	}
	if err := db.Model(&models.LoanProduct{}).Count(&sum.TotalProducts).Error; err != nil {
		return Summary{}, fmt.Errorf("count products: %w", err)
	}
	if err := db.Model(&models.UserLoanMatch{}).Count(&sum.TotalMatches).Error; err != nil {
		return Summary{}, fmt.Errorf("count matches: %w", err)
	}
	if err := db.Model(&models.UserLoanMatch{}).Where("notified = ?", true).Count(&sum.NotifiedMatches).Error; err != nil {
		return Summary{}, fmt.Errorf("count notified matches: %w", err)
	}
	return sum, nil
}

// profileUpdateColumns are overwritten when an upload repeats a user_id.
var profileUpdateColumns = []string{"email", "monthly_income", "credit_score", "employment_status", "age", "updated_at"}

// UpsertProfile inserts p or updates the existing row with the same UserID.
// created reports whether no row with that UserID existed beforehand; under a
// concurrent insert of the same UserID it may be wrong, the row count never is.
func (s *Store) UpsertProfile(ctx context.Context, p *models.UserProfile) (created bool, err error) {
	db := s.db.WithContext(ctx)
	var n int64
	if err := db.Model(&models.UserProfile{}).Where("user_id = ?", p.UserID).Count(&n).Error; err != nil {
		return false, fmt.Errorf("lookup profile %s: %w", p.UserID, err)
	}
	p.ID = 0
	err = db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns(profileUpdateColumns),
	}).Create(p).Error
	if err != nil {
		return false, fmt.Errorf("upsert profile %s: %w", p.UserID, err)
	}
	return n == 0, nil
}

func (s *Store) GetProfile(ctx context.Context, id uint) (models.UserProfile, error) {
	var p models.UserProfile
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return models.UserProfile{}, notFound(err, ErrProfileNotFound)
	}
	return p, nil
}

// ListProfiles returns every profile, newest first.
func (s *Store) ListProfiles(ctx context.Context) ([]models.UserProfile, error) {
	return s.RecentProfiles(ctx, 0)
}

// RecentProfiles returns up to limit profiles, newest first. limit <= 0 means all.
func (s *Store) RecentProfiles(ctx context.Context, limit int) ([]models.UserProfile, error) {
	out := []models.UserProfile{}
	q := s.db.WithContext(ctx).Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	return out, nil
}

// ListProducts returns every product, cheapest interest rate first.
func (s *Store) ListProducts(ctx context.Context) ([]models.LoanProduct, error) {
	out := []models.LoanProduct{}
	if err := s.db.WithContext(ctx).Order("interest_rate ASC, id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return out, nil
}

func (s *Store) GetProduct(ctx context.Context, id uint) (models.LoanProduct, error) {
	var p models.LoanProduct
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return models.LoanProduct{}, notFound(err, ErrProductNotFound)
	}
	return p, nil
}

func (s *Store) CreateProduct(ctx context.Context, p *models.LoanProduct) error {
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("create product: %w", err)
	}
	return nil
}

// UpsertMatch records that userID qualifies for productID. A repeated pair
// keeps its row and takes the new score. Unknown parents yield ErrProfileNotFound
// or ErrProductNotFound.
func (s *Store) UpsertMatch(ctx context.Context, userID, productID uint, score int) (models.UserLoanMatch, bool, error) {
	var (
		m       models.UserLoanMatch
		created bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Select("id").First(&models.UserProfile{}, userID).Error; err != nil {
			return notFound(err, ErrProfileNotFound)
		}
		if err := tx.Select("id").First(&models.LoanProduct{}, productID).Error; err != nil {
			return notFound(err, ErrProductNotFound)
		}

		err := tx.Where("user_id = ? AND loan_product_id = ?", userID, productID).First(&m).Error
		switch {
		case err == nil:
			if err := tx.Model(&m).Update("match_score", score).Error; err != nil {
				return err
			}
			m.MatchScore = score
			return nil
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		m = models.UserLoanMatch{UserID: userID, LoanProductID: productID, MatchScore: score}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "loan_product_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"match_score"}),
		}).Create(&m).Error; err != nil {
			return foreignKeyError(err)
		}
		created = true
		return nil
	})
	if err != nil {
		return models.UserLoanMatch{}, false, err
	}
	return m, created, nil
}

// MarkNotified flags a match as delivered to the user. A match that is already
// notified keeps its original NotifiedAt.
func (s *Store) MarkNotified(ctx context.Context, id uint) (models.UserLoanMatch, error) {
	var m models.UserLoanMatch
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&m, id).Error; err != nil {
			return notFound(err, ErrMatchNotFound)
		}
		if m.Notified && m.NotifiedAt != nil {
			return nil
		}
		now := time.Now().UTC()
		res := tx.Model(&models.UserLoanMatch{}).
			Where("id = ? AND (notified = ? OR notified_at IS NULL)", id, false).
			Updates(map[string]any{"notified": true, "notified_at": now})
		if res.Error != nil {
			return res.Error
		}
		return tx.First(&m, id).Error
	})
	if err != nil {
		return models.UserLoanMatch{}, err
	}
	return m, nil
}

// RecentMatches returns up to limit matches, newest first, with User and
// LoanProduct loaded for display.
func (s *Store) RecentMatches(ctx context.Context, limit int) ([]models.UserLoanMatch, error) {
	out := []models.UserLoanMatch{}
	q := s.db.WithContext(ctx).Preload("User").Preload("LoanProduct").Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	return out, nil
}
