package store

import (
	"context"
	"fmt"

	"loanmatch/models"
)

// CreateUpload opens an audit record in the processing state.
func (s *Store) CreateUpload(ctx context.Context, filename string) (*models.CSVUpload, error) {
	u := &models.CSVUpload{Filename: filename, Status: models.UploadProcessing}
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		return nil, fmt.Errorf("create upload: %w", err)
	}
	return u, nil
}

// FinishUpload persists the counters, status and error log of u.
func (s *Store) FinishUpload(ctx context.Context, u *models.CSVUpload) error {
	err := s.db.WithContext(ctx).Model(u).
		Select("total_records", "successful_records", "failed_records", "status", "error_log").
		Updates(u).Error
	if err != nil {
		return fmt.Errorf("finish upload %d: %w", u.ID, err)
	}
	return nil
}

// FailUpload marks u failed with msg as its error log.
func (s *Store) FailUpload(ctx context.Context, u *models.CSVUpload, msg string) error {
	u.Status = models.UploadFailed
	u.ErrorLog = &msg
	return s.FinishUpload(ctx, u)
}

// ListUploads returns up to limit audit records, newest first.
func (s *Store) ListUploads(ctx context.Context, limit int) ([]models.CSVUpload, error) {
	out := []models.CSVUpload{}
	q := s.db.WithContext(ctx).Order("uploaded_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	return out, nil
}

func (s *Store) GetUpload(ctx context.Context, id uint) (models.CSVUpload, error) {
	var u models.CSVUpload
	if err := s.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return models.CSVUpload{}, notFound(err, ErrUploadNotFound)
	}
	return u, nil
}
