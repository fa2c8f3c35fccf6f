// Package ingest turns uploaded CSV files into user profiles and records an
// audit entry for each attempt.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"loanmatch/models"
	"loanmatch/pkg/notify"
	"loanmatch/pkg/store"

	"github.com/charmbracelet/log"
)

const (
	DefaultErrorLogLimit    = 100
	DefaultErrorSampleLimit = 10
	DefaultMaxBytes         = 10 << 20
)

// Invalidator is told when aggregate counts may have changed.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

type Options struct {
	// MaxBytes caps the size of one file; larger input fails with ErrTooLarge.
	MaxBytes int64
	// ErrorLogLimit caps the messages kept in the audit record.
	ErrorLogLimit int
	// ErrorSampleLimit caps the messages returned to the caller.
	ErrorSampleLimit int
}

type Service struct {
	store    *store.Store
	notifier notify.Notifier
	cache    Invalidator
	logger   *log.Logger
	opts     Options
}

// NewService wires the ingestion pipeline. notifier and cache may be nil.
func NewService(st *store.Store, notifier notify.Notifier, cache Invalidator, logger *log.Logger, opts Options) *Service {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.ErrorLogLimit <= 0 {
		opts.ErrorLogLimit = DefaultErrorLogLimit
	}
	if opts.ErrorSampleLimit <= 0 {
		opts.ErrorSampleLimit = DefaultErrorSampleLimit
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Service{store: st, notifier: notifier, cache: cache, logger: logger.With("component", "ingest"), opts: opts}
}

func (s *Service) MaxBytes() int64 { return s.opts.MaxBytes }

// Result summarises one ingested file.
type Result struct {
	UploadID   uint
	Status     models.UploadStatus
	Successful int
	Failed     int
	// Errors holds every row failure in file order.
	Errors []string
	// NewUserIDs lists user_ids that had no profile before this upload.
	NewUserIDs []string
}

func (r Result) Total() int { return r.Successful + r.Failed }

// ErrorSample returns at most n row errors, never nil.
func (r Result) ErrorSample(n int) []string {
	if len(r.Errors) < n {
		n = len(r.Errors)
	}
	out := make([]string, n)
	copy(out, r.Errors[:n])
	return out
}

func (s *Service) SampleErrors(r Result) []string {
	return r.ErrorSample(s.opts.ErrorSampleLimit)
}

// Ingest reads one CSV file from body and upserts its rows. A non-.csv name is
// rejected with ErrNotCSV before anything is written. Whole-file failures mark
// the audit record failed and come back as *FileError with Result.UploadID set;
// row failures are counted in the Result and never returned as an error.
// Once the audit record exists the work ignores cancellation of ctx, so a
// started upload always runs to a completed or failed record.
func (s *Service) Ingest(ctx context.Context, filename string, body io.Reader) (Result, error) {
	if !IsCSVName(filename) {
		return Result{}, ErrNotCSV
	}
	ctx = context.WithoutCancel(ctx)
	upload, err := s.store.CreateUpload(ctx, filename)
	if err != nil {
		return Result{}, err
	}
	res := Result{UploadID: upload.ID, Status: models.UploadProcessing}
	logger := s.logger.With("upload_id", upload.ID, "file", filename)

	data, err := io.ReadAll(io.LimitReader(body, s.opts.MaxBytes+1))
	if err == nil && int64(len(data)) > s.opts.MaxBytes {
		err = ErrTooLarge
	}
	var rows []Row
	if err == nil {
		rows, err = ReadRows(data)
	}
	if err != nil {
		var ferr *FileError
		if !errors.As(err, &ferr) {
			ferr = &FileError{Err: err}
		}
		if uerr := s.store.FailUpload(ctx, upload, ferr.Error()); uerr != nil {
			logger.Error("mark upload failed", "err", uerr)
		}
		res.Status = models.UploadFailed
		logger.Warn("upload failed", "err", ferr)
		return res, ferr
	}

	for _, row := range rows {
		if row.Err != nil {
			res.Failed++
			res.Errors = append(res.Errors, row.Err.Error())
			continue
		}
		p := row.Record.Profile()
		created, err := s.store.UpsertProfile(ctx, &p)
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, (&RowError{Row: row.Num, Err: err}).Error())
			continue
		}
		res.Successful++
		if created {
			res.NewUserIDs = append(res.NewUserIDs, p.UserID)
		}
	}

	upload.TotalRecords = res.Total()
	upload.SuccessfulRecords = res.Successful
	upload.FailedRecords = res.Failed
	upload.Status = models.UploadCompleted
	upload.ErrorLog = s.errorLog(res.Errors)
	if err := s.store.FinishUpload(ctx, upload); err != nil {
		if uerr := s.store.FailUpload(ctx, upload, "finish upload: "+err.Error()); uerr != nil {
			logger.Error("mark upload failed", "err", uerr)
		}
		res.Status = models.UploadFailed
		return res, fmt.Errorf("finish upload: %w", err)
	}
	res.Status = models.UploadCompleted
	logger.Info("upload processed", "successful", res.Successful, "failed", res.Failed, "new_users", len(res.NewUserIDs))

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			logger.Debug("summary cache invalidate", "err", err)
		}
	}

	notify.BestEffort(ctx, logger, s.notifier, notify.UploadNotification{
		UploadID:     upload.ID,
		NewUserCount: len(res.NewUserIDs),
		NewUserIDs:   append([]string{}, res.NewUserIDs...),
	})
	return res, nil
}

func (s *Service) errorLog(msgs []string) *string {
	if len(msgs) == 0 {
		return nil
	}
	if len(msgs) > s.opts.ErrorLogLimit {
		msgs = msgs[:s.opts.ErrorLogLimit]
	}
	joined := strings.Join(msgs, "\n")
	return &joined
}
