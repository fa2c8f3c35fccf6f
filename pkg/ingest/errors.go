package ingest

import "errors"

var (
	ErrMissingFile = errors.New("No CSV file provided")
	ErrNotCSV      = errors.New("File must be a CSV")
	ErrTooLarge    = errors.New("CSV file is too large")
)

// FileError is a failure that aborts the whole upload, as opposed to a row
// error which only fails that row.
type FileError struct {
	Err error
}

func (e *FileError) Error() string { return e.Err.Error() }

func (e *FileError) Unwrap() error { return e.Err }
