package models

import (
	"time"
)

// UploadStatus is the lifecycle state of a CSVUpload.
type UploadStatus string

const (
	UploadPending    UploadStatus = "pending"
	UploadProcessing UploadStatus = "processing"
	UploadCompleted  UploadStatus = "completed"
	UploadFailed     UploadStatus = "failed"
)

// CSVUpload is the audit record of one ingestion attempt. Rows are never deleted
// by the application so admins can review what was imported and what failed.
type CSVUpload struct {
	ID                uint         `gorm:"primaryKey"`
	Filename          string       `gorm:"size:255;not null"`
	UploadedAt        time.Time    `gorm:"autoCreateTime;index"`
	TotalRecords      int          `gorm:"not null;default:0"`
	SuccessfulRecords int          `gorm:"not null;default:0"`
	FailedRecords     int          `gorm:"not null;default:0"`
	Status            UploadStatus `gorm:"size:20;not null;default:pending;index"`
	ErrorLog          *string      `gorm:"type:text"`
}

// TableName keeps the historical table name; gorm would otherwise pluralise to c_s_v_uploads.
func (CSVUpload) TableName() string { return "csv_uploads" }
