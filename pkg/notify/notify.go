// Package notify tells the external matcher that new profiles are available.
package notify

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

//go:generate mockgen -source=notify.go -destination=mock_notifier.go -package=notify

// UploadNotification is the body posted to the matcher after an upload.
type UploadNotification struct {
	UploadID     uint     `json:"upload_id"`
	NewUserCount int      `json:"new_user_count"`
	NewUserIDs   []string `json:"new_user_ids"`
}

type Notifier interface {
	NotifyUpload(ctx context.Context, n UploadNotification) error
}

// Nop drops every notification.
type Nop struct{}

func (Nop) NotifyUpload(context.Context, UploadNotification) error { return nil }

// New returns a Webhook for baseURL, or Nop when baseURL is blank.
func New(baseURL string, timeout time.Duration, signingSecret string) Notifier {
	if strings.TrimSpace(baseURL) == "" {
		return Nop{}
	}
	return NewWebhook(baseURL, timeout, signingSecret)
}

// BestEffort delivers n and logs a failure instead of returning it. The call
// is detached from ctx cancellation so a client hanging up does not abort it.
func BestEffort(ctx context.Context, logger *log.Logger, notifier Notifier, n UploadNotification) {
	if notifier == nil {
		return
	}
	if err := notifier.NotifyUpload(context.WithoutCancel(ctx), n); err != nil {
		logger.Warn("matcher notification failed", "upload_id", n.UploadID, "new_users", n.NewUserCount, "err", err)
		return
	}
	logger.Debug("matcher notified", "upload_id", n.UploadID, "new_users", n.NewUserCount)
}

var _ Notifier = Nop{}
