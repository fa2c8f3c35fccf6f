package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultTimeout = 5 * time.Second
	tokenIssuer    = "loanmatch"
	tokenTTL       = 5 * time.Minute
	userMatchPath  = "/user-matching"
)

// Claims is carried in the bearer token of a signed webhook call.
type Claims struct {
	UploadID uint `json:"upload_id"`
	jwt.RegisteredClaims
}

// Webhook posts notifications to <baseURL>/user-matching.
type Webhook struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
	secret  []byte
}

func NewWebhook(baseURL string, timeout time.Duration, signingSecret string) *Webhook {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	w := &Webhook{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
	if signingSecret != "" {
		w.secret = []byte(signingSecret)
	}
	return w
}

func (w *Webhook) NotifyUpload(ctx context.Context, n UploadNotification) error {
	if n.NewUserIDs == nil {
		n.NewUserIDs = []string{}
	}
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	endpoint := w.baseURL + userMatchPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.secret != nil {
		token, err := w.sign(n.UploadID, time.Now())
		if err != nil {
			return fmt.Errorf("sign webhook token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		rb, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("matcher webhook failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(rb)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (w *Webhook) sign(uploadID uint, now time.Time) (string, error) {
	claims := Claims{
		UploadID: uploadID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(w.secret)
}

// VerifyToken checks a bearer token produced by a Webhook signed with secret.
func VerifyToken(secret, token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrInvalidKeyType
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

var _ Notifier = (*Webhook)(nil)
