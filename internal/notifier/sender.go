package notifier

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ibra15-cyber/todo-backend/internal/domain"
)

// Sender delivers one notification to the external channel.
type Sender interface {
	// Endpoint identifies the destination for circuit breaking.
	Endpoint() string
	Send(ctx context.Context, n domain.Notification) SendResult
}

type SendResult struct {
	StatusCode int
	Error      error
	Duration   time.Duration
}

func (r SendResult) IsSuccess() bool {
	return r.Error == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

func (r SendResult) IsRetryable() bool {
	if r.Error != nil {
		return true
	}
	if r.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return r.StatusCode >= 500
}

const (
	HeaderNotificationID = "X-TaskExpiry-Notification-ID"
	HeaderSignature      = "X-TaskExpiry-Signature"

	defaultWebhookTimeout = 10 * time.Second
)

// WebhookSender posts notifications as JSON with an HMAC-SHA256 signature
// of the body.
type WebhookSender struct {
	client  *http.Client
	url     string
	secret  string
	timeout time.Duration
}

func NewWebhookSender(url, secret string, timeout time.Duration) *WebhookSender {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &WebhookSender{
		client:  &http.Client{},
		url:     url,
		secret:  secret,
		timeout: timeout,
	}
}

func (s *WebhookSender) Endpoint() string {
	return "webhook:" + s.url
}

func (s *WebhookSender) Send(ctx context.Context, n domain.Notification) SendResult {
	start := time.Now()

	body, err := json.Marshal(n)
	if err != nil {
		return SendResult{Error: fmt.Errorf("marshal: %w", err), Duration: time.Since(start)}
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctxTimeout, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return SendResult{Error: fmt.Errorf("create request: %w", err), Duration: time.Since(start)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderNotificationID, n.ID.String())
	req.Header.Set(HeaderSignature, ComputeSignature(s.secret, body))

	resp, err := s.client.Do(req)
	if err != nil {
		return SendResult{Error: fmt.Errorf("send: %w", err), Duration: time.Since(start)}
	}
	defer resp.Body.Close()

	return SendResult{StatusCode: resp.StatusCode, Duration: time.Since(start)}
}

func ComputeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is for receivers to verify incoming notifications.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := ComputeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// LogSender writes notifications to the log instead of delivering them.
// It is the default when no webhook is configured.
type LogSender struct{}

func (LogSender) Endpoint() string { return "log" }

func (LogSender) Send(ctx context.Context, n domain.Notification) SendResult {
	log.Info().
		Str("component", "notifier").
		Str("owner_id", n.OwnerID).
		Str("kind", string(n.Kind)).
		Str("subject", n.Subject).
		Msg("notifier: notification")
	return SendResult{StatusCode: http.StatusOK}
}
