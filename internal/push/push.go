package push

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

	"signalbridge/pkg/logx"
)

// DefaultEndpoint is the Expo push gateway.
const DefaultEndpoint = "https://exp.host/--/api/v2/push/send"

// ErrInvalidToken means the configured token is not an Expo push token.
// Non-retryable: the token must be re-registered by the phone.
var ErrInvalidToken = errors.New("invalid expo push token")

// ErrNotConfigured means no push token is configured.
var ErrNotConfigured = errors.New("push token not configured")

// Notification is one phone notification.
type Notification struct {
	Title string
	Body  string
	Data  map[string]any
}

// Sender delivers notifications to a single device token via Expo.
type Sender struct {
	token    string
	endpoint string
	client   *http.Client
	log      logx.Logger
}

func NewSender(token, endpoint string, log logx.Logger) *Sender {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Sender{
		token:    strings.TrimSpace(token),
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      log,
	}
}

// Configured reports whether a token is present (not whether it is valid).
func (s *Sender) Configured() bool { return s.token != "" }

// ValidToken checks the Expo token shape without calling the provider.
func ValidToken(token string) bool {
	return (strings.HasPrefix(token, "ExponentPushToken[") ||
		strings.HasPrefix(token, "ExpoPushToken[")) &&
		strings.HasSuffix(token, "]")
}

// Send posts one notification. The token is validated before the network
// call; an invalid token fails fast with ErrInvalidToken.
func (s *Sender) Send(ctx context.Context, n Notification) error {
	if s.token == "" {
		return ErrNotConfigured
	}
	if !ValidToken(s.token) {
		return ErrInvalidToken
	}

	data := n.Data
	if data == nil {
		data = map[string]any{}
	}
	body, err := json.Marshal(map[string]any{
		"to":    s.token,
		"title": n.Title,
		"body":  n.Body,
		"data":  data,
		"sound": "default",
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("expo push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("expo push: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	s.log.Debug("push sent", logx.String("title", n.Title))
	return nil
}
