package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalbridge/pkg/logx"
)

func TestValidToken(t *testing.T) {
	t.Parallel()
	assert.True(t, ValidToken("ExponentPushToken[abc123]"))
	assert.True(t, ValidToken("ExpoPushToken[abc123]"))
	assert.False(t, ValidToken("abc123"))
	assert.False(t, ValidToken("ExponentPushToken[abc123"))
	assert.False(t, ValidToken(""))
}

func TestSendNotConfigured(t *testing.T) {
	t.Parallel()
	s := NewSender("", "", logx.Nop())
	assert.False(t, s.Configured())
	err := s.Send(context.Background(), Notification{Title: "t", Body: "b"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestSendInvalidTokenFailsBeforeNetwork(t *testing.T) {
	t.Parallel()
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	s := NewSender("garbage-token", srv.URL, logx.Nop())
	err := s.Send(context.Background(), Notification{Title: "t", Body: "b"})
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.False(t, called)
}

func TestSendPostsExpoPayload(t *testing.T) {
	t.Parallel()
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSender("ExponentPushToken[abc]", srv.URL, logx.Nop())
	err := s.Send(context.Background(), Notification{
		Title: "Battery low",
		Body:  "15% remaining",
		Data:  map[string]any{"eventId": "e1"},
	})
	require.NoError(t, err)

	assert.Equal(t, "ExponentPushToken[abc]", got["to"])
	assert.Equal(t, "Battery low", got["title"])
	assert.Equal(t, "15% remaining", got["body"])
	assert.Equal(t, "default", got["sound"])
	assert.Equal(t, map[string]any{"eventId": "e1"}, got["data"])
}

func TestSendNonSuccessStatus(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "device not registered", http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewSender("ExpoPushToken[abc]", srv.URL, logx.Nop())
	err := s.Send(context.Background(), Notification{Title: "t", Body: "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Contains(t, err.Error(), "device not registered")
}
