package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-market/internal/domain"
	"agent-market/internal/infra/config"
)

func TestMapHTTPError(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, domain.ErrRateLimit},
		{http.StatusUnauthorized, domain.ErrAuthInvalid},
		{http.StatusForbidden, domain.ErrAuthInvalid},
		{http.StatusRequestEntityTooLarge, domain.ErrContextOverflow},
		{http.StatusInternalServerError, domain.ErrProviderUnavail},
		{http.StatusBadGateway, domain.ErrProviderUnavail},
		{http.StatusServiceUnavailable, domain.ErrProviderUnavail},
		{http.StatusBadRequest, domain.ErrProviderError},
		{http.StatusTeapot, domain.ErrProviderError},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := mapHTTPError(tt.status, []byte(`{"error":"details"}`))
			if !errors.Is(err, tt.want) {
				t.Errorf("status %d: expected %v, got %v", tt.status, tt.want, err)
			}
		})
	}
}

func TestMapHTTPErrorIncludesBody(t *testing.T) {
	err := mapHTTPError(http.StatusTooManyRequests, []byte(`detailed error info from API`))
	assert.Contains(t, err.Error(), "API error 429")
	assert.Contains(t, err.Error(), "detailed error info from API")
}

func TestDoJSONRequest(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), "fail") {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer ts.Close()

	headers := map[string]string{"X-Api-Key": "secret"}
	got, err := doJSONRequest(context.Background(), ts.Client(), ts.URL, []byte(`{"q":"hi"}`), headers)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(got))

	_, err = doJSONRequest(context.Background(), ts.Client(), ts.URL, []byte(`{"q":"fail"}`), headers)
	assert.True(t, errors.Is(err, domain.ErrProviderUnavail))
}

func TestNewHTTPClientTimeouts(t *testing.T) {
	c := NewHTTPClient(config.LLMConfig{})
	assert.Equal(t, defaultConnTimeout+defaultRespTimeout, c.Timeout)

	c = NewHTTPClient(config.LLMConfig{ConnTimeout: time.Second, Timeout: 2 * time.Second})
	assert.Equal(t, 3*time.Second, c.Timeout)
}

func TestLogChatCompleted(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	logChatCompleted(logger, "anthropic", &domain.ChatResponse{Model: "m", Usage: domain.Usage{TotalTokens: 42}})
	assert.Contains(t, buf.String(), "provider=anthropic")
	assert.Contains(t, buf.String(), "tokens=42")
}
