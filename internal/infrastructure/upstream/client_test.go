package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kirogate/kirogate/internal/domain/chat"
	"github.com/kirogate/kirogate/internal/infrastructure/auth"
	apperrors "github.com/kirogate/kirogate/pkg/errors"
)

// clientFixture wires a client against stub refresh and generation servers.
type clientFixture struct {
	client      *Client
	refreshHits *int64
}

func newClientFixture(t *testing.T, cfg ClientConfig, handler http.HandlerFunc) *clientFixture {
	t.Helper()

	var refreshHits int64
	refresh := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&refreshHits, 1)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"accessToken": "at-test",
			"expiresIn":   3600,
		})
	}))
	t.Cleanup(refresh.Close)

	up := httptest.NewServer(handler)
	t.Cleanup(up.Close)

	mgr, err := auth.NewManager(auth.ManagerConfig{
		RefreshToken: "rt-test",
		Region:       "us-east-1",
		RefreshURL:   refresh.URL,
		APIHost:      up.URL,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = 10 * time.Millisecond
	}
	return &clientFixture{
		client:      NewClient(mgr, cfg, zap.NewNop()),
		refreshHits: &refreshHits,
	}
}

func testPayload() *Payload {
	req := &chat.Request{
		Model:    "claude-sonnet-4-5",
		Messages: []chat.Message{{Role: chat.RoleUser, Text: "hi"}},
	}
	return BuildPayload(req, "conv-1", "arn:aws:codewhisperer:us-east-1:0:profile/p")
}

func TestSendForcedRefreshOn403(t *testing.T) {
	var attempts int64
	fx := newClientFixture(t, ClientConfig{MaxRetries: 3}, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer at-test" {
			t.Errorf("authorization = %q", got)
		}
		if atomic.AddInt64(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte(`{"content":"ok"}`))
	})

	resp, err := fx.client.Send(context.Background(), testPayload(), true)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	defer resp.Body.Close()

	if n := atomic.LoadInt64(&attempts); n != 2 {
		t.Errorf("upstream attempts = %d, want 2", n)
	}
	// One refresh for the initial token plus exactly one forced by the 403.
	if n := atomic.LoadInt64(fx.refreshHits); n != 2 {
		t.Errorf("refresh hits = %d, want 2", n)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"content":"ok"}` {
		t.Errorf("body = %s", body)
	}
}

func TestSendRetriesServerErrorsWithBackoff(t *testing.T) {
	var attempts int64
	fx := newClientFixture(t, ClientConfig{MaxRetries: 3}, func(w http.ResponseWriter, r *http.Request) {
		switch atomic.AddInt64(&attempts, 1) {
		case 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		case 2:
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.Write([]byte(`{"content":"ok"}`))
		}
	})

	resp, err := fx.client.Send(context.Background(), testPayload(), false)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	resp.Body.Close()
	if n := atomic.LoadInt64(&attempts); n != 3 {
		t.Errorf("upstream attempts = %d, want 3", n)
	}
}

func TestSendPassesClientErrorThroughVerbatim(t *testing.T) {
	var attempts int64
	fx := newClientFixture(t, ClientConfig{MaxRetries: 3}, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&attempts, 1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"no such model"}`))
	})

	_, err := fx.client.Send(context.Background(), testPayload(), false)
	if err == nil {
		t.Fatal("expected error for 404")
	}
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("err = %T", err)
	}
	if appErr.HTTPStatus() != http.StatusNotFound {
		t.Errorf("status = %d, want 404 verbatim", appErr.HTTPStatus())
	}
	if !strings.Contains(appErr.Message, "no such model") {
		t.Errorf("message = %q, upstream body lost", appErr.Message)
	}
	if n := atomic.LoadInt64(&attempts); n != 1 {
		t.Errorf("upstream attempts = %d, want 1 (4xx is not retried)", n)
	}
}

func TestSendExhaustedRetriesNonStream(t *testing.T) {
	fx := newClientFixture(t, ClientConfig{MaxRetries: 2}, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := fx.client.Send(context.Background(), testPayload(), false)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if apperrors.KindOf(err) != apperrors.KindUpstream {
		t.Errorf("kind = %v", apperrors.KindOf(err))
	}
}

func TestSendSlowHeaderTimeoutUsesMultiplier(t *testing.T) {
	delay := 300 * time.Millisecond
	handler := func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(delay)
		w.Write([]byte(`{"content":"late"}`))
	}

	// Slow family: the multiplied deadline outlives the upstream delay.
	slow := newClientFixture(t, ClientConfig{
		MaxRetries:        1,
		FirstTokenTimeout: 80 * time.Millisecond,
		SlowMultiplier:    10,
		Slow:              true,
	}, handler)
	resp, err := slow.client.Send(context.Background(), testPayload(), true)
	if err != nil {
		t.Fatalf("slow request should survive the delay: %v", err)
	}
	resp.Body.Close()

	// Same timing without the slow flag: the base deadline fires first and
	// streaming timeouts surface as the first-token sentinel.
	fast := newClientFixture(t, ClientConfig{
		MaxRetries:        1,
		FirstTokenTimeout: 80 * time.Millisecond,
		SlowMultiplier:    10,
	}, handler)
	_, err = fast.client.Send(context.Background(), testPayload(), true)
	if !errors.Is(err, apperrors.ErrFirstTokenTimeout) {
		t.Fatalf("err = %v, want first-token sentinel", err)
	}
}

func TestSendSetsProtocolHeaders(t *testing.T) {
	var got http.Header
	fx := newClientFixture(t, ClientConfig{MaxRetries: 1}, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Write([]byte(`{}`))
	})

	resp, err := fx.client.Send(context.Background(), testPayload(), false)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	resp.Body.Close()

	if got.Get("amz-sdk-invocation-id") == "" {
		t.Error("missing amz-sdk-invocation-id")
	}
	if got.Get("amz-sdk-request") != "attempt=1; max=1" {
		t.Errorf("amz-sdk-request = %q", got.Get("amz-sdk-request"))
	}
	if ua := got.Get("User-Agent"); !strings.HasPrefix(ua, "aws-sdk-js/1.0.7 KiroIDE-") {
		t.Errorf("user agent = %q", ua)
	}
}
