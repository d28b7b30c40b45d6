package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kirogate/kirogate/internal/infrastructure/logger"
	apperrors "github.com/kirogate/kirogate/pkg/errors"
)

const (
	refreshURLTemplate = "https://prod.%s.auth.desktop.kiro.dev/refreshToken"
	apiHostTemplate    = "https://codewhisperer.%s.amazonaws.com"
	qHostTemplate      = "https://q.%s.amazonaws.com"

	// Issued expiries are shortened by this skew so a token is never used in
	// its final minute.
	expirySkew = 60 * time.Second

	defaultExpiresIn = 3600 // seconds, when the refresh response omits expiresIn
)

// ManagerConfig configures a credential manager.
type ManagerConfig struct {
	RefreshToken string
	ProfileArn   string
	Region       string
	CredsSource  string // local path or http(s) URL; empty = in-memory only
	Threshold    time.Duration
	MaxRetries   int
	BaseDelay    time.Duration

	// RefreshURL and APIHost override the regional endpoints. Used in tests.
	RefreshURL string
	APIHost    string
}

// Manager owns one refresh token and the access token minted from it.
// Token state is mutated only inside the single-flight refresh; readers take
// the mutex.
type Manager struct {
	mu           sync.Mutex
	refreshToken string
	accessToken  string
	expiresAt    time.Time
	profileArn   string

	region      string
	credsSource string
	persist     bool // only local files are written back
	refreshURL  string
	apiHost     string

	threshold  time.Duration
	maxRetries int
	baseDelay  time.Duration

	group       singleflight.Group
	client      *http.Client
	fingerprint string
	logger      *zap.Logger
}

// NewManager builds a credential manager. When cfg.CredsSource is set the
// file (or URL) is loaded immediately; missing fields fall back to the
// explicit config values.
func NewManager(cfg ManagerConfig, log *zap.Logger) (*Manager, error) {
	m := &Manager{
		refreshToken: cfg.RefreshToken,
		profileArn:   cfg.ProfileArn,
		region:       cfg.Region,
		credsSource:  cfg.CredsSource,
		refreshURL:   cfg.RefreshURL,
		apiHost:      cfg.APIHost,
		threshold:    cfg.Threshold,
		maxRetries:   cfg.MaxRetries,
		baseDelay:    cfg.BaseDelay,
		client:       &http.Client{Timeout: 30 * time.Second},
		fingerprint:  MachineFingerprint(),
		logger:       log.With(zap.String("component", "credential-manager")),
	}
	if m.region == "" {
		m.region = "us-east-1"
	}
	if m.threshold <= 0 {
		m.threshold = 5 * time.Minute
	}
	if m.maxRetries <= 0 {
		m.maxRetries = 3
	}
	if m.baseDelay <= 0 {
		m.baseDelay = time.Second
	}

	if cfg.CredsSource != "" {
		m.persist = !strings.HasPrefix(cfg.CredsSource, "http://") &&
			!strings.HasPrefix(cfg.CredsSource, "https://")
		creds, err := LoadCredentials(cfg.CredsSource)
		if err != nil {
			// A missing local file is tolerated; it will be created after the
			// first successful refresh.
			if !m.persist {
				return nil, err
			}
			m.logger.Warn("Credentials file not loaded, starting from config",
				zap.String("source", cfg.CredsSource), zap.Error(err))
		} else {
			m.applyCredentials(creds)
		}
	}

	if m.refreshToken == "" {
		return nil, apperrors.NewTokenRefreshError("no refresh token configured", nil)
	}
	return m, nil
}

func (m *Manager) applyCredentials(creds *Credentials) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if creds.RefreshToken != "" {
		m.refreshToken = creds.RefreshToken
	}
	if creds.AccessToken != "" {
		m.accessToken = creds.AccessToken
	}
	if !creds.ExpiresAt.IsZero() {
		m.expiresAt = creds.ExpiresAt
	}
	if creds.ProfileArn != "" {
		m.profileArn = creds.ProfileArn
	}
	if creds.Region != "" {
		m.region = creds.Region
	}
}

// Region returns the configured upstream region.
func (m *Manager) Region() string { return m.region }

// ProfileArn returns the current profile ARN.
func (m *Manager) ProfileArn() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profileArn
}

// RefreshToken returns the refresh token identity of this manager.
func (m *Manager) RefreshToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshToken
}

// Fingerprint returns the machine fingerprint used in outbound user agents.
func (m *Manager) Fingerprint() string { return m.fingerprint }

// RefreshURL is the token-minting endpoint for this region.
func (m *Manager) RefreshURL() string {
	if m.refreshURL != "" {
		return m.refreshURL
	}
	return fmt.Sprintf(refreshURLTemplate, m.region)
}

// APIHost is the generation endpoint host for this region.
func (m *Manager) APIHost() string {
	if m.apiHost != "" {
		return m.apiHost
	}
	return fmt.Sprintf(apiHostTemplate, m.region)
}

// QHost is the Amazon Q endpoint host for this region.
func (m *Manager) QHost() string { return fmt.Sprintf(qHostTemplate, m.region) }

// GetAccessToken returns a valid access token, refreshing when the cached one
// is missing or inside the expiry threshold. Concurrent callers share a
// single refresh.
func (m *Manager) GetAccessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	token := m.accessToken
	valid := token != "" && time.Now().Add(m.threshold).Before(m.expiresAt)
	m.mu.Unlock()

	if valid {
		return token, nil
	}
	return m.refresh(ctx)
}

// ForceRefresh discards the cached token and mints a new one. It obeys the
// single-flight guard: a refresh already in flight is joined, not duplicated.
func (m *Manager) ForceRefresh(ctx context.Context) (string, error) {
	return m.refresh(ctx)
}

func (m *Manager) refresh(ctx context.Context) (string, error) {
	// The refresh is detached from the caller's context: a disconnecting
	// client must not cancel a refresh whose result the next request can use.
	detached := context.WithoutCancel(ctx)
	result, err, _ := m.group.Do("refresh", func() (interface{}, error) {
		return m.doRefresh(detached)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ProfileArn   string `json:"profileArn,omitempty"`
	ExpiresIn    int    `json:"expiresIn,omitempty"`
}

func (m *Manager) doRefresh(ctx context.Context) (string, error) {
	m.mu.Lock()
	refreshToken := m.refreshToken
	m.mu.Unlock()
	if refreshToken == "" {
		return "", apperrors.NewTokenRefreshError("no refresh token configured", nil)
	}

	body, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return "", apperrors.NewTokenRefreshError("marshal refresh request", err)
	}

	var lastErr error
	for attempt := 0; attempt < m.maxRetries; attempt++ {
		if attempt > 0 {
			delay := m.baseDelay * time.Duration(1<<(attempt-1))
			m.logger.Debug("Retrying token refresh",
				zap.Int("attempt", attempt+1), zap.Duration("delay", delay))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", apperrors.NewTokenRefreshError("refresh cancelled", ctx.Err())
			}
		}

		token, retriable, err := m.refreshOnce(ctx, body)
		if err == nil {
			return token, nil
		}
		lastErr = err
		if !retriable {
			break
		}
	}
	return "", apperrors.NewTokenRefreshError("token refresh failed", lastErr)
}

func (m *Manager) refreshOnce(ctx context.Context, body []byte) (token string, retriable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.RefreshURL(), bytes.NewReader(body))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", fmt.Sprintf("KiroIDE-Gateway/1.0 (%s)", m.fingerprint[:16]))

	resp, err := m.client.Do(req)
	if err != nil {
		return "", true, err // network errors are retriable
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return "", true, fmt.Errorf("refresh endpoint returned %d", resp.StatusCode)
	default:
		return "", false, fmt.Errorf("refresh endpoint returned %d: %s", resp.StatusCode, respBody)
	}

	var parsed refreshResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", false, fmt.Errorf("parse refresh response: %w", err)
	}
	if parsed.AccessToken == "" {
		return "", false, fmt.Errorf("refresh response missing accessToken")
	}

	expiresIn := parsed.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = defaultExpiresIn
	}
	expiresAt := time.Now().Add(time.Duration(expiresIn)*time.Second - expirySkew)

	m.mu.Lock()
	m.accessToken = parsed.AccessToken
	m.expiresAt = expiresAt
	if parsed.RefreshToken != "" {
		m.refreshToken = parsed.RefreshToken
	}
	if parsed.ProfileArn != "" {
		m.profileArn = parsed.ProfileArn
	}
	creds := Credentials{
		RefreshToken: m.refreshToken,
		AccessToken:  m.accessToken,
		ExpiresAt:    m.expiresAt,
		ProfileArn:   m.profileArn,
		Region:       m.region,
	}
	m.mu.Unlock()

	m.logger.Info("Access token refreshed",
		zap.String("refresh_token", logger.RedactToken(creds.RefreshToken)),
		zap.Time("expires_at", expiresAt))

	if m.persist {
		if err := SaveCredentials(m.credsSource, &creds); err != nil {
			m.logger.Warn("Failed to persist credentials", zap.Error(err))
		}
	}
	return parsed.AccessToken, false, nil
}

// WatchCredentialsFile follows external rewrites of a local credentials file
// and hot-reloads the record. Returns immediately when the manager has no
// persistable file. Blocks until ctx is cancelled.
func (m *Manager) WatchCredentialsFile(ctx context.Context) error {
	if !m.persist || m.credsSource == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create credentials watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(m.credsSource); err != nil {
		return fmt.Errorf("watch credentials file: %w", err)
	}
	m.logger.Info("Watching credentials file", zap.String("path", m.credsSource))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			creds, err := LoadCredentials(m.credsSource)
			if err != nil {
				m.logger.Warn("Credentials file changed but unreadable", zap.Error(err))
				continue
			}
			m.applyCredentials(creds)
			m.logger.Info("Credentials reloaded from file")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.logger.Warn("Credentials watcher error", zap.Error(err))
		}
	}
}
