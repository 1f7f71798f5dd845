// Package growatt implements the cloud transport against the Growatt server
// API: login with the vendor password hash, plant/device discovery and the
// Noah status/config fetches. The service owns its HTTP session (cookie jar
// plus auth token) exclusively; callers serialize through the coordinator.
package growatt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/mvolli/growatt-bridge/internal/pkg/config"
	"github.com/mvolli/growatt-bridge/internal/pkg/errs"
	"github.com/mvolli/growatt-bridge/internal/pkg/model"
)

const (
	loginPath        = "/newTwoLoginAPI.do"
	plantListPath    = "/PlantListAPI.do"
	noahCheckPath    = "/noahDeviceApi/noah/isPlantNoahSystem"
	noahStatusPath   = "/noahDeviceApi/noah/getSystemStatus"
	noahInfoPath     = "/noahDeviceApi/noah/getNoahInfoBySn"
	deviceListPath   = "/newTwoPlantAPI.do?op=getAllDeviceList"
	storageAPIPath   = "/newStorageAPI.do"
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
)

type tokenStore interface {
	Load(identity string) (model.AuthSession, bool)
	Save(session model.AuthSession) error
}

type service struct {
	cfg     *config.BridgeConfig
	client  *http.Client
	logger  *zap.Logger
	tokens  tokenStore
	session model.AuthSession
	device  *model.PlantDeviceRef
}

func New(cfg *config.BridgeConfig, tokens tokenStore) *service {
	jar, _ := cookiejar.New(nil)
	return &service{
		cfg: cfg,
		client: &http.Client{
			Jar:     jar,
			Timeout: cfg.Timeout,
		},
		logger: zap.L(),
		tokens: tokens,
	}
}

// TestConnection reports whether a login succeeds. Missing credentials are a
// definite no without touching the network.
func (s *service) TestConnection(ctx context.Context) bool {
	if s.cfg.Username == "" || s.cfg.Password == "" {
		return false
	}
	if _, err := s.Login(ctx); err != nil {
		s.logger.Debug("connection test failed", zap.Error(err))
		return false
	}
	return true
}

// FetchRaw resolves the device on first use and returns the flat Noah status
// record.
func (s *service) FetchRaw(ctx context.Context) (model.RawTelemetry, error) {
	if err := s.ensureSession(ctx); err != nil {
		return nil, err
	}
	if s.device == nil {
		ref, err := s.DiscoverDevice(ctx)
		if err != nil {
			return nil, err
		}
		s.device = ref
	}
	return s.fetchStatus(ctx, s.device.DeviceSerial)
}

// FetchConfig is the best-effort secondary fetch (device configuration and
// storage detail). Callers treat failures as log-only.
func (s *service) FetchConfig(ctx context.Context) (model.RawTelemetry, error) {
	if err := s.ensureSession(ctx); err != nil {
		return nil, err
	}
	if s.device == nil {
		return nil, fmt.Errorf("device not resolved yet: %w", errs.ErrDeviceNotFound)
	}
	return s.fetchDeviceConfig(ctx, s.device.DeviceSerial)
}

// Rediscover drops the cached device ref so the next fetch re-runs the
// discovery chain. Used by the daily cron job.
func (s *service) Rediscover() {
	s.device = nil
}

func (s *service) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *service) ensureSession(ctx context.Context) error {
	if s.session.Valid() && s.session.Identity == s.cfg.Username {
		return nil
	}
	if s.tokens != nil {
		if cached, ok := s.tokens.Load(s.cfg.Username); ok {
			s.logger.Debug("reusing cached session token", zap.String("identity", cached.Identity))
			s.session = cached
			return nil
		}
	}
	_, err := s.Login(ctx)
	return err
}

func (s *service) expireSession() {
	s.session = model.AuthSession{}
	// cookie state is tied to the dead session, start over
	jar, _ := cookiejar.New(nil)
	s.client.Jar = jar
}

// postForm issues an authenticated form POST and decodes the JSON response.
// A login-page-shaped (HTML) body means the session expired: the session is
// cleared, login retried once and the request re-issued once. The retry is
// depth-bounded; a second expiry surfaces ErrSessionExpired.
func (s *service) postForm(ctx context.Context, path string, form url.Values, out any) error {
	return s.postFormRetry(ctx, path, form, out, true)
}

func (s *service) postFormRetry(ctx context.Context, path string, form url.Values, out any, mayRelogin bool) error {
	body, err := s.do(ctx, http.MethodPost, path, form)
	if err != nil {
		return err
	}

	if looksLikeLoginRedirect(body) {
		if !mayRelogin {
			return fmt.Errorf("server redirected to login twice for %s: %w", path, errs.ErrSessionExpired)
		}
		s.logger.Info("session expired, re-authenticating", zap.String("path", path))
		s.expireSession()
		if _, err := s.Login(ctx); err != nil {
			return err
		}
		return s.postFormRetry(ctx, path, form, out, false)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding %s response: %v: %w", path, err, errs.ErrProtocol)
	}
	return nil
}

func (s *service) do(ctx context.Context, method, path string, form url.Values) ([]byte, error) {
	var reqBody io.Reader
	if form != nil {
		reqBody = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, s.cfg.ServerURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Referer", s.cfg.ServerURL+"/")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	res, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %v: %w", method, path, err, errs.ErrTransient)
	}
	defer func() { _ = res.Body.Close() }()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %v: %w", path, err, errs.ErrTransient)
	}
	if res.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("HTTP %d from %s: %w", res.StatusCode, path, errs.ErrRateLimited)
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d from %s: %w", res.StatusCode, path, errs.ErrTransient)
	}
	return body, nil
}

func looksLikeLoginRedirect(body []byte) bool {
	trimmed := strings.TrimSpace(string(body))
	return strings.HasPrefix(trimmed, "<")
}
