package growatt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/mvolli/growatt-bridge/internal/pkg/errs"
	"github.com/mvolli/growatt-bridge/internal/pkg/model"
	"github.com/mvolli/growatt-bridge/pkg/hasher"
)

// Login authenticates against newTwoLoginAPI.do. The account id from the
// response acts as the auth token for subsequent calls; the server also sets
// session cookies on the client's jar. The token is persisted keyed by the
// username so restarts skip the login (repeated logins trip Growatt's rate
// limiter).
func (s *service) Login(ctx context.Context) (model.AuthSession, error) {
	form := url.Values{
		"userName": {s.cfg.Username},
		"password": {hasher.HashPassword(s.cfg.Password)},
	}

	body, err := s.do(ctx, "POST", loginPath, form)
	if err != nil {
		return model.AuthSession{}, err
	}

	res := backResult[loginBack]{}
	if err := json.Unmarshal(body, &res); err != nil {
		return model.AuthSession{}, fmt.Errorf("decoding login response: %v: %w", err, errs.ErrProtocol)
	}

	if !res.Back.Success {
		if isRateLimitMsg(res.Back.Msg) {
			return model.AuthSession{}, fmt.Errorf("login rejected: %s: %w", res.Back.Msg, errs.ErrRateLimited)
		}
		return model.AuthSession{}, fmt.Errorf("login rejected: %s: %w", res.Back.Msg, errs.ErrAuthentication)
	}

	token := res.Back.User.ID.String()
	if token == "" {
		return model.AuthSession{}, fmt.Errorf("login response missing account id: %w", errs.ErrProtocol)
	}

	s.session = model.AuthSession{Token: token, Identity: s.cfg.Username}
	s.logger.Debug("logged in", zap.String("identity", s.session.Identity))

	if s.tokens != nil {
		if err := s.tokens.Save(s.session); err != nil {
			s.logger.Warn("failed to persist session token", zap.Error(err))
		}
	}
	return s.session, nil
}

// The server reports transient lockouts either with error code 507 or a
// "login frequently" style message.
func isRateLimitMsg(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "507") || strings.Contains(lower, "frequent")
}
