package goAccounts

import (
	"context"
	"time"

	"github.com/MrEthical07/goAccounts/jwt"
	"go.uber.org/zap"
)

// AccessClaims is the verified content of an access token.
type AccessClaims struct {
	SessionID    string
	UserID       string
	Impersonated bool
	ExpiresAt    time.Time
}

// CreateSession stores a new valid session for userID bound to the opaque
// token and returns its id.
func (e *Engine) CreateSession(ctx context.Context, userID, token string, info ConnectionInfo, extra map[string]any) (string, error) {
	if e == nil || e.db == nil {
		return "", ErrEngineNotReady
	}
	sessionID, err := e.db.CreateSession(ctx, userID, token, info, extra)
	if err != nil {
		return "", err
	}
	e.metricInc(MetricSessionCreated)
	return sessionID, nil
}

// RefreshTokens re-issues the pair of a live session.
//
// The refresh token must verify fully. The access token must carry a valid
// signature but may be expired. Both must name the same session, and that
// session must still be valid and own the refresh token's opaque token. The
// session id is kept and only its connection info is updated.
func (e *Engine) RefreshTokens(ctx context.Context, accessToken, refreshToken string, info ConnectionInfo) (*LoginResult, error) {
	if e == nil || e.db == nil {
		return nil, ErrEngineNotReady
	}
	ctx = withConnectionInfoFallback(ctx, info)

	result, err := e.refreshTokens(ctx, accessToken, refreshToken, info)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, EventRefreshFailure, false, "", "", ErrorCode(err), nil)
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, EventRefreshSuccess, true, result.User.ID, result.SessionID, "", nil)
	return result, nil
}

func (e *Engine) refreshTokens(ctx context.Context, accessToken, refreshToken string, info ConnectionInfo) (*LoginResult, error) {
	if accessToken == "" || refreshToken == "" {
		return nil, ErrTokensNotValid
	}

	refreshClaims, err := e.jwtManager.ParseRefresh(refreshToken)
	if err != nil {
		return nil, ErrTokensNotValid
	}
	accessClaims, err := e.jwtManager.ParseAccessAllowExpired(accessToken)
	if err != nil {
		return nil, ErrTokensNotValid
	}
	if accessClaims.SID != refreshClaims.SID {
		return nil, ErrTokensNotValid
	}

	session, err := e.db.FindSessionByToken(ctx, refreshClaims.Token)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if session.ID != refreshClaims.SID || !jwt.SameSessionToken(session.Token, refreshClaims.Token) {
		return nil, ErrTokensNotValid
	}
	if !session.Valid {
		return nil, ErrSessionInvalid
	}

	user, err := e.db.FindUserByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	_, impersonated := session.Extra[ExtraImpersonatorUserID]
	pair, err := e.createTokens(session.ID, user.ID, session.Token, impersonated)
	if err != nil {
		return nil, err
	}

	if err := e.db.UpdateSession(ctx, session.ID, info); err != nil {
		return nil, err
	}

	return &LoginResult{
		SessionID: session.ID,
		User:      e.SanitizeUser(user),
		Tokens:    pair,
	}, nil
}

// InvalidateSession marks one session invalid. Invalidating an unknown or
// already invalid session succeeds.
func (e *Engine) InvalidateSession(ctx context.Context, sessionID string) error {
	if e == nil || e.db == nil {
		return ErrEngineNotReady
	}
	if err := e.db.InvalidateSession(ctx, sessionID); err != nil {
		return err
	}
	e.metricInc(MetricSessionInvalidated)
	e.emitAudit(ctx, EventSessionInvalidated, true, "", sessionID, "", nil)
	return nil
}

// InvalidateAllSessions marks every session of userID invalid except the
// listed ones.
func (e *Engine) InvalidateAllSessions(ctx context.Context, userID string, excludedSessionIDs ...string) error {
	if e == nil || e.db == nil {
		return ErrEngineNotReady
	}
	if err := e.db.InvalidateAllSessions(ctx, userID, excludedSessionIDs...); err != nil {
		return err
	}
	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, EventLogoutAll, true, userID, "", "", func() map[string]string {
		if len(excludedSessionIDs) == 0 {
			return nil
		}
		return map[string]string{"kept": joinIDs(excludedSessionIDs)}
	})
	return nil
}

// VerifyAccessToken checks signature and expiry of an access token without
// touching storage. It does not detect invalidated sessions.
func (e *Engine) VerifyAccessToken(accessToken string) (*AccessClaims, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	if accessToken == "" {
		return nil, ErrTokensNotValid
	}
	claims, err := e.jwtManager.ParseAccess(accessToken)
	if err != nil {
		return nil, ErrTokensNotValid
	}
	out := &AccessClaims{
		SessionID:    claims.SID,
		UserID:       claims.UID,
		Impersonated: claims.Impersonated,
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

// FindSessionByAccessToken verifies the token and returns the session it
// names, which must still be valid.
func (e *Engine) FindSessionByAccessToken(ctx context.Context, accessToken string) (*Session, error) {
	claims, err := e.VerifyAccessToken(accessToken)
	if err != nil {
		return nil, err
	}
	session, err := e.db.FindSessionByID(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if session.UserID != claims.UserID {
		return nil, ErrTokensNotValid
	}
	if !session.Valid {
		return nil, ErrSessionInvalid
	}
	return session, nil
}

// ResumeSession authenticates a request: it resolves the access token to a
// live session and returns the sanitized owner.
func (e *Engine) ResumeSession(ctx context.Context, accessToken string) (*User, error) {
	if e == nil || e.db == nil {
		return nil, ErrEngineNotReady
	}
	start := e.now()
	defer e.observe(MetricResumeLatency, start)

	user, session, err := e.resume(ctx, accessToken)
	if err != nil {
		sid := ""
		if session != nil {
			sid = session.ID
		}
		e.emitAudit(ctx, EventResumeFailure, false, "", sid, ErrorCode(err), nil)
		return nil, err
	}
	return e.SanitizeUser(user), nil
}

// ResumeSessionWithID is [Engine.ResumeSession] that also returns the session id.
func (e *Engine) ResumeSessionWithID(ctx context.Context, accessToken string) (*User, string, error) {
	if e == nil || e.db == nil {
		return nil, "", ErrEngineNotReady
	}
	start := e.now()
	defer e.observe(MetricResumeLatency, start)

	user, session, err := e.resume(ctx, accessToken)
	if err != nil {
		return nil, "", err
	}
	return e.SanitizeUser(user), session.ID, nil
}

func (e *Engine) resume(ctx context.Context, accessToken string) (*User, *Session, error) {
	session, err := e.FindSessionByAccessToken(ctx, accessToken)
	if err != nil {
		return nil, nil, err
	}
	user, err := e.db.FindUserByID(ctx, session.UserID)
	if err != nil {
		return nil, session, err
	}
	if user == nil {
		return nil, session, ErrUserNotFound
	}
	if user.Deactivated {
		return nil, session, ErrUserDeactivated
	}
	if e.resumeValidator != nil {
		if err := e.resumeValidator(ctx, SanitizeUser(user), session.Clone()); err != nil {
			return nil, session, err
		}
	}
	return user, session, nil
}

// Logout invalidates the session behind accessToken.
func (e *Engine) Logout(ctx context.Context, accessToken string) error {
	if e == nil || e.db == nil {
		return ErrEngineNotReady
	}
	session, err := e.FindSessionByAccessToken(ctx, accessToken)
	if err != nil {
		return err
	}
	if err := e.db.InvalidateSession(ctx, session.ID); err != nil {
		e.logger.Warn("logout invalidation failed",
			zap.String("session_id", session.ID),
			zap.Error(err),
		)
		return err
	}
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, EventLogout, true, session.UserID, session.ID, "", nil)
	return nil
}

func joinIDs(ids []string) string {
	n := 0
	for _, id := range ids {
		n += len(id) + 1
	}
	buf := make([]byte, 0, n)
	for i, id := range ids {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, id...)
	}
	return string(buf)
}
