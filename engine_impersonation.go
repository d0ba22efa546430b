package goAccounts

import (
	"context"

	"github.com/MrEthical07/goAccounts/internal/tokens"
)

// Impersonate opens a session for target on behalf of the user behind
// accessToken.
//
// The caller's token must be valid and not itself impersonated, and its
// session must still be valid. The configured [ImpersonationAuthorizer]
// decides; without one every attempt is unauthorized. Unauthorized attempts
// return a result with Authorized=false and a nil error.
func (e *Engine) Impersonate(ctx context.Context, accessToken string, target Identity, info ConnectionInfo) (*ImpersonationResult, error) {
	if e == nil || e.db == nil {
		return nil, ErrEngineNotReady
	}
	ctx = withConnectionInfoFallback(ctx, info)

	if accessToken == "" {
		return nil, ErrTokensNotValid
	}
	claims, err := e.jwtManager.ParseAccess(accessToken)
	if err != nil {
		return nil, ErrTokensNotValid
	}
	if claims.Impersonated {
		return nil, ErrAlreadyImpersonating
	}

	session, err := e.db.FindSessionByID(ctx, claims.SID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if session.UserID != claims.UID {
		return nil, ErrTokensNotValid
	}
	if !session.Valid {
		return nil, ErrSessionInvalid
	}

	impersonator, err := e.db.FindUserByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	if impersonator == nil {
		return nil, ErrUserNotFound
	}

	targetUser, err := FindUserByIdentity(ctx, e.db, target)
	if err != nil {
		return nil, err
	}
	if targetUser == nil {
		if e.AmbiguousErrorMessages() {
			e.denyImpersonation(ctx, impersonator.ID, session.ID, CodeUserNotFound)
			return &ImpersonationResult{Authorized: false}, nil
		}
		return nil, ErrUserNotFound
	}

	if e.authorizeImpersonation == nil ||
		!e.authorizeImpersonation(ctx, SanitizeUser(impersonator), SanitizeUser(targetUser)) {
		e.denyImpersonation(ctx, impersonator.ID, session.ID, CodeImpersonationUnauthorized)
		return &ImpersonationResult{Authorized: false}, nil
	}

	token, err := tokens.Generate(e.config.Session.TokenBytes)
	if err != nil {
		return nil, err
	}
	sessionID, err := e.CreateSession(ctx, targetUser.ID, token, info, map[string]any{
		ExtraImpersonatorUserID: impersonator.ID,
	})
	if err != nil {
		return nil, err
	}
	pair, err := e.createTokens(sessionID, targetUser.ID, token, true)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricImpersonationSuccess)
	e.emitAudit(ctx, EventImpersonationSuccess, true, impersonator.ID, sessionID, "", func() map[string]string {
		return map[string]string{"target_user_id": targetUser.ID}
	})

	return &ImpersonationResult{
		Authorized: true,
		Tokens:     &pair,
		User:       e.SanitizeUser(targetUser),
	}, nil
}

func (e *Engine) denyImpersonation(ctx context.Context, userID, sessionID, code string) {
	e.metricInc(MetricImpersonationDenied)
	e.emitAudit(ctx, EventImpersonationDenied, false, userID, sessionID, code, nil)
}
