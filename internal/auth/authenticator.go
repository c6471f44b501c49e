package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/talentlane/backend/internal/apperr"
	"github.com/talentlane/backend/internal/store"
)

type contextKey struct{}

// WithUser attaches the authenticated user to the context.
func WithUser(ctx context.Context, u *store.User) context.Context {
	return context.WithValue(ctx, contextKey{}, u)
}

// UserFrom returns the authenticated user, or nil for anonymous requests.
func UserFrom(ctx context.Context) *store.User {
	u, _ := ctx.Value(contextKey{}).(*store.User)
	return u
}

// Authenticator resolves bearer tokens to platform users. Response
// encoding is the transport layer's job; every failure comes back as an
// apperr value.
type Authenticator struct {
	verifier Verifier
	users    store.Users
	logger   *slog.Logger
}

func NewAuthenticator(verifier Verifier, users store.Users) *Authenticator {
	return &Authenticator{
		verifier: verifier,
		users:    users,
		logger:   slog.With("component", "auth"),
	}
}

// Authenticate verifies the request's credential and loads the user.
// Websocket clients cannot set headers, so a token query parameter is
// accepted as a fallback.
func (a *Authenticator) Authenticate(r *http.Request) (*store.User, error) {
	token := bearerToken(r)
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token == "" {
		return nil, apperr.Unauthorized("authentication required")
	}

	subject, err := a.verifier.Verify(token)
	if err != nil {
		a.logger.Debug("token rejected", "error", err)
		return nil, apperr.Unauthorized("invalid or expired token")
	}

	user, err := a.users.ByExternalID(r.Context(), subject)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Unauthorized("no account for this identity")
	}
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, apperr.Forbidden("account is deactivated")
	}
	return user, nil
}

func bearerToken(r *http.Request) string {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		return ""
	}
	parts := strings.SplitN(authz, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
