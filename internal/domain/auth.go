package domain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultAuthRequestTTL is how long an issued authorization link stays valid.
const DefaultAuthRequestTTL = 10 * time.Minute

// AuthService runs the OAuth2 authorization-code flow, correlating each
// callback with the request that issued its link.
type AuthService struct {
	requests AuthRequestRepository
	provider OAuthProvider
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewAuthService creates an AuthService. A non-positive ttl falls back to
// DefaultAuthRequestTTL.
func NewAuthService(requests AuthRequestRepository, provider OAuthProvider, ttl time.Duration, logger *slog.Logger) *AuthService {
	if ttl <= 0 {
		ttl = DefaultAuthRequestTTL
	}
	return &AuthService{
		requests: requests,
		provider: provider,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
	}
}

// Begin records a new authorization request and returns the link the user
// should follow.
func (s *AuthService) Begin(ctx context.Context) (string, error) {
	req := AuthorizationRequest{
		State:        uuid.NewString(),
		CodeVerifier: s.provider.GenerateVerifier(),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.requests.SaveAuthRequest(ctx, req); err != nil {
		return "", fmt.Errorf("save auth request: %w", err)
	}
	return s.provider.AuthCodeURL(req.State, req.CodeVerifier), nil
}

// Complete handles the callback. An unknown or expired state is rejected
// with ErrValidation before any token exchange is attempted.
func (s *AuthService) Complete(ctx context.Context, state, code string) (TokenPair, error) {
	state, code = strings.TrimSpace(state), strings.TrimSpace(code)
	if state == "" || code == "" {
		return TokenPair{}, fmt.Errorf("%w: state and code are required", ErrValidation)
	}

	req, ok, err := s.requests.ConsumeAuthRequest(ctx, state, s.now().Add(-s.ttl))
	if err != nil {
		return TokenPair{}, fmt.Errorf("consume auth request: %w", err)
	}
	if !ok {
		s.logger.Warn("callback with unknown or expired state")
		return TokenPair{}, fmt.Errorf("%w: invalid or expired state", ErrValidation)
	}

	tokens, err := s.provider.Exchange(ctx, code, req.CodeVerifier)
	if err != nil {
		return TokenPair{}, fmt.Errorf("exchange authorization code: %w", err)
	}
	s.logger.Info("authorization complete", "has_refresh_token", tokens.RefreshToken != "")
	return tokens, nil
}

// StartCleanupJob removes expired authorization requests immediately and
// then at every interval. It blocks until ctx is cancelled.
func (s *AuthService) StartCleanupJob(ctx context.Context, interval time.Duration) {
	s.runCleanup(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runCleanup(ctx)
		}
	}
}

func (s *AuthService) runCleanup(ctx context.Context) {
	deleted, err := s.requests.DeleteExpiredAuthRequests(ctx, s.now().Add(-s.ttl))
	if err != nil {
		s.logger.Error("auth request cleanup failed", "error", err)
	} else if deleted > 0 {
		s.logger.Info("auth request cleanup complete", "deleted", deleted)
	}
}
