package domain

import (
	"context"
	"time"
)

// PostRepository defines persistence operations for posts.
type PostRepository interface {
	// CreatePost inserts a new post, assigning its ID and CreatedAt.
	CreatePost(ctx context.Context, post *Post) error

	// UpdatePost applies a partial update and returns the stored result.
	// Returns ErrNotFound if the post does not exist.
	UpdatePost(ctx context.Context, id string, update PostUpdate) (*Post, error)

	// AddPublishedPlatform adds platform to the post's PublishedTo set in a
	// single store operation and sets Published once the set covers every
	// one of targets. Returns ErrNotFound if the post does not exist.
	AddPublishedPlatform(ctx context.Context, id string, platform Platform, targets []Platform) (*Post, error)

	// GetPost looks a post up by ID. The bool is false when it does not exist.
	GetPost(ctx context.Context, id string) (*Post, bool, error)

	// FindDueUnpublished returns unpublished posts scheduled strictly before
	// now, ordered by scheduled time then ID.
	FindDueUnpublished(ctx context.Context, now time.Time) ([]Post, error)

	// ListRecent returns up to limit posts, newest scheduled time first.
	ListRecent(ctx context.Context, limit int) ([]Post, error)
}

// AuthRequestRepository stores short-lived OAuth correlation records.
type AuthRequestRepository interface {
	// SaveAuthRequest persists a new authorization request.
	SaveAuthRequest(ctx context.Context, req AuthorizationRequest) error

	// ConsumeAuthRequest removes and returns the request for state if it was
	// created after notBefore. The bool is false when absent or expired.
	ConsumeAuthRequest(ctx context.Context, state string, notBefore time.Time) (AuthorizationRequest, bool, error)

	// DeleteExpiredAuthRequests removes requests created before cutoff and
	// returns how many were deleted.
	DeleteExpiredAuthRequests(ctx context.Context, cutoff time.Time) (int64, error)
}

// Limits describes a platform's length rules.
type Limits struct {
	// MaxLength is the hard per-post character cap.
	MaxLength int
}

// Publisher delivers text to a single platform.
type Publisher interface {
	Platform() Platform
	Limits() Limits

	// PublishSingle creates one post. It never retries.
	PublishSingle(ctx context.Context, text string) (PostRef, error)
}

// ThreadPublisher is a Publisher that can chain replies into a thread.
type ThreadPublisher interface {
	Publisher

	// PublishThread delivers parts in order, stopping at the first failure.
	// The result reports how many parts went out even when err is non-nil.
	PublishThread(ctx context.Context, parts []string) (ThreadResult, error)
}

// TokenScoped is implemented by publishers that authenticate with a bearer
// token supplied per call.
type TokenScoped interface {
	WithBearerToken(token string) Publisher
}

// TextGenerator produces text from a prompt.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// EventSink receives publication outcomes. Implementations must not block.
type EventSink interface {
	Emit(event PublicationEvent)
}

// OAuthProvider performs the platform side of an authorization-code flow.
type OAuthProvider interface {
	// GenerateVerifier returns a fresh PKCE code verifier.
	GenerateVerifier() string

	// AuthCodeURL builds the link the user follows to grant access.
	AuthCodeURL(state, verifier string) string

	// Exchange trades an authorization code for tokens.
	Exchange(ctx context.Context, code, verifier string) (TokenPair, error)
}
