package twitter

import (
	"context"
	"fmt"

	"github.com/blackmichael/social-scheduler/internal/domain"
)

// DefaultMaxLength is the per-tweet character cap.
const DefaultMaxLength = 280

// Publisher posts single tweets with a bearer token. The token comes from
// configuration or, via WithBearerToken, from the caller of one request.
type Publisher struct {
	client *Client
	token  string
	limits domain.Limits
}

var (
	_ domain.Publisher   = (*Publisher)(nil)
	_ domain.TokenScoped = (*Publisher)(nil)
)

// NewPublisher creates a Publisher. token may be empty when every call will
// supply its own.
func NewPublisher(client *Client, token string, maxLength int) *Publisher {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	return &Publisher{client: client, token: token, limits: domain.Limits{MaxLength: maxLength}}
}

func (p *Publisher) Platform() domain.Platform { return domain.PlatformTwitter }

func (p *Publisher) Limits() domain.Limits { return p.limits }

// WithBearerToken returns a copy of p that authenticates with token.
func (p *Publisher) WithBearerToken(token string) domain.Publisher {
	scoped := *p
	scoped.token = token
	return &scoped
}

// PublishSingle posts text as one tweet. Without a token it fails with
// domain.ErrUnauthorized before any network call.
func (p *Publisher) PublishSingle(ctx context.Context, text string) (domain.PostRef, error) {
	if p.token == "" {
		return domain.PostRef{}, fmt.Errorf("no twitter bearer token: %w", domain.ErrUnauthorized)
	}
	id, err := p.client.CreateTweet(ctx, p.token, text)
	if err != nil {
		return domain.PostRef{}, err
	}
	return domain.PostRef{ID: id, URI: "https://twitter.com/i/web/status/" + id}, nil
}
