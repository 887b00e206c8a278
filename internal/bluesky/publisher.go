package bluesky

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/blackmichael/social-scheduler/internal/domain"
)

// DefaultMaxLength is the per-post cap used when splitting threads.
const DefaultMaxLength = 280

// Publisher posts to Bluesky with long-lived app-password credentials. Each
// publish call opens its own session, so a Publisher is safe for concurrent
// use.
type Publisher struct {
	client   *Client
	handle   string
	password string
	limits   domain.Limits
	limiter  *rate.Limiter
	now      func() time.Time
}

var _ domain.ThreadPublisher = (*Publisher)(nil)

// NewPublisher creates a Publisher. writesPerSecond paces record creation
// across a thread; zero or less disables pacing.
func NewPublisher(client *Client, handle, appPassword string, maxLength int, writesPerSecond float64) *Publisher {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	limit := rate.Inf
	if writesPerSecond > 0 {
		limit = rate.Limit(writesPerSecond)
	}
	return &Publisher{
		client:   client,
		handle:   handle,
		password: appPassword,
		limits:   domain.Limits{MaxLength: maxLength},
		limiter:  rate.NewLimiter(limit, 1),
		now:      time.Now,
	}
}

func (p *Publisher) Platform() domain.Platform { return domain.PlatformBluesky }

func (p *Publisher) Limits() domain.Limits { return p.limits }

// PublishSingle creates one standalone post.
func (p *Publisher) PublishSingle(ctx context.Context, text string) (domain.PostRef, error) {
	sess, err := p.session(ctx)
	if err != nil {
		return domain.PostRef{}, err
	}
	return p.write(ctx, sess, text, nil)
}

// PublishThread posts parts as a reply chain. The first part is the root;
// every later part replies to the root and to the part before it. Delivery
// stops at the first failure and already published parts are left in place.
func (p *Publisher) PublishThread(ctx context.Context, parts []string) (domain.ThreadResult, error) {
	result := domain.ThreadResult{Total: len(parts)}
	if len(parts) == 0 {
		return result, fmt.Errorf("%w: thread has no parts", domain.ErrValidation)
	}

	sess, err := p.session(ctx)
	if err != nil {
		return result, err
	}

	var link domain.ThreadLinkage
	for i, part := range parts {
		ref, err := p.write(ctx, sess, part, &link)
		if err != nil {
			return result, fmt.Errorf("thread part %d of %d: %w", i+1, len(parts), err)
		}
		link.Advance(ref)
		result.Delivered++
		result.Refs = append(result.Refs, ref)
	}
	return result, nil
}

func (p *Publisher) session(ctx context.Context) (*Session, error) {
	if p.handle == "" || p.password == "" {
		return nil, fmt.Errorf("bluesky credentials are not configured: %w", domain.ErrUnauthorized)
	}
	return p.client.CreateSession(ctx, p.handle, p.password)
}

func (p *Publisher) write(ctx context.Context, sess *Session, text string, link *domain.ThreadLinkage) (domain.PostRef, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return domain.PostRef{}, &domain.DeliveryError{Platform: domain.PlatformBluesky, Err: err}
	}

	record := PostRecord{
		Type:      PostCollection,
		Text:      text,
		CreatedAt: p.now().UTC().Format(time.RFC3339),
	}
	if link != nil && link.Started() {
		record.Reply = &ReplyRef{
			Root:   StrongRef{URI: link.Root.URI, CID: link.Root.CID},
			Parent: StrongRef{URI: link.Parent.URI, CID: link.Parent.CID},
		}
	}

	ref, err := p.client.CreateRecord(ctx, sess, PostCollection, record)
	if err != nil {
		return domain.PostRef{}, err
	}
	return domain.PostRef{ID: ref.URI, URI: ref.URI, CID: ref.CID}, nil
}
