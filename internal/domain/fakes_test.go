package domain_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/blackmichael/social-scheduler/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memRepo is an in-memory PostRepository and AuthRequestRepository.
type memRepo struct {
	mu       sync.Mutex
	seq      int
	posts    map[string]domain.Post
	requests map[string]domain.AuthorizationRequest
}

func newMemRepo() *memRepo {
	return &memRepo{
		posts:    make(map[string]domain.Post),
		requests: make(map[string]domain.AuthorizationRequest),
	}
}

func (r *memRepo) CreatePost(_ context.Context, post *domain.Post) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	post.ID = fmt.Sprintf("post-%03d", r.seq)
	post.CreatedAt = time.Now().UTC()
	r.posts[post.ID] = clonePost(*post)
	return nil
}

func (r *memRepo) UpdatePost(_ context.Context, id string, update domain.PostUpdate) (*domain.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[id]
	if !ok {
		return nil, fmt.Errorf("post %s: %w", id, domain.ErrNotFound)
	}
	update.Apply(&p)
	r.posts[id] = p
	out := clonePost(p)
	return &out, nil
}

func (r *memRepo) AddPublishedPlatform(_ context.Context, id string, platform domain.Platform, targets []domain.Platform) (*domain.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[id]
	if !ok {
		return nil, fmt.Errorf("post %s: %w", id, domain.ErrNotFound)
	}
	if !slices.Contains(p.PublishedTo, platform) {
		p.PublishedTo = append(p.PublishedTo, platform)
	}
	covered := true
	for _, t := range targets {
		if !slices.Contains(p.PublishedTo, t) {
			covered = false
		}
	}
	p.Published = p.Published || covered
	r.posts[id] = p
	out := clonePost(p)
	return &out, nil
}

func (r *memRepo) GetPost(_ context.Context, id string) (*domain.Post, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[id]
	if !ok {
		return nil, false, nil
	}
	out := clonePost(p)
	return &out, true, nil
}

func (r *memRepo) FindDueUnpublished(_ context.Context, now time.Time) ([]domain.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []domain.Post
	for _, p := range r.posts {
		if !p.Published && p.ScheduledAt.Before(now) {
			due = append(due, clonePost(p))
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].ScheduledAt.Equal(due[j].ScheduledAt) {
			return due[i].ScheduledAt.Before(due[j].ScheduledAt)
		}
		return due[i].ID < due[j].ID
	})
	return due, nil
}

func (r *memRepo) ListRecent(_ context.Context, limit int) ([]domain.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []domain.Post
	for _, p := range r.posts {
		all = append(all, clonePost(p))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ScheduledAt.After(all[j].ScheduledAt) })
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *memRepo) SaveAuthRequest(_ context.Context, req domain.AuthorizationRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests[req.State] = req
	return nil
}

func (r *memRepo) ConsumeAuthRequest(_ context.Context, state string, notBefore time.Time) (domain.AuthorizationRequest, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[state]
	if !ok {
		return domain.AuthorizationRequest{}, false, nil
	}
	delete(r.requests, state)
	if req.CreatedAt.Before(notBefore) {
		return domain.AuthorizationRequest{}, false, nil
	}
	return req, true, nil
}

func (r *memRepo) DeleteExpiredAuthRequests(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for state, req := range r.requests {
		if req.CreatedAt.Before(cutoff) {
			delete(r.requests, state)
			n++
		}
	}
	return n, nil
}

func (r *memRepo) get(id string) domain.Post {
	r.mu.Lock()
	defer r.mu.Unlock()
	return clonePost(r.posts[id])
}

func clonePost(p domain.Post) domain.Post {
	p.Hashtags = slices.Clone(p.Hashtags)
	p.PublishedTo = slices.Clone(p.PublishedTo)
	return p
}

type call struct {
	token string
	text  string
}

// callLog is shared between a fake publisher and its token-scoped copies.
type callLog struct {
	mu      sync.Mutex
	singles []call
	threads [][]string
}

func (l *callLog) single() []call {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.singles)
}

// fakePublisher records deliveries. fail, when set, decides the outcome of
// each text; returning a non-nil error fails that delivery.
type fakePublisher struct {
	platform  domain.Platform
	maxLength int
	token     string
	fail      func(text string) error
	panicOn   string
	log       *callLog
}

func newFakePublisher(platform domain.Platform, maxLength int) *fakePublisher {
	return &fakePublisher{platform: platform, maxLength: maxLength, log: &callLog{}}
}

func (p *fakePublisher) Platform() domain.Platform { return p.platform }

func (p *fakePublisher) Limits() domain.Limits { return domain.Limits{MaxLength: p.maxLength} }

func (p *fakePublisher) PublishSingle(_ context.Context, text string) (domain.PostRef, error) {
	if p.panicOn != "" && strings.Contains(text, p.panicOn) {
		panic("publisher exploded")
	}
	p.log.mu.Lock()
	p.log.singles = append(p.log.singles, call{token: p.token, text: text})
	n := len(p.log.singles)
	p.log.mu.Unlock()

	if p.fail != nil {
		if err := p.fail(text); err != nil {
			return domain.PostRef{}, err
		}
	}
	return domain.PostRef{ID: fmt.Sprintf("%s-%d", p.platform, n)}, nil
}

func (p *fakePublisher) WithBearerToken(token string) domain.Publisher {
	scoped := *p
	scoped.token = token
	return &scoped
}

// fakeThreadPublisher adds thread delivery on top of fakePublisher.
type fakeThreadPublisher struct {
	*fakePublisher
}

func newFakeThreadPublisher(platform domain.Platform, maxLength int) *fakeThreadPublisher {
	return &fakeThreadPublisher{newFakePublisher(platform, maxLength)}
}

func (p *fakeThreadPublisher) PublishThread(_ context.Context, parts []string) (domain.ThreadResult, error) {
	p.log.mu.Lock()
	p.log.threads = append(p.log.threads, slices.Clone(parts))
	p.log.mu.Unlock()

	result := domain.ThreadResult{Total: len(parts)}
	for i, part := range parts {
		if p.fail != nil {
			if err := p.fail(part); err != nil {
				return result, fmt.Errorf("thread part %d of %d: %w", i+1, len(parts), err)
			}
		}
		result.Delivered++
		result.Refs = append(result.Refs, domain.PostRef{ID: fmt.Sprintf("part-%d", i+1)})
	}
	return result, nil
}

type fakeGenerator struct {
	text    string
	err     error
	prompts []string
}

func (g *fakeGenerator) GenerateText(_ context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	return g.text, g.err
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.PublicationEvent
}

func (s *recordingSink) Emit(e domain.PublicationEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) all() []domain.PublicationEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.events)
}

type fakeOAuth struct {
	exchanged []string
	err       error
}

func (o *fakeOAuth) GenerateVerifier() string { return "verifier-123" }

func (o *fakeOAuth) AuthCodeURL(state, verifier string) string {
	return "https://example.test/authorize?state=" + state + "&challenge=" + verifier
}

func (o *fakeOAuth) Exchange(_ context.Context, code, verifier string) (domain.TokenPair, error) {
	o.exchanged = append(o.exchanged, code+":"+verifier)
	if o.err != nil {
		return domain.TokenPair{}, o.err
	}
	return domain.TokenPair{AccessToken: "access-" + code, RefreshToken: "refresh"}, nil
}
