package domain

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode/utf8"
)

// RecentPostsLimit is how many posts ListRecent returns by default.
const RecentPostsLimit = 10

// NewPostInput holds the fields for a manually authored post.
type NewPostInput struct {
	Title       string
	Content     string
	Hashtags    []string
	ScheduledAt *time.Time
}

// PublishRequest asks for an immediate delivery of a stored post.
type PublishRequest struct {
	PostID   string
	Platform Platform

	// BearerToken, when set, overrides the publisher's configured token.
	BearerToken string
}

// PublishResult describes a delivery of a stored post.
type PublishResult struct {
	Post     *Post         `json:"post"`
	Platform Platform      `json:"platform"`
	Ref      *PostRef      `json:"ref,omitempty"`
	Thread   *ThreadResult `json:"thread,omitempty"`
}

// ServiceOption customizes a PublicationService.
type ServiceOption func(*PublicationService)

// WithGenerator enables prompt-based post and thread generation.
func WithGenerator(g TextGenerator) ServiceOption {
	return func(s *PublicationService) { s.generator = g }
}

// WithEventSink sends every delivery outcome to sink.
func WithEventSink(sink EventSink) ServiceOption {
	return func(s *PublicationService) {
		if sink != nil {
			s.events = sink
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *PublicationService) { s.now = now }
}

// PublicationService is the core domain service. It owns post creation and
// editing, decides between single and threaded delivery, and records which
// platforms a post reached.
type PublicationService struct {
	posts      PostRepository
	publishers map[Platform]Publisher
	targets    []Platform
	generator  TextGenerator
	events     EventSink
	logger     *slog.Logger
	now        func() time.Time
}

// NewPublicationService creates a PublicationService. targets are the
// platforms every due post is delivered to; each needs a publisher.
func NewPublicationService(posts PostRepository, publishers []Publisher, targets []Platform, logger *slog.Logger, opts ...ServiceOption) (*PublicationService, error) {
	byPlatform := make(map[Platform]Publisher, len(publishers))
	for _, p := range publishers {
		if _, dup := byPlatform[p.Platform()]; dup {
			return nil, fmt.Errorf("duplicate publisher for %s", p.Platform())
		}
		if p.Limits().MaxLength <= 3 {
			return nil, fmt.Errorf("publisher %s: max length %d is too small", p.Platform(), p.Limits().MaxLength)
		}
		byPlatform[p.Platform()] = p
	}

	for _, t := range targets {
		if _, ok := byPlatform[t]; !ok {
			return nil, fmt.Errorf("scheduler target %s has no configured publisher", t)
		}
	}

	s := &PublicationService{
		posts:      posts,
		publishers: byPlatform,
		targets:    slices.Clone(targets),
		events:     nopSink{},
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Targets returns the platforms due posts are delivered to.
func (s *PublicationService) Targets() []Platform {
	return slices.Clone(s.targets)
}

// CreatePost stores a manually authored post. It is scheduled for now
// unless the input says otherwise.
func (s *PublicationService) CreatePost(ctx context.Context, in NewPostInput) (*Post, error) {
	if strings.TrimSpace(in.Content) == "" {
		return nil, fmt.Errorf("%w: content is required", ErrValidation)
	}

	post := &Post{
		Title:       in.Title,
		Content:     in.Content,
		Hashtags:    in.Hashtags,
		ScheduledAt: s.now().UTC(),
	}
	if post.Hashtags == nil {
		post.Hashtags = []string{}
	}
	if in.ScheduledAt != nil {
		post.ScheduledAt = in.ScheduledAt.UTC()
	}

	if err := s.posts.CreatePost(ctx, post); err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}
	s.logger.Info("post created", "post_id", post.ID, "scheduled_at", post.ScheduledAt)
	return post, nil
}

// GeneratePost asks the text generator for content and stores the result as
// a new post titled after the prompt.
func (s *PublicationService) GeneratePost(ctx context.Context, prompt string, scheduledAt *time.Time) (*Post, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("%w: prompt is required", ErrValidation)
	}
	content, err := s.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return s.CreatePost(ctx, NewPostInput{
		Title:       TitleFromPrompt(prompt),
		Content:     content,
		ScheduledAt: scheduledAt,
	})
}

// UpdatePost applies a partial edit to a post.
func (s *PublicationService) UpdatePost(ctx context.Context, id string, update PostUpdate) (*Post, error) {
	if update.Empty() {
		return nil, fmt.Errorf("%w: no fields to update", ErrValidation)
	}
	if update.Content != nil && strings.TrimSpace(*update.Content) == "" {
		return nil, fmt.Errorf("%w: content cannot be empty", ErrValidation)
	}
	if update.ScheduledAt != nil {
		at := update.ScheduledAt.UTC()
		update.ScheduledAt = &at
	}

	post, err := s.posts.UpdatePost(ctx, id, update)
	if err != nil {
		return nil, fmt.Errorf("update post %s: %w", id, err)
	}
	return post, nil
}

// GetPost returns a post or ErrNotFound.
func (s *PublicationService) GetPost(ctx context.Context, id string) (*Post, error) {
	post, ok, err := s.posts.GetPost(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get post %s: %w", id, err)
	}
	if !ok {
		return nil, fmt.Errorf("post %s: %w", id, ErrNotFound)
	}
	return post, nil
}

// ListRecent returns the most recently scheduled posts.
func (s *PublicationService) ListRecent(ctx context.Context, limit int) ([]Post, error) {
	if limit <= 0 {
		limit = RecentPostsLimit
	}
	posts, err := s.posts.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	return posts, nil
}

// PublishNow delivers a stored post to one platform immediately. On success
// the platform is recorded on the post; on failure the post is unchanged.
func (s *PublicationService) PublishNow(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	post, err := s.GetPost(ctx, req.PostID)
	if err != nil {
		return nil, err
	}
	pub, err := s.publisher(req.Platform, req.BearerToken)
	if err != nil {
		return nil, err
	}
	return s.publishPost(ctx, post, pub)
}

// PublishThread splits text and delivers it as a thread without storing it.
func (s *PublicationService) PublishThread(ctx context.Context, platform Platform, text string) (ThreadResult, error) {
	pub, err := s.publisher(platform, "")
	if err != nil {
		return ThreadResult{}, err
	}
	tp, ok := pub.(ThreadPublisher)
	if !ok {
		return ThreadResult{}, fmt.Errorf("%w: %s does not support threads", ErrValidation, platform)
	}

	parts := SplitThread(text, tp.Limits().MaxLength)
	if len(parts) == 0 {
		return ThreadResult{}, fmt.Errorf("%w: text is required", ErrValidation)
	}

	result, err := tp.PublishThread(ctx, parts)
	s.record("", platform, result.Delivered, result.Total, err)
	return result, err
}

// GenerateThread generates text about subject and publishes it as a thread.
// The generated text is returned even when delivery fails.
func (s *PublicationService) GenerateThread(ctx context.Context, platform Platform, subject string) (string, ThreadResult, error) {
	if strings.TrimSpace(subject) == "" {
		return "", ThreadResult{}, fmt.Errorf("%w: subject is required", ErrValidation)
	}
	text, err := s.generate(ctx, ThreadPrompt(subject))
	if err != nil {
		return "", ThreadResult{}, err
	}
	result, err := s.PublishThread(ctx, platform, text)
	return text, result, err
}

// PublishDue delivers every due, unpublished post to each scheduler target
// it has not reached yet. A failure on one post or platform never stops the
// rest of the batch. Once a platform reports invalid credentials it is
// skipped for the remainder of the batch.
func (s *PublicationService) PublishDue(ctx context.Context, now time.Time) (BatchReport, error) {
	started := time.Now()
	report := BatchReport{StartedAt: now, Attempts: []Attempt{}}
	if len(s.targets) == 0 {
		return report, nil
	}

	posts, err := s.posts.FindDueUnpublished(ctx, now)
	if err != nil {
		return report, fmt.Errorf("find due posts: %w", err)
	}
	report.Due = len(posts)

	deadCredentials := make(map[Platform]bool)
	for i := range posts {
		if err := ctx.Err(); err != nil {
			report.Duration = time.Since(started)
			return report, err
		}

		post := &posts[i]
		if s.coversTargets(post.PublishedTo) {
			// Reached every target already, e.g. via publish-now.
			if err := s.settle(ctx, post); err != nil {
				s.logger.Error("failed to settle published post", "post_id", post.ID, "error", err)
			}
			continue
		}
		for _, platform := range s.targets {
			if post.PublishedOn(platform) {
				continue
			}

			attempt := Attempt{PostID: post.ID, Platform: platform}
			if deadCredentials[platform] {
				attempt.Outcome = OutcomeSkipped
				attempt.Error = "credentials rejected earlier in batch"
				report.Attempts = append(report.Attempts, attempt)
				continue
			}

			updated, err := s.attempt(ctx, post, platform)
			attempt.Outcome = OutcomeOf(err)
			if err != nil {
				attempt.Error = err.Error()
				if attempt.Outcome == OutcomeCredentialsInvalid {
					deadCredentials[platform] = true
				}
			}
			if updated != nil {
				post = updated
			}
			report.Attempts = append(report.Attempts, attempt)
		}
	}

	report.Duration = time.Since(started)
	return report, nil
}

// attempt runs one scheduled delivery, converting a panic in a publisher or
// the store into an error so the batch can go on.
func (s *PublicationService) attempt(ctx context.Context, post *Post, platform Platform) (updated *Post, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic delivering post %s to %s: %v", post.ID, platform, r)
			s.logger.Error("delivery panicked", "post_id", post.ID, "platform", platform, "panic", r)
		}
	}()

	pub, err := s.publisher(platform, "")
	if err != nil {
		return nil, err
	}
	result, err := s.publishPost(ctx, post, pub)
	if result != nil {
		updated = result.Post
	}
	return updated, err
}

func (s *PublicationService) publishPost(ctx context.Context, post *Post, pub Publisher) (*PublishResult, error) {
	platform := pub.Platform()
	result := &PublishResult{Post: post, Platform: platform}

	if strings.TrimSpace(post.Content) == "" {
		err := fmt.Errorf("%w: post %s has no content", ErrValidation, post.ID)
		s.record(post.ID, platform, 0, 0, err)
		return result, err
	}

	delivered, total := 0, 1
	limits := pub.Limits()
	if tp, ok := pub.(ThreadPublisher); ok && utf8.RuneCountInString(post.Content) > limits.MaxLength {
		thread, err := tp.PublishThread(ctx, SplitThread(post.Content, limits.MaxLength))
		result.Thread = &thread
		delivered, total = thread.Delivered, thread.Total
		if err != nil {
			s.record(post.ID, platform, delivered, total, err)
			return result, err
		}
	} else {
		ref, err := pub.PublishSingle(ctx, Preview(post.Content, limits.MaxLength))
		if err != nil {
			s.record(post.ID, platform, 0, 1, err)
			return result, err
		}
		result.Ref = &ref
		delivered = 1
	}
	s.record(post.ID, platform, delivered, total, nil)

	updated, err := s.markPublished(ctx, post, platform)
	if err != nil {
		s.logger.Error("delivered but failed to record publication",
			"post_id", post.ID,
			"platform", platform,
			"error", err,
		)
		return result, fmt.Errorf("mark post %s published: %w", post.ID, err)
	}
	result.Post = updated
	return result, nil
}

// markPublished records platform on the stored post rather than on the
// in-memory copy, which may be stale when another delivery of the same post
// finished in the meantime.
func (s *PublicationService) markPublished(ctx context.Context, post *Post, platform Platform) (*Post, error) {
	return s.posts.AddPublishedPlatform(ctx, post.ID, platform, s.targets)
}

func (s *PublicationService) settle(ctx context.Context, post *Post) error {
	published := true
	_, err := s.posts.UpdatePost(ctx, post.ID, PostUpdate{Published: &published})
	return err
}

func (s *PublicationService) coversTargets(platforms []Platform) bool {
	for _, t := range s.targets {
		if !slices.Contains(platforms, t) {
			return false
		}
	}
	return true
}

func (s *PublicationService) publisher(platform Platform, token string) (Publisher, error) {
	pub, ok := s.publishers[platform]
	if !ok {
		return nil, fmt.Errorf("%w: no publisher configured for %s", ErrUnavailable, platform)
	}
	if token != "" {
		if scoped, ok := pub.(TokenScoped); ok {
			pub = scoped.WithBearerToken(token)
		}
	}
	return pub, nil
}

func (s *PublicationService) generate(ctx context.Context, prompt string) (string, error) {
	if s.generator == nil {
		return "", fmt.Errorf("%w: text generation is not configured", ErrUnavailable)
	}
	text, err := s.generator.GenerateText(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("generate text: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("generate text: %w: empty response", ErrDelivery)
	}
	return text, nil
}

// record logs a delivery attempt and forwards it to the event sink.
func (s *PublicationService) record(postID string, platform Platform, delivered, total int, err error) {
	event := PublicationEvent{
		PostID:    postID,
		Platform:  platform,
		Outcome:   OutcomeOf(err),
		Delivered: delivered,
		Total:     total,
		At:        s.now().UTC(),
	}
	if err != nil {
		event.Error = err.Error()
		s.logger.Error("delivery failed",
			"post_id", postID,
			"platform", platform,
			"outcome", event.Outcome,
			"delivered", delivered,
			"total", total,
			"error", err,
		)
	} else {
		s.logger.Info("delivered",
			"post_id", postID,
			"platform", platform,
			"parts", total,
		)
	}
	s.events.Emit(event)
}
