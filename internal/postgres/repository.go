package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/blackmichael/social-scheduler/internal/domain"
)

//go:embed schema.sql
var schema string

const postColumns = `id, title, content, hashtags, scheduled_at, published, published_to, created_at`

// Repository implements domain.PostRepository and
// domain.AuthRequestRepository using PostgreSQL.
type Repository struct {
	db *sql.DB
}

var (
	_ domain.PostRepository        = (*Repository)(nil)
	_ domain.AuthRequestRepository = (*Repository)(nil)
)

// NewRepository connects to PostgreSQL at the given URL, verifies the
// connection, creates missing tables, and returns a new Repository. The
// caller should call Close when the repository is no longer needed.
func NewRepository(ctx context.Context, databaseURL string) (*Repository, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Repository{db: db}, nil
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// CreatePost inserts a new post.
func (r *Repository) CreatePost(ctx context.Context, post *domain.Post) error {
	post.ID = uuid.NewString()
	post.CreatedAt = time.Now().UTC()
	if post.Hashtags == nil {
		post.Hashtags = []string{}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO posts (`+postColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		post.ID,
		post.Title,
		post.Content,
		pq.Array(post.Hashtags),
		post.ScheduledAt,
		post.Published,
		pq.Array(platformStrings(post.PublishedTo)),
		post.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert post: %w", err)
	}
	return nil
}

// UpdatePost applies the present fields of update and returns the result.
func (r *Repository) UpdatePost(ctx context.Context, id string, update domain.PostUpdate) (*domain.Post, error) {
	var hashtags, publishedTo any
	if update.Hashtags != nil {
		hashtags = pq.Array(*update.Hashtags)
	}
	if update.PublishedTo != nil {
		publishedTo = pq.Array(platformStrings(*update.PublishedTo))
	}

	row := r.db.QueryRowContext(ctx, `
		UPDATE posts SET
			title        = COALESCE($2, title),
			content      = COALESCE($3, content),
			hashtags     = COALESCE($4, hashtags),
			scheduled_at = COALESCE($5, scheduled_at),
			published    = COALESCE($6, published),
			published_to = COALESCE($7, published_to)
		WHERE id = $1
		RETURNING `+postColumns,
		id,
		nullable(update.Title),
		nullable(update.Content),
		hashtags,
		nullable(update.ScheduledAt),
		nullable(update.Published),
		publishedTo,
	)

	post, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("post %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("update post %s: %w", id, err)
	}
	return post, nil
}

// AddPublishedPlatform appends platform to published_to unless present and
// flips published once the set contains every target.
func (r *Repository) AddPublishedPlatform(ctx context.Context, id string, platform domain.Platform, targets []domain.Platform) (*domain.Post, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE posts SET
			published_to = CASE
				WHEN $2 = ANY(published_to) THEN published_to
				ELSE array_append(published_to, $2)
			END,
			published = published OR array_append(published_to, $2) @> $3::text[]
		WHERE id = $1
		RETURNING `+postColumns,
		id,
		string(platform),
		pq.Array(platformStrings(targets)),
	)

	post, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("post %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("record %s publication of post %s: %w", platform, id, err)
	}
	return post, nil
}

// GetPost retrieves a post by ID.
func (r *Repository) GetPost(ctx context.Context, id string) (*domain.Post, bool, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id = $1`, id)
	post, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get post %s: %w", id, err)
	}
	return post, true, nil
}

// FindDueUnpublished returns unpublished posts scheduled before now.
func (r *Repository) FindDueUnpublished(ctx context.Context, now time.Time) ([]domain.Post, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+postColumns+`
		FROM posts
		WHERE NOT published AND scheduled_at < $1
		ORDER BY scheduled_at ASC, id ASC`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("query due posts (now=%v): %w", now, err)
	}
	return collectPosts(rows)
}

// ListRecent returns up to limit posts, newest scheduled first.
func (r *Repository) ListRecent(ctx context.Context, limit int) ([]domain.Post, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+postColumns+`
		FROM posts
		ORDER BY scheduled_at DESC, id DESC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent posts (limit=%d): %w", limit, err)
	}
	return collectPosts(rows)
}

// SaveAuthRequest stores an OAuth correlation record.
func (r *Repository) SaveAuthRequest(ctx context.Context, req domain.AuthorizationRequest) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO auth_requests (state, code_verifier, created_at) VALUES ($1, $2, $3)`,
		req.State, req.CodeVerifier, req.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert auth request: %w", err)
	}
	return nil
}

// ConsumeAuthRequest deletes the request for state and returns it if it is
// not older than notBefore.
func (r *Repository) ConsumeAuthRequest(ctx context.Context, state string, notBefore time.Time) (domain.AuthorizationRequest, bool, error) {
	req := domain.AuthorizationRequest{State: state}
	err := r.db.QueryRowContext(ctx,
		`DELETE FROM auth_requests WHERE state = $1 RETURNING code_verifier, created_at`, state,
	).Scan(&req.CodeVerifier, &req.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AuthorizationRequest{}, false, nil
	}
	if err != nil {
		return domain.AuthorizationRequest{}, false, fmt.Errorf("consume auth request: %w", err)
	}
	if req.CreatedAt.Before(notBefore) {
		return domain.AuthorizationRequest{}, false, nil
	}
	return req, true, nil
}

// DeleteExpiredAuthRequests removes requests created before cutoff.
func (r *Repository) DeleteExpiredAuthRequests(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM auth_requests WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired auth requests: %w", err)
	}
	deleted, _ := res.RowsAffected()
	return deleted, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPost(row scanner) (*domain.Post, error) {
	var (
		p           domain.Post
		publishedTo []string
	)
	err := row.Scan(
		&p.ID,
		&p.Title,
		&p.Content,
		pq.Array(&p.Hashtags),
		&p.ScheduledAt,
		&p.Published,
		pq.Array(&publishedTo),
		&p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if p.Hashtags == nil {
		p.Hashtags = []string{}
	}
	p.PublishedTo = toPlatforms(publishedTo)
	p.ScheduledAt = p.ScheduledAt.UTC()
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

func collectPosts(rows *sql.Rows) ([]domain.Post, error) {
	defer rows.Close()

	posts := []domain.Post{}
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return posts, nil
}

func nullable[T any](v *T) any {
	if v == nil {
		return nil
	}
	return *v
}

func platformStrings(platforms []domain.Platform) []string {
	out := make([]string, len(platforms))
	for i, p := range platforms {
		out[i] = string(p)
	}
	return out
}

func toPlatforms(values []string) []domain.Platform {
	out := make([]domain.Platform, len(values))
	for i, v := range values {
		out[i] = domain.Platform(v)
	}
	return out
}
