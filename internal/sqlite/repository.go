// Package sqlite is an embedded, single-file store for posts and OAuth
// requests. Timestamps are stored as unix milliseconds and list columns as
// JSON text.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/blackmichael/social-scheduler/internal/domain"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

//go:embed migrations.sql
var migrations string

const postColumns = `id, title, content, hashtags, scheduled_at, published, published_to, created_at`

// Repository implements domain.PostRepository and
// domain.AuthRequestRepository on top of SQLite.
type Repository struct {
	db *sql.DB
}

var (
	_ domain.PostRepository        = (*Repository)(nil)
	_ domain.AuthRequestRepository = (*Repository)(nil)
)

// Open creates (if needed) and migrates the database at path.
func Open(ctx context.Context, path string) (*Repository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps writers serialized and the in-memory database shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.ExecContext(ctx, "PRAGMA busy_timeout = 5000")
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(ctx, migrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Repository{db: db}, nil
}

// Close closes the underlying database.
func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) CreatePost(ctx context.Context, post *domain.Post) error {
	post.ID = uuid.NewString()
	post.CreatedAt = time.Now().UTC()
	if post.Hashtags == nil {
		post.Hashtags = []string{}
	}

	hashtags, err := encodeList(post.Hashtags)
	if err != nil {
		return err
	}
	publishedTo, err := encodeList(post.PublishedTo)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO posts(`+postColumns+`) VALUES(?,?,?,?,?,?,?,?)`,
		post.ID, post.Title, post.Content, hashtags,
		post.ScheduledAt.UnixMilli(), post.Published, publishedTo,
		post.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert post: %w", err)
	}
	return nil
}

func (r *Repository) UpdatePost(ctx context.Context, id string, update domain.PostUpdate) (*domain.Post, error) {
	var hashtags, publishedTo, scheduledAt any
	if update.Hashtags != nil {
		v, err := encodeList(*update.Hashtags)
		if err != nil {
			return nil, err
		}
		hashtags = v
	}
	if update.PublishedTo != nil {
		v, err := encodeList(*update.PublishedTo)
		if err != nil {
			return nil, err
		}
		publishedTo = v
	}
	if update.ScheduledAt != nil {
		scheduledAt = update.ScheduledAt.UnixMilli()
	}

	var title, content, published any
	if update.Title != nil {
		title = *update.Title
	}
	if update.Content != nil {
		content = *update.Content
	}
	if update.Published != nil {
		published = *update.Published
	}

	row := r.db.QueryRowContext(ctx, `
		UPDATE posts SET
			title        = COALESCE(?, title),
			content      = COALESCE(?, content),
			hashtags     = COALESCE(?, hashtags),
			scheduled_at = COALESCE(?, scheduled_at),
			published    = COALESCE(?, published),
			published_to = COALESCE(?, published_to)
		WHERE id = ?
		RETURNING `+postColumns,
		title, content, hashtags, scheduledAt, published, publishedTo, id,
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

// AddPublishedPlatform appends platform to the published_to JSON array in a
// single statement. Both SET expressions see the row as it was before the
// update, so the target check counts the new platform explicitly.
func (r *Repository) AddPublishedPlatform(ctx context.Context, id string, platform domain.Platform, targets []domain.Platform) (*domain.Post, error) {
	encodedTargets, err := encodeList(targets)
	if err != nil {
		return nil, err
	}

	row := r.db.QueryRowContext(ctx, `
		UPDATE posts SET
			published_to = CASE
				WHEN EXISTS (SELECT 1 FROM json_each(posts.published_to) WHERE value = ?1)
					THEN published_to
				ELSE json_insert(published_to, '$[#]', ?1)
			END,
			published = published OR NOT EXISTS (
				SELECT 1 FROM json_each(?2) t
				WHERE t.value <> ?1
				  AND t.value NOT IN (SELECT value FROM json_each(posts.published_to))
			)
		WHERE id = ?3
		RETURNING `+postColumns,
		string(platform), encodedTargets, id,
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

func (r *Repository) GetPost(ctx context.Context, id string) (*domain.Post, bool, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id = ?`, id)
	post, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get post %s: %w", id, err)
	}
	return post, true, nil
}

func (r *Repository) FindDueUnpublished(ctx context.Context, now time.Time) ([]domain.Post, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+postColumns+` FROM posts
		WHERE published = 0 AND scheduled_at < ?
		ORDER BY scheduled_at ASC, id ASC`,
		now.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("query due posts: %w", err)
	}
	return collectPosts(rows)
}

func (r *Repository) ListRecent(ctx context.Context, limit int) ([]domain.Post, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+postColumns+` FROM posts
		ORDER BY scheduled_at DESC, id DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent posts: %w", err)
	}
	return collectPosts(rows)
}

func (r *Repository) SaveAuthRequest(ctx context.Context, req domain.AuthorizationRequest) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO auth_requests(state, code_verifier, created_at) VALUES(?,?,?)`,
		req.State, req.CodeVerifier, req.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert auth request: %w", err)
	}
	return nil
}

func (r *Repository) ConsumeAuthRequest(ctx context.Context, state string, notBefore time.Time) (domain.AuthorizationRequest, bool, error) {
	var (
		verifier  string
		createdMS int64
	)
	err := r.db.QueryRowContext(ctx,
		`DELETE FROM auth_requests WHERE state = ? RETURNING code_verifier, created_at`, state,
	).Scan(&verifier, &createdMS)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AuthorizationRequest{}, false, nil
	}
	if err != nil {
		return domain.AuthorizationRequest{}, false, fmt.Errorf("consume auth request: %w", err)
	}

	createdAt := time.UnixMilli(createdMS).UTC()
	if createdAt.Before(notBefore) {
		return domain.AuthorizationRequest{}, false, nil
	}
	return domain.AuthorizationRequest{State: state, CodeVerifier: verifier, CreatedAt: createdAt}, true, nil
}

func (r *Repository) DeleteExpiredAuthRequests(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM auth_requests WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("delete expired auth requests: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPost(row scanner) (*domain.Post, error) {
	var (
		p                      domain.Post
		hashtags, publishedTo  string
		scheduledMS, createdMS int64
	)
	if err := row.Scan(&p.ID, &p.Title, &p.Content, &hashtags, &scheduledMS, &p.Published, &publishedTo, &createdMS); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(hashtags), &p.Hashtags); err != nil {
		return nil, fmt.Errorf("decode hashtags: %w", err)
	}
	if err := json.Unmarshal([]byte(publishedTo), &p.PublishedTo); err != nil {
		return nil, fmt.Errorf("decode published_to: %w", err)
	}
	if p.Hashtags == nil {
		p.Hashtags = []string{}
	}
	if p.PublishedTo == nil {
		p.PublishedTo = []domain.Platform{}
	}
	p.ScheduledAt = time.UnixMilli(scheduledMS).UTC()
	p.CreatedAt = time.UnixMilli(createdMS).UTC()
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

func encodeList[T any](values []T) (string, error) {
	if values == nil {
		return "[]", nil
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("encode list: %w", err)
	}
	return string(b), nil
}
