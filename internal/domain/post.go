package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Platform identifies a social network we can deliver to.
type Platform string

const (
	PlatformBluesky Platform = "bluesky"
	PlatformTwitter Platform = "twitter"
)

// ParsePlatform maps a user-supplied name to a Platform.
func ParsePlatform(s string) (Platform, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bluesky", "bsky":
		return PlatformBluesky, nil
	case "twitter", "tweet", "x":
		return PlatformTwitter, nil
	default:
		return "", fmt.Errorf("%w: unknown platform %q", ErrValidation, s)
	}
}

// Post is a unit of content waiting to be (or already) published.
type Post struct {
	// ID is assigned by the store on create.
	ID string `json:"id"`

	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Hashtags []string `json:"hashtags"`

	// ScheduledAt is when the post becomes due.
	ScheduledAt time.Time `json:"scheduledAt"`

	// Published is set once every scheduler target has received the post.
	Published bool `json:"published"`

	// PublishedTo lists the platforms that accepted a delivery.
	PublishedTo []Platform `json:"publishedTo"`

	CreatedAt time.Time `json:"createdAt"`
}

// PublishedOn reports whether p was already delivered to platform.
func (p *Post) PublishedOn(platform Platform) bool {
	return slices.Contains(p.PublishedTo, platform)
}

// PostUpdate carries a partial update. Nil fields are left untouched.
type PostUpdate struct {
	Title       *string
	Content     *string
	Hashtags    *[]string
	ScheduledAt *time.Time
	Published   *bool
	PublishedTo *[]Platform
}

// Empty reports whether the update would change nothing.
func (u PostUpdate) Empty() bool {
	return u.Title == nil && u.Content == nil && u.Hashtags == nil &&
		u.ScheduledAt == nil && u.Published == nil && u.PublishedTo == nil
}

// Apply copies the present fields of u onto p.
func (u PostUpdate) Apply(p *Post) {
	if u.Title != nil {
		p.Title = *u.Title
	}
	if u.Content != nil {
		p.Content = *u.Content
	}
	if u.Hashtags != nil {
		p.Hashtags = slices.Clone(*u.Hashtags)
	}
	if u.ScheduledAt != nil {
		p.ScheduledAt = *u.ScheduledAt
	}
	if u.Published != nil {
		p.Published = *u.Published
	}
	if u.PublishedTo != nil {
		p.PublishedTo = slices.Clone(*u.PublishedTo)
	}
}

// PostRef points at a record created on a platform. For AT Protocol it is
// the strong ref (uri + cid); for platforms without content addressing CID
// is empty.
type PostRef struct {
	ID  string `json:"id"`
	URI string `json:"uri,omitempty"`
	CID string `json:"cid,omitempty"`
}

// ThreadLinkage tracks the reply chain while a thread is being delivered.
// Root is fixed after the first successful part; Parent follows the most
// recent one.
type ThreadLinkage struct {
	Root   *PostRef
	Parent *PostRef
}

// Started reports whether the root part has been delivered.
func (l *ThreadLinkage) Started() bool {
	return l.Root != nil
}

// Advance records a successfully delivered part.
func (l *ThreadLinkage) Advance(ref PostRef) {
	if l.Root == nil {
		root := ref
		l.Root = &root
	}
	parent := ref
	l.Parent = &parent
}

// ThreadResult reports how far a thread delivery got.
type ThreadResult struct {
	Total     int       `json:"total"`
	Delivered int       `json:"delivered"`
	Refs      []PostRef `json:"refs"`
}

// Complete reports whether every part was delivered.
func (r ThreadResult) Complete() bool {
	return r.Total > 0 && r.Delivered == r.Total
}

// AuthorizationRequest correlates an OAuth authorization link with its
// callback.
type AuthorizationRequest struct {
	State        string
	CodeVerifier string
	CreatedAt    time.Time
}

// TokenPair is the result of an authorization-code exchange.
type TokenPair struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}
