package twitter

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/blackmichael/social-scheduler/internal/domain"
)

// Endpoint is Twitter's OAuth2 authorization-code endpoint.
var Endpoint = oauth2.Endpoint{
	AuthURL:   "https://twitter.com/i/oauth2/authorize",
	TokenURL:  "https://api.twitter.com/2/oauth2/token",
	AuthStyle: oauth2.AuthStyleInHeader,
}

// Scopes requested when authorizing.
var Scopes = []string{"tweet.read", "tweet.write", "users.read", "offline.access"}

// OAuth implements domain.OAuthProvider with PKCE (S256).
type OAuth struct {
	cfg *oauth2.Config
}

var _ domain.OAuthProvider = (*OAuth)(nil)

// NewOAuth creates an OAuth provider. An empty endpoint uses Endpoint.
func NewOAuth(clientID, clientSecret, redirectURL string, endpoint oauth2.Endpoint) *OAuth {
	if endpoint.AuthURL == "" {
		endpoint = Endpoint
	}
	return &OAuth{cfg: &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     endpoint,
		Scopes:       Scopes,
	}}
}

func (o *OAuth) GenerateVerifier() string {
	return oauth2.GenerateVerifier()
}

func (o *OAuth) AuthCodeURL(state, verifier string) string {
	return o.cfg.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

func (o *OAuth) Exchange(ctx context.Context, code, verifier string) (domain.TokenPair, error) {
	tok, err := o.cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return domain.TokenPair{}, &domain.DeliveryError{Platform: domain.PlatformTwitter, Err: fmt.Errorf("token exchange: %w", err)}
	}
	return domain.TokenPair{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}, nil
}
