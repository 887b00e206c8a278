package twitter_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/blackmichael/social-scheduler/internal/domain"
	"github.com/blackmichael/social-scheduler/internal/twitter"
)

func tweetServer(t *testing.T, hits *atomic.Int32, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Method != http.MethodPost || r.URL.Path != "/2/tweets" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if status != http.StatusCreated {
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(map[string]string{"title": "Unauthorized", "detail": "bad token"})
			return
		}
		var body struct {
			Text string `json:"text"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]string{
			"id":   "1790000000000000000",
			"text": body.Text,
		}})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPublishSingle_NoTokenNoNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := tweetServer(t, &hits, http.StatusCreated)
	pub := twitter.NewPublisher(twitter.NewClient(srv.URL, time.Second), "", 0)

	_, err := pub.PublishSingle(context.Background(), "hello")
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("got %v, want ErrUnauthorized", err)
	}
	if hits.Load() != 0 {
		t.Error("no request should be made without a token")
	}
}

func TestPublishSingle_ScopedToken(t *testing.T) {
	var hits atomic.Int32
	var gotAuth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		gotAuth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"data":{"id":"42","text":"hi"}}`))
	}))
	defer srv.Close()
	base := twitter.NewPublisher(twitter.NewClient(srv.URL, time.Second), "", 280)

	ref, err := base.WithBearerToken("user-token").PublishSingle(context.Background(), "hi")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if ref.ID != "42" || !strings.HasSuffix(ref.URI, "/42") {
		t.Errorf("ref: %+v", ref)
	}
	if gotAuth.Load() != "Bearer user-token" {
		t.Errorf("Authorization: got %v", gotAuth.Load())
	}

	if _, err := base.PublishSingle(context.Background(), "hi"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Error("scoping must not change the original publisher")
	}
}

func TestPublishSingle_RejectedToken(t *testing.T) {
	var hits atomic.Int32
	srv := tweetServer(t, &hits, http.StatusUnauthorized)
	pub := twitter.NewPublisher(twitter.NewClient(srv.URL, time.Second), "expired", 280)

	_, err := pub.PublishSingle(context.Background(), "hello")
	if !errors.Is(err, domain.ErrCredentialsInvalid) {
		t.Errorf("got %v, want ErrCredentialsInvalid", err)
	}
	var de *domain.DeliveryError
	if !errors.As(err, &de) || de.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected DeliveryError with 401, got %v", err)
	}
}

func TestPublishSingle_ServerError(t *testing.T) {
	var hits atomic.Int32
	srv := tweetServer(t, &hits, http.StatusServiceUnavailable)
	pub := twitter.NewPublisher(twitter.NewClient(srv.URL, time.Second), "token", 280)

	_, err := pub.PublishSingle(context.Background(), "hello")
	if !errors.Is(err, domain.ErrDelivery) || errors.Is(err, domain.ErrCredentialsInvalid) {
		t.Errorf("got %v, want plain delivery error", err)
	}
}

func TestOAuth_PKCE(t *testing.T) {
	var gotVerifier atomic.Value
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotVerifier.Store(r.PostForm.Get("code_verifier"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at","refresh_token":"rt","token_type":"bearer","expires_in":7200}`))
	}))
	defer tokenSrv.Close()

	o := twitter.NewOAuth("client", "secret", "https://app.test/callback", oauth2.Endpoint{
		AuthURL:   "https://auth.test/authorize",
		TokenURL:  tokenSrv.URL,
		AuthStyle: oauth2.AuthStyleInHeader,
	})

	verifier := o.GenerateVerifier()
	link := o.AuthCodeURL("state-1", verifier)
	if !strings.Contains(link, "state=state-1") || !strings.Contains(link, "code_challenge_method=S256") {
		t.Errorf("link: %s", link)
	}
	if strings.Contains(link, verifier) {
		t.Error("verifier must not appear in the link")
	}

	tokens, err := o.Exchange(context.Background(), "code", verifier)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if tokens.AccessToken != "at" || tokens.RefreshToken != "rt" {
		t.Errorf("tokens: %+v", tokens)
	}
	if gotVerifier.Load() != verifier {
		t.Error("verifier not sent on exchange")
	}
}

func TestPublishSingle_UnreadableSuccessIsDeliveryError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("created"))
	}))
	defer srv.Close()
	pub := twitter.NewPublisher(twitter.NewClient(srv.URL, time.Second), "token", 280)

	_, err := pub.PublishSingle(context.Background(), "hello")
	var de *domain.DeliveryError
	if !errors.As(err, &de) || de.StatusCode != http.StatusCreated {
		t.Fatalf("got %v, want DeliveryError with status 201", err)
	}
	if domain.ErrorKind(err) != "DeliveryError" {
		t.Errorf("kind: got %q", domain.ErrorKind(err))
	}
}
