package bluesky_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/blackmichael/social-scheduler/internal/bluesky"
	"github.com/blackmichael/social-scheduler/internal/domain"
)

// fakePDS records createRecord calls. failAt (1-based) makes that record
// write fail with a 500; sessionStatus overrides the createSession status.
type fakePDS struct {
	mu            sync.Mutex
	sessions      int
	records       []bluesky.PostRecord
	failAt        int
	sessionStatus int
}

func (f *fakePDS) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /xrpc/com.atproto.server.createSession", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.sessions++
		f.mu.Unlock()
		if f.sessionStatus != 0 {
			w.WriteHeader(f.sessionStatus)
			json.NewEncoder(w).Encode(map[string]string{"error": "AuthenticationRequired", "message": "Invalid identifier or password"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"accessJwt": "jwt-1", "did": "did:plc:me", "handle": "me.test"})
	})
	mux.HandleFunc("POST /xrpc/com.atproto.repo.createRecord", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer jwt-1" {
			t.Errorf("Authorization: got %q", got)
		}
		var req struct {
			Repo       string             `json:"repo"`
			Collection string             `json:"collection"`
			Record     bluesky.PostRecord `json:"record"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Repo != "did:plc:me" || req.Collection != bluesky.PostCollection {
			t.Errorf("repo/collection: %q %q", req.Repo, req.Collection)
		}

		f.mu.Lock()
		f.records = append(f.records, req.Record)
		n := len(f.records)
		f.mu.Unlock()

		if n == f.failAt {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": "InternalServerError", "message": "try later"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"uri": fmt.Sprintf("at://did:plc:me/app.bsky.feed.post/%d", n),
			"cid": fmt.Sprintf("cid%d", n),
		})
	})
	return mux
}

func (f *fakePDS) recorded() ([]bluesky.PostRecord, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bluesky.PostRecord(nil), f.records...), f.sessions
}

func newTestPublisher(t *testing.T, pds *fakePDS) *bluesky.Publisher {
	t.Helper()
	srv := httptest.NewServer(pds.handler(t))
	t.Cleanup(srv.Close)
	client := bluesky.NewClient(srv.URL, 5*time.Second)
	return bluesky.NewPublisher(client, "me.test", "app-password", 280, 0)
}

func TestPublishThread_LinksReplies(t *testing.T) {
	pds := &fakePDS{}
	pub := newTestPublisher(t, pds)

	result, err := pub.PublishThread(context.Background(), []string{"one +", "two +", "three"})
	if err != nil {
		t.Fatalf("publish thread: %v", err)
	}
	if !result.Complete() || len(result.Refs) != 3 {
		t.Fatalf("result: %+v", result)
	}
	records, sessions := pds.recorded()
	if sessions != 1 {
		t.Errorf("sessions: got %d, want 1", sessions)
	}

	if records[0].Reply != nil {
		t.Error("root post must not be a reply")
	}
	root := bluesky.StrongRef{URI: "at://did:plc:me/app.bsky.feed.post/1", CID: "cid1"}
	second := bluesky.StrongRef{URI: "at://did:plc:me/app.bsky.feed.post/2", CID: "cid2"}

	if r := records[1].Reply; r == nil || r.Root != root || r.Parent != root {
		t.Errorf("second reply: %+v", r)
	}
	if r := records[2].Reply; r == nil || r.Root != root || r.Parent != second {
		t.Errorf("third reply: %+v", r)
	}
	if records[2].Text != "three" || records[0].Type != bluesky.PostCollection {
		t.Errorf("record body: %+v", records[2])
	}
}

func TestPublishThread_StopsAtFirstFailure(t *testing.T) {
	pds := &fakePDS{failAt: 2}
	pub := newTestPublisher(t, pds)

	result, err := pub.PublishThread(context.Background(), []string{"one +", "two +", "three"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, domain.ErrDelivery) {
		t.Errorf("got %v, want ErrDelivery", err)
	}
	if result.Delivered != 1 || result.Total != 3 {
		t.Errorf("result: %+v", result)
	}
	if records, _ := pds.recorded(); len(records) != 2 {
		t.Errorf("part three must never be attempted: %d writes", len(records))
	}
}

func TestPublishSingle_RejectedCredentials(t *testing.T) {
	pds := &fakePDS{sessionStatus: http.StatusUnauthorized}
	pub := newTestPublisher(t, pds)

	_, err := pub.PublishSingle(context.Background(), "hello")
	if !errors.Is(err, domain.ErrCredentialsInvalid) {
		t.Errorf("got %v, want ErrCredentialsInvalid", err)
	}
	if domain.ErrorKind(err) != "CredentialsInvalid" {
		t.Errorf("kind: got %q", domain.ErrorKind(err))
	}
	if records, _ := pds.recorded(); len(records) != 0 {
		t.Error("no record should be written")
	}
}

func TestPublishSingle_MissingCredentials(t *testing.T) {
	pds := &fakePDS{}
	srv := httptest.NewServer(pds.handler(t))
	defer srv.Close()
	pub := bluesky.NewPublisher(bluesky.NewClient(srv.URL, time.Second), "", "", 0, 0)

	_, err := pub.PublishSingle(context.Background(), "hello")
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("got %v, want ErrUnauthorized", err)
	}
	if _, sessions := pds.recorded(); sessions != 0 {
		t.Error("no network call expected without credentials")
	}
	if pub.Limits().MaxLength != bluesky.DefaultMaxLength {
		t.Errorf("default max length: got %d", pub.Limits().MaxLength)
	}
}

func TestPublishSingle_ReturnsStrongRef(t *testing.T) {
	pds := &fakePDS{}
	pub := newTestPublisher(t, pds)

	ref, err := pub.PublishSingle(context.Background(), "hello")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if ref.URI != "at://did:plc:me/app.bsky.feed.post/1" || ref.CID != "cid1" || ref.ID != ref.URI {
		t.Errorf("ref: %+v", ref)
	}
}

func TestPublishSingle_UnreadableSuccessIsDeliveryError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /xrpc/com.atproto.server.createSession", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"accessJwt": "jwt-1", "did": "did:plc:me", "handle": "me.test"})
	})
	mux.HandleFunc("POST /xrpc/com.atproto.repo.createRecord", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>ok</html>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	pub := bluesky.NewPublisher(bluesky.NewClient(srv.URL, time.Second), "me.test", "app-password", 280, 0)

	_, err := pub.PublishSingle(context.Background(), "hello")
	var de *domain.DeliveryError
	if !errors.As(err, &de) || de.StatusCode != http.StatusOK {
		t.Fatalf("got %v, want DeliveryError with status 200", err)
	}
	if domain.ErrorKind(err) != "DeliveryError" {
		t.Errorf("kind: got %q", domain.ErrorKind(err))
	}
}
