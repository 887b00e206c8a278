package events_test

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/blackmichael/social-scheduler/internal/domain"
	"github.com/blackmichael/social-scheduler/internal/events"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHub_EmitReachesSubscribers(t *testing.T) {
	hub := events.NewHub(discardLogger(), 4)
	a, unsubA := hub.Subscribe()
	defer unsubA()
	b, unsubB := hub.Subscribe()
	defer unsubB()

	hub.Emit(domain.PublicationEvent{PostID: "p1", Platform: domain.PlatformBluesky, Outcome: domain.OutcomeSuccess})

	for _, ch := range []<-chan domain.PublicationEvent{a, b} {
		select {
		case ev := <-ch:
			if ev.PostID != "p1" {
				t.Errorf("got %+v", ev)
			}
		default:
			t.Error("expected event to be buffered")
		}
	}
}

func TestHub_FullSubscriberDropsInsteadOfBlocking(t *testing.T) {
	hub := events.NewHub(discardLogger(), 1)
	ch, unsub := hub.Subscribe()
	defer unsub()

	done := make(chan struct{})
	go func() {
		hub.Emit(domain.PublicationEvent{PostID: "1"})
		hub.Emit(domain.PublicationEvent{PostID: "2"})
		hub.Emit(domain.PublicationEvent{PostID: "3"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full subscriber")
	}
	if got := hub.Dropped(); got != 2 {
		t.Errorf("Dropped: got %d, want 2", got)
	}
	if ev := <-ch; ev.PostID != "1" {
		t.Errorf("first event: got %q", ev.PostID)
	}
}

func TestHub_UnsubscribeIsIdempotent(t *testing.T) {
	hub := events.NewHub(discardLogger(), 1)
	ch, unsub := hub.Subscribe()

	unsub()
	unsub()

	if hub.Subscribers() != 0 {
		t.Errorf("Subscribers: got %d", hub.Subscribers())
	}
	if _, ok := <-ch; ok {
		t.Error("channel should be closed")
	}
	hub.Emit(domain.PublicationEvent{})
}

func TestHub_WebsocketStream(t *testing.T) {
	hub := events.NewHub(discardLogger(), 4)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Emit(domain.PublicationEvent{PostID: "p9", Platform: domain.PlatformTwitter, Outcome: domain.OutcomeFailed, Error: "boom"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev domain.PublicationEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.PostID != "p9" || ev.Outcome != domain.OutcomeFailed || ev.Error != "boom" {
		t.Errorf("got %+v", ev)
	}
}
