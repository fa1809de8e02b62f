package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/tgdrop/adapter"
	"github.com/pithecene-io/tgdrop/types"
)

// savedDocument is a file_saved event for a PDF that was also mirrored.
func savedDocument() *adapter.FileSavedEvent {
	e := adapter.NewFileSavedEvent(time.Date(2026, 2, 7, 12, 0, 0, 0, time.UTC))
	e.AppVersion = types.Version
	e.MessageID = 77
	e.ChatID = 5150
	e.SenderID = 42
	e.Origin = string(types.KindDocument)
	e.Source = "documents/file_3.pdf"
	e.Name = "invoice.pdf"
	e.Path = "/data/inbox/invoice.pdf"
	e.Size = 11
	e.Checksum = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	e.MirrorPath = "files/day=2026-02-07/invoice.pdf"
	return e
}

// subscribe listens on channel and forwards n messages. It must be started
// before publishing since miniredis delivers synchronously.
func subscribe(t *testing.T, mr *miniredis.Miniredis, channel string, n int) <-chan miniredis.PubsubMessage {
	t.Helper()
	sub := mr.NewSubscriber()
	t.Cleanup(sub.Close)
	sub.Subscribe(channel)

	ch := make(chan miniredis.PubsubMessage, n)
	go func() {
		for range n {
			ch <- <-sub.Messages()
		}
	}()
	return ch
}

func receive(t *testing.T, ch <-chan miniredis.PubsubMessage) miniredis.PubsubMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("no file_saved message received")
		return miniredis.PubsubMessage{}
	}
}

func newAdapter(t *testing.T, cfg Config) *Adapter {
	t.Helper()
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestPublish_FileSavedPayload(t *testing.T) {
	mr := miniredis.RunT(t)
	ch := subscribe(t, mr, DefaultChannel, 1)
	a := newAdapter(t, Config{URL: "redis://" + mr.Addr()})

	event := savedDocument()
	if err := a.Publish(t.Context(), event); err != nil {
		t.Fatalf("publish: %v", err)
	}

	msg := receive(t, ch)
	if msg.Channel != "tgdrop:file_saved" {
		t.Errorf("channel = %q", msg.Channel)
	}
	var got adapter.FileSavedEvent
	if err := json.Unmarshal([]byte(msg.Message), &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if got != *event {
		t.Errorf("payload = %+v\nwant      %+v", got, *event)
	}
	if got.EventType != adapter.EventTypeFileSaved || got.Timestamp != "2026-02-07T12:00:00Z" {
		t.Errorf("envelope = %s at %s", got.EventType, got.Timestamp)
	}
}

func TestPublish_EventsKeepOrderAndIdentity(t *testing.T) {
	mr := miniredis.RunT(t)
	ch := subscribe(t, mr, "inbox:saved", 2)
	a := newAdapter(t, Config{URL: "redis://" + mr.Addr(), Channel: "inbox:saved"})

	first, second := savedDocument(), savedDocument()
	second.Name = "invoice-2.pdf"
	if first.EventID == second.EventID {
		t.Fatal("events share an id")
	}
	for _, e := range []*adapter.FileSavedEvent{first, second} {
		if err := a.Publish(t.Context(), e); err != nil {
			t.Fatalf("publish %s: %v", e.Name, err)
		}
	}

	for _, want := range []*adapter.FileSavedEvent{first, second} {
		msg := receive(t, ch)
		if msg.Channel != "inbox:saved" {
			t.Errorf("channel = %q", msg.Channel)
		}
		var got adapter.FileSavedEvent
		if err := json.Unmarshal([]byte(msg.Message), &got); err != nil {
			t.Fatal(err)
		}
		if got.EventID != want.EventID || got.Name != want.Name {
			t.Errorf("got %s/%s, want %s/%s", got.EventID, got.Name, want.EventID, want.Name)
		}
	}
}

func TestPublish_PasswordInURL(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireAuth("s3cret")
	ch := subscribe(t, mr, DefaultChannel, 1)

	bad := newAdapter(t, Config{URL: "redis://:wrong@" + mr.Addr()})
	if err := bad.Publish(t.Context(), savedDocument()); err == nil {
		t.Error("publish with wrong password succeeded")
	}

	good := newAdapter(t, Config{URL: "redis://:s3cret@" + mr.Addr()})
	if err := good.Publish(t.Context(), savedDocument()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	receive(t, ch)
}

func TestPublish_ServerErrorReported(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.SetError("LOADING dataset in memory")
	a := newAdapter(t, Config{URL: "redis://" + mr.Addr()})

	err := a.Publish(t.Context(), savedDocument())
	if err == nil {
		t.Fatal("publish succeeded against a failing server")
	}
}

func TestPublish_ClosedClientFailsWithoutRetry(t *testing.T) {
	mr := miniredis.RunT(t)
	a, err := New(Config{URL: "redis://" + mr.Addr(), Retries: 5})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	start := time.Now()
	err = a.Publish(t.Context(), savedDocument())
	if !errors.Is(err, goredis.ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
	// The first backoff is 500ms; a closed client must not wait for it.
	if elapsed := time.Since(start); elapsed >= adapter.Backoff(1) {
		t.Errorf("closed client retried for %v", elapsed)
	}
}

func TestPublish_UnreachableServer(t *testing.T) {
	a := newAdapter(t, Config{URL: "redis://127.0.0.1:1", Retries: 1, Timeout: 100 * time.Millisecond})
	if err := a.Publish(t.Context(), savedDocument()); err == nil {
		t.Fatal("publish to an unreachable server succeeded")
	}

	slow := newAdapter(t, Config{URL: "redis://127.0.0.1:1", Retries: 5, Timeout: 10 * time.Second})
	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()
	if err := slow.Publish(ctx, savedDocument()); err == nil {
		t.Fatal("publish ignored context deadline")
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing url", Config{}},
		{"not a redis url", Config{URL: "not-a-redis-url"}},
		{"negative retries", Config{URL: "redis://localhost:6379", Retries: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Errorf("New(%+v) succeeded", tt.cfg)
			}
		})
	}

	a := newAdapter(t, Config{URL: "redis://localhost:6379/2"})
	if a.config.Channel != DefaultChannel || a.config.Timeout != DefaultTimeout {
		t.Errorf("defaults = %q %v", a.config.Channel, a.config.Timeout)
	}
}
