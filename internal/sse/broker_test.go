package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// drain collects the messages that arrive on ch within wait.
func drain(ch chan []byte, wait time.Duration) []string {
	var out []string
	deadline := time.After(wait)
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, string(msg))
		case <-deadline:
			return out
		}
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe("", 0)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDeliveryWithIDs(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe("", 0)
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: "intake.added", Data: map[string]string{"name": "a.jpg"}})
	b.Publish(Event{Type: "intake.added", Data: map[string]string{"name": "b.jpg"}})

	msgs := drain(ch, 100*time.Millisecond)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if !strings.HasPrefix(msgs[0], "id: 1\nevent: intake.added\n") {
		t.Errorf("first frame = %q", msgs[0])
	}
	if !strings.Contains(msgs[0], `"name":"a.jpg"`) {
		t.Errorf("missing data in %q", msgs[0])
	}
	if !strings.HasPrefix(msgs[1], "id: 2\n") {
		t.Errorf("second frame = %q", msgs[1])
	}
}

func TestPublishAssetEvent_SyncThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe("", 0)
	defer b.Unsubscribe(ch)

	b.PublishAssetEvent(AssetEvent{Kind: "asset.added", Character: "guild/damao", Name: "gallery_1.webp"})
	b.PublishAssetEvent(AssetEvent{Kind: "sync.completed", Character: "guild/damao"})
	// Second completion for the same character within the window is dropped.
	b.PublishAssetEvent(AssetEvent{Kind: "sync.completed", Character: "guild/damao"})
	// Another character has its own window.
	b.PublishAssetEvent(AssetEvent{Kind: "sync.completed", Character: "guild/ziheng"})

	syncCount, assetCount := 0, 0
	for _, s := range drain(ch, 100*time.Millisecond) {
		if strings.Contains(s, "event: sync.completed") {
			syncCount++
			continue
		}
		assetCount++
		if !strings.Contains(s, `"name":"gallery_1.webp"`) {
			t.Errorf("asset payload = %q", s)
		}
	}
	if assetCount != 1 {
		t.Errorf("asset events = %d, want 1", assetCount)
	}
	if syncCount != 2 {
		t.Errorf("sync events = %d, want 2 (throttled per character)", syncCount)
	}
}

func TestSubscribeCharacterFilter(t *testing.T) {
	b := NewBroker(time.Millisecond)
	defer b.Close()
	ch := b.Subscribe("guild/damao", 0)
	defer b.Unsubscribe(ch)

	b.PublishAssetEvent(AssetEvent{Kind: "asset.added", Character: "guild/ziheng", Name: "gallery_1.webp"})
	b.PublishAssetEvent(AssetEvent{Kind: "asset.added", Character: "guild/damao", Name: "gallery_2.webp"})
	b.Publish(Event{Type: "intake.added", Data: map[string]string{"name": "a.jpg"}})

	msgs := strings.Join(drain(ch, 100*time.Millisecond), "")
	if strings.Contains(msgs, "gallery_1.webp") {
		t.Errorf("other character leaked through the filter: %q", msgs)
	}
	if !strings.Contains(msgs, "gallery_2.webp") {
		t.Errorf("missing damao event: %q", msgs)
	}
	if !strings.Contains(msgs, "event: intake.added") {
		t.Errorf("global events pass the filter: %q", msgs)
	}
}

func TestSubscribeReplaysAfterLastID(t *testing.T) {
	b := NewBroker(time.Millisecond, WithHistory(2))
	defer b.Close()

	witness := b.Subscribe("", 0)
	for _, name := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		b.Publish(Event{Type: "intake.added", Data: map[string]string{"name": name}})
	}
	for i := 0; i < 3; i++ {
		select {
		case <-witness:
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for publish")
		}
	}
	b.Unsubscribe(witness)

	ch := b.Subscribe("", 1)
	defer b.Unsubscribe(ch)

	msgs := drain(ch, 100*time.Millisecond)
	if len(msgs) != 2 {
		t.Fatalf("replayed %d messages, want 2", len(msgs))
	}
	if !strings.HasPrefix(msgs[0], "id: 2\n") || !strings.HasPrefix(msgs[1], "id: 3\n") {
		t.Errorf("replayed frames = %q", msgs)
	}

	fresh := b.Subscribe("", 0)
	defer b.Unsubscribe(fresh)
	if got := drain(fresh, 50*time.Millisecond); len(got) != 0 {
		t.Errorf("subscriber without Last-Event-ID got replay: %q", got)
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100*time.Millisecond, WithHeartbeat(20*time.Millisecond))
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events?character=guild/damao", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	// Give handler time to subscribe.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.PublishAssetEvent(AssetEvent{Kind: "asset.renamed", Character: "guild/damao", Name: "gallery_1.webp", From: "gallery_3.webp"})
	b.PublishAssetEvent(AssetEvent{Kind: "asset.added", Character: "guild/ziheng", Name: "gallery_9.webp"})
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: asset.renamed") || !strings.Contains(body, `"from":"gallery_3.webp"`) {
		t.Errorf("handler output missing event: %q", body)
	}
	if strings.Contains(body, "gallery_9.webp") {
		t.Errorf("filtered character leaked into stream: %q", body)
	}
	if !strings.Contains(body, ": ping") {
		t.Errorf("expected heartbeat comment: %q", body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	// Client should be cleaned up.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe("", 0)
	defer b.Unsubscribe(ch)

	// Overfill the client buffer; the broker must not block.
	for i := 0; i < clientBuffer+6; i++ {
		b.Publish(Event{Type: "test", Data: map[string]string{"i": "x"}})
	}
	time.Sleep(50 * time.Millisecond)
	if n := b.ClientCount(); n != 1 {
		t.Fatalf("clients = %d, want 1", n)
	}
	if got := len(drain(ch, 50*time.Millisecond)); got != clientBuffer {
		t.Errorf("delivered %d frames, want %d", got, clientBuffer)
	}
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe("", 0)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// Should be safe no-op after close.
	b.Publish(Event{Type: "asset.added", Data: map[string]string{"name": "x.webp"}})
	b.PublishAssetEvent(AssetEvent{Kind: "asset.removed", Name: "x.webp"})
	if sub := b.Subscribe("", 0); sub == nil {
		t.Fatal("Subscribe after close returned nil")
	}
}
