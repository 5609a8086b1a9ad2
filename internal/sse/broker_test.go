package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type fakeResult struct {
	RunID   int64 `json:"runId"`
	written int
}

func (r fakeResult) Written() int { return r.written }

func receive(t *testing.T, ch chan []byte) string {
	t.Helper()
	select {
	case msg := <-ch:
		return string(msg)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
		return ""
	}
}

// drain collects whatever is queued on ch after the loop has settled.
func drain(ch chan []byte) []string {
	time.Sleep(50 * time.Millisecond)
	var out []string
	for {
		select {
		case msg := <-ch:
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func TestClientCountTracksSubscriptions(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	ch := b.Subscribe(0)
	if n := b.ClientCount(); n != 1 {
		t.Fatalf("clients = %d, want 1", n)
	}
	b.Unsubscribe(ch)
	if n := b.ClientCount(); n != 0 {
		t.Fatalf("clients after unsubscribe = %d", n)
	}
	if _, ok := <-ch; ok {
		t.Error("unsubscribed channel should be closed")
	}
}

func TestPublishEncodesIDTypeAndData(t *testing.T) {
	b := NewBroker()
	defer b.Close()
	ch := b.Subscribe(0)

	b.PublishEvent("run.started", map[string]any{"runId": 7, "trigger": "watch"})
	b.PublishEvent("run.failed", map[string]any{"runId": 7})

	first := receive(t, ch)
	want := "id: 1\nevent: run.started\ndata: {\"runId\":7,\"trigger\":\"watch\"}\n\n"
	if first != want {
		t.Errorf("frame = %q, want %q", first, want)
	}
	if second := receive(t, ch); !strings.HasPrefix(second, "id: 2\nevent: run.failed\n") {
		t.Errorf("second frame = %q", second)
	}
}

func TestModelsChangedIsThrottled(t *testing.T) {
	b := NewBroker(WithChangedThrottle(500 * time.Millisecond))
	defer b.Close()
	ch := b.Subscribe(0)

	b.PublishEvent("run.completed", fakeResult{RunID: 1, written: 2})
	b.PublishEvent("run.completed", fakeResult{RunID: 2, written: 1})
	b.PublishEvent("run.started", map[string]int{"runId": 3})

	var changed, runs int
	for _, msg := range drain(ch) {
		if strings.Contains(msg, "event: "+EventModelsChanged) {
			changed++
			if !strings.Contains(msg, `"files":2`) {
				t.Errorf("models.changed payload = %q", msg)
			}
			continue
		}
		runs++
	}
	if runs != 3 {
		t.Errorf("run events = %d, want 3", runs)
	}
	if changed != 1 {
		t.Errorf("models.changed events = %d, want 1", changed)
	}
}

func TestUnchangedRunDoesNotAnnounceChange(t *testing.T) {
	b := NewBroker(WithChangedThrottle(time.Millisecond))
	defer b.Close()
	ch := b.Subscribe(0)

	b.PublishEvent("run.completed", fakeResult{RunID: 1})

	msgs := drain(ch)
	if len(msgs) != 1 || !strings.Contains(msgs[0], `"runId":1`) {
		t.Errorf("messages = %q", msgs)
	}
}

func TestSubscribeReplaysAfterLastID(t *testing.T) {
	b := NewBroker(WithReplay(2))
	defer b.Close()

	for i := 0; i < 4; i++ {
		b.PublishEvent("run.completed", map[string]int{"i": i})
	}
	// Let the loop record all four before subscribing.
	time.Sleep(50 * time.Millisecond)

	msgs := drain(b.Subscribe(1))
	if len(msgs) != 2 {
		t.Fatalf("replayed %d frames, want the 2 retained: %q", len(msgs), msgs)
	}
	if !strings.HasPrefix(msgs[0], "id: 3\n") || !strings.HasPrefix(msgs[1], "id: 4\n") {
		t.Errorf("replayed = %q", msgs)
	}

	if fresh := drain(b.Subscribe(0)); len(fresh) != 0 {
		t.Errorf("fresh subscriber got %q", fresh)
	}
}

func TestSlowClientDoesNotBlock(t *testing.T) {
	b := NewBroker()
	defer b.Close()
	b.Subscribe(0)

	done := make(chan struct{})
	go func() {
		for i := 0; i < clientBuffer+10; i++ {
			b.PublishEvent("run.started", map[string]int{"i": i})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full client")
	}
	if b.ClientCount() != 1 {
		t.Error("broker loop stalled")
	}
}

func TestServeHTTPStreamsAndCleansUp(t *testing.T) {
	b := NewBroker(WithKeepAlive(20 * time.Millisecond))
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatal("handler did not subscribe")
	}
	b.PublishEvent("run.completed", map[string]string{"trigger": "api"})
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	body := w.Body.String()
	if w.Header().Get("Content-Type") != "text/event-stream" {
		t.Errorf("content type = %q", w.Header().Get("Content-Type"))
	}
	for _, want := range []string{"retry: 3000", "event: run.completed", ": keep-alive"} {
		if !strings.Contains(body, want) {
			t.Errorf("stream missing %q: %q", want, body)
		}
	}

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Error("client not removed after disconnect")
	}
}

func TestServeHTTPResumesFromLastEventID(t *testing.T) {
	b := NewBroker()
	defer b.Close()
	b.PublishEvent("run.started", map[string]int{"runId": 1})
	b.PublishEvent("run.completed", map[string]int{"runId": 1})
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	req.Header.Set("Last-Event-ID", "1")
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := w.Body.String()
	if strings.Contains(body, "event: run.started") || !strings.Contains(body, "id: 2\nevent: run.completed") {
		t.Errorf("resumed stream = %q", body)
	}
}

func TestCloseStopsEverything(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe(0)

	b.Close()
	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("subscriber channel should be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}
	if b.ClientCount() != 0 {
		t.Error("closed broker should report no clients")
	}
	if _, ok := <-b.Subscribe(0); ok {
		t.Error("subscribe after close should return a closed channel")
	}
	b.PublishEvent("run.completed", fakeResult{written: 1})
}
