package websocket

import (
	"sync"
	"testing"
	"time"

	"alphaedge/internal/models"
)

// ============================================================
// Unit Tests
// ============================================================

func TestNewHub(t *testing.T) {
	hub := NewHub()

	if hub == nil {
		t.Fatal("NewHub returned nil")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
	if hub.DroppedMessages() != 0 {
		t.Errorf("expected 0 dropped messages, got %d", hub.DroppedMessages())
	}
}

func TestOriginChecker_Check(t *testing.T) {
	checker := &OriginChecker{
		allowedOrigins: map[string]struct{}{
			"http://localhost:3000": {},
			"https://example.com":   {},
		},
		allowAll: false,
	}

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},                       // empty origin allowed
		{"http://localhost:3000", true},  // allowed
		{"https://example.com", true},    // allowed
		{"http://evil.com", false},       // not allowed
		{"http://localhost:8080", false}, // not in list
	}

	for _, tt := range tests {
		if got := checker.Check(tt.origin); got != tt.want {
			t.Errorf("Check(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}

func TestOriginChecker_AllowAll(t *testing.T) {
	checker := &OriginChecker{allowAll: true}

	origins := []string{
		"http://localhost:3000",
		"https://evil.com",
		"http://anything.example.org",
	}
	for _, origin := range origins {
		if !checker.Check(origin) {
			t.Errorf("allowAll=true but Check(%q) = false", origin)
		}
	}
}

func TestHub_BroadcastReachesClients(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	client := &Client{
		hub:  hub,
		send: make(chan []byte, clientSendBufferSize),
	}
	hub.register <- client

	hub.BroadcastNotification(models.NewNotification(
		models.NotificationTypePositionOpened,
		models.SeverityInfo,
		"user-1",
		"position opened for NIFTY:2026-08-27:CE:24000",
	))

	select {
	case msg := <-client.send:
		var decoded NotificationMessage
		if err := jsonAPI.Unmarshal(msg, &decoded); err != nil {
			t.Fatalf("broadcast is not valid JSON: %v", err)
		}
		if decoded.Type != MessageTypeNotification {
			t.Errorf("expected type %q, got %q", MessageTypeNotification, decoded.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("registered client did not receive the broadcast")
	}

	hub.unregister <- client
}

func TestHub_SlowClientRemoved(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	// Client with a full, unread send buffer
	slow := &Client{
		hub:  hub,
		send: make(chan []byte, 1),
	}
	slow.send <- []byte("stuck")
	hub.register <- slow

	hub.Broadcast(map[string]string{"type": "test"})

	deadline := time.Now().Add(time.Second)
	for hub.ClientCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.ClientCount() != 0 {
		t.Error("slow client was not removed")
	}
}

func TestHub_BroadcastNonBlocking(t *testing.T) {
	hub := NewHub() // Run is NOT started: channel fills up

	for i := 0; i < 1000; i++ {
		hub.Broadcast(map[string]int{"i": i})
	}

	if hub.DroppedMessages() == 0 {
		t.Error("expected dropped messages when broadcast channel is full")
	}
}

func TestHub_Stop(t *testing.T) {
	hub := NewHub()

	done := make(chan struct{})
	go func() {
		hub.Run()
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	hub.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("Hub.Run() did not exit after Stop()")
	}
}

func TestHub_StreamNotifications(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	client := &Client{
		hub:  hub,
		send: make(chan []byte, clientSendBufferSize),
	}
	hub.register <- client

	notifications := make(chan *models.Notification, 4)
	go hub.StreamNotifications(notifications)

	notifications <- models.NewNotification(
		models.NotificationTypeExitFailed,
		models.SeverityError,
		"user-1",
		"exit failed",
	)
	close(notifications)

	select {
	case msg := <-client.send:
		var decoded NotificationMessage
		if err := jsonAPI.Unmarshal(msg, &decoded); err != nil {
			t.Fatalf("bad payload: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("streamed notification did not reach the client")
	}
}

// ============================================================
// Benchmarks
// ============================================================

func BenchmarkHub_Broadcast(b *testing.B) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	msg := map[string]interface{}{
		"type": "test",
		"data": "benchmark message",
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		hub.Broadcast(msg)
	}
}

func BenchmarkHub_BroadcastRaw(b *testing.B) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	data := []byte(`{"type":"test","data":"benchmark message"}`)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		hub.BroadcastRaw(data)
	}
}

func BenchmarkOriginChecker_Check(b *testing.B) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		originChecker.Check("http://localhost:3000")
	}
}

// ============================================================
// Parallel Stress Test
// ============================================================

func TestHub_ConcurrentOperations(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	var wg sync.WaitGroup
	const goroutines = 10
	const operations = 1000

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < operations; j++ {
				hub.Broadcast(map[string]int{"goroutine": id, "op": j})
			}
		}(i)
	}

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < operations; j++ {
				_ = hub.ClientCount()
			}
		}()
	}

	wg.Wait()
}
