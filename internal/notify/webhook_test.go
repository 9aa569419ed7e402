package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/tos-network/poolwatch/internal/alerts"
)

func testEvent(kind alerts.Kind) alerts.Event {
	return alerts.Event{
		ID:          "ev-1",
		Kind:        kind,
		WalletID:    "etc-main",
		WalletLabel: "Garage rigs",
		Pool:        "2miners",
		Coin:        "etc",
		Title:       "Worker rig_1 offline",
		Message:     "rig_1 stopped submitting shares 15 minutes ago",
		Workers:     []string{"rig_1"},
		CreatedAt:   time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

// newTestNotifier returns a notifier whose retry sleeps are recorded
// instead of slept.
func newTestNotifier(cfg *WebhookConfig) (*Notifier, *[]time.Duration) {
	n := NewNotifier(cfg)
	var mu sync.Mutex
	var slept []time.Duration
	n.sleep = func(d time.Duration) {
		mu.Lock()
		slept = append(slept, d)
		mu.Unlock()
	}
	return n, &slept
}

func TestNewNotifier(t *testing.T) {
	cfg := &WebhookConfig{
		Enabled:    true,
		DiscordURL: "https://discord.com/api/webhooks/test",
	}

	n := NewNotifier(cfg)

	if n.cfg != cfg {
		t.Error("Notifier.cfg not set correctly")
	}
	if n.client.Timeout != 10*time.Second {
		t.Errorf("Client timeout = %v, want 10s", n.client.Timeout)
	}
	if n.sleep == nil {
		t.Error("Notifier.sleep should default to time.Sleep")
	}
}

func TestNotifyDisabled(t *testing.T) {
	var called int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&called, 1)
	}))
	defer server.Close()

	n := NewNotifier(&WebhookConfig{Enabled: false, DiscordURL: server.URL})
	n.Notify([]alerts.Event{testEvent(alerts.KindWorkerOffline)})
	n.Wait()

	if atomic.LoadInt32(&called) != 0 {
		t.Errorf("disabled notifier made %d requests", called)
	}
}

func TestNotifyNoEvents(t *testing.T) {
	var called int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&called, 1)
	}))
	defer server.Close()

	n := NewNotifier(&WebhookConfig{Enabled: true, DiscordURL: server.URL})
	n.Notify(nil)
	n.Wait()

	if atomic.LoadInt32(&called) != 0 {
		t.Errorf("empty batch made %d requests", called)
	}
}

func TestDiscordWebhookIntegration(t *testing.T) {
	var mu sync.Mutex
	var received []DiscordMessage

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %s", r.Header.Get("Content-Type"))
		}
		var msg DiscordMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			t.Errorf("decode body: %v", err)
		}
		mu.Lock()
		received = append(received, msg)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	n := NewNotifier(&WebhookConfig{
		Enabled:      true,
		DiscordURL:   server.URL,
		DashboardURL: "https://watch.example.com",
	})

	drop := testEvent(alerts.KindProfitDrop)
	drop.Title = "Earnings down 25.0%"
	drop.Workers = nil
	drop.DropPercent = 25

	n.Notify([]alerts.Event{testEvent(alerts.KindWorkerOffline), drop})
	n.Wait()

	mu.Lock()
	defer mu.Unlock()

	if len(received) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(received))
	}
	embeds := received[0].Embeds
	if len(embeds) != 2 {
		t.Fatalf("Expected 2 embeds, got %d", len(embeds))
	}

	offline := embeds[0]
	if offline.Title != "Worker rig_1 offline" || offline.Color != 0xFF0000 {
		t.Errorf("offline embed = %+v", offline)
	}
	if offline.URL != "https://watch.example.com" {
		t.Errorf("URL = %s", offline.URL)
	}
	if offline.Timestamp != "2024-01-01T12:00:00Z" {
		t.Errorf("Timestamp = %s", offline.Timestamp)
	}
	if offline.Fields[0].Value != "Garage rigs" || offline.Fields[2].Value != "ETC" {
		t.Errorf("fields = %+v", offline.Fields)
	}
	if last := offline.Fields[len(offline.Fields)-1]; last.Name != "Workers" || last.Value != "rig_1" {
		t.Errorf("workers field = %+v", last)
	}

	if embeds[1].Color != 0xFFA500 {
		t.Errorf("profit drop color = %x", embeds[1].Color)
	}
	if last := embeds[1].Fields[len(embeds[1].Fields)-1]; last.Name != "Drop" || last.Value != "25.0%" {
		t.Errorf("drop field = %+v", last)
	}
}

func TestDiscordBatchesEmbeds(t *testing.T) {
	var mu sync.Mutex
	var sizes []int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg DiscordMessage
		json.NewDecoder(r.Body).Decode(&msg)
		mu.Lock()
		sizes = append(sizes, len(msg.Embeds))
		mu.Unlock()
	}))
	defer server.Close()

	events := make([]alerts.Event, 23)
	for i := range events {
		events[i] = testEvent(alerts.KindWorkerOffline)
	}

	n := NewNotifier(&WebhookConfig{Enabled: true, DiscordURL: server.URL})
	n.Notify(events)
	n.Wait()

	mu.Lock()
	defer mu.Unlock()

	if len(sizes) != 3 || sizes[0] != 10 || sizes[1] != 10 || sizes[2] != 3 {
		t.Errorf("embed batches = %v, want [10 10 3]", sizes)
	}
}

func TestTelegramWebhookIntegration(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	var received []TelegramMessage

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg TelegramMessage
		json.NewDecoder(r.Body).Decode(&msg)
		mu.Lock()
		paths = append(paths, r.URL.Path)
		received = append(received, msg)
		mu.Unlock()
	}))
	defer server.Close()

	n := NewNotifier(&WebhookConfig{
		Enabled:      true,
		TelegramURL:  server.URL + "/",
		TelegramBot:  "123:ABC",
		TelegramChat: "-100",
	})

	back := testEvent(alerts.KindBackOnline)
	back.Title = "Workers back online"
	n.Notify([]alerts.Event{testEvent(alerts.KindWorkerOffline), back})
	n.Wait()

	mu.Lock()
	defer mu.Unlock()

	if len(received) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(received))
	}
	if paths[0] != "/bot123:ABC/sendMessage" {
		t.Errorf("path = %s", paths[0])
	}
	msg := received[0]
	if msg.ChatID != "-100" || msg.ParseMode != "Markdown" {
		t.Errorf("message = %+v", msg)
	}
	if !strings.HasPrefix(msg.Text, "*Worker rig\\_1 offline*") {
		t.Errorf("text not escaped: %q", msg.Text)
	}
	if !strings.Contains(msg.Text, "Pool: `2miners` (ETC)") {
		t.Errorf("text missing pool: %q", msg.Text)
	}
	if !strings.HasPrefix(received[1].Text, "*Workers back online*") {
		t.Errorf("second text = %q", received[1].Text)
	}
}

func TestRetryOnFailure(t *testing.T) {
	var callCount int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&callCount, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n, slept := newTestNotifier(&WebhookConfig{Enabled: true, DiscordURL: server.URL})
	n.Notify([]alerts.Event{testEvent(alerts.KindWorkerOffline)})
	n.Wait()

	if atomic.LoadInt32(&callCount) != 3 {
		t.Errorf("calls = %d, want 3", callCount)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(*slept) != len(want) || (*slept)[0] != want[0] || (*slept)[1] != want[1] {
		t.Errorf("sleeps = %v, want %v", *slept, want)
	}
}

func TestRetryExhausted(t *testing.T) {
	var callCount int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&callCount, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	n, _ := newTestNotifier(&WebhookConfig{Enabled: true})
	err := n.postWithRetry(server.URL, []byte(`{}`))
	if err == nil || err.Error() != "status 502" {
		t.Errorf("err = %v, want status 502", err)
	}
	if atomic.LoadInt32(&callCount) != MaxRetries {
		t.Errorf("calls = %d, want %d", callCount, MaxRetries)
	}
}

func TestRateLimitHandling(t *testing.T) {
	var callCount int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&callCount, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n, slept := newTestNotifier(&WebhookConfig{Enabled: true})
	if err := n.postWithRetry(server.URL, []byte(`{}`)); err != nil {
		t.Fatalf("postWithRetry error = %v", err)
	}
	if len(*slept) != 2 || (*slept)[0] != rateLimitDelay {
		t.Errorf("sleeps = %v, want rate limit delay first", *slept)
	}
}

func TestConnectionError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	n, _ := newTestNotifier(&WebhookConfig{Enabled: true})
	if err := n.postWithRetry(url, []byte(`{}`)); err == nil {
		t.Error("expected connection error")
	}
}

func TestEscapeMarkdown(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"rig1", "rig1"},
		{"rig_1", "rig\\_1"},
		{"*bold* `code` [link]", "\\*bold\\* \\`code\\` \\[link]"},
	}

	for _, tt := range tests {
		if got := escapeMarkdown(tt.input); got != tt.expected {
			t.Errorf("escapeMarkdown(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate(short) = %q", got)
	}
	long := strings.Repeat("a", 20)
	if got := truncate(long, 10); got != "aaaaaaa..." {
		t.Errorf("truncate(long) = %q", got)
	}

	// "é" is two bytes; byte 7 falls inside the fourth one.
	accented := strings.Repeat("é", 10)
	got := truncate(accented, 10)
	if got != "ééé..." {
		t.Errorf("truncate(accented) = %q, want %q", got, "ééé...")
	}
	if !utf8.ValidString(got) {
		t.Errorf("truncate(accented) = %q is not valid UTF-8", got)
	}
}

func TestWalletName(t *testing.T) {
	ev := testEvent(alerts.KindWorkerOffline)
	if walletName(ev) != "Garage rigs" {
		t.Errorf("walletName = %s", walletName(ev))
	}
	ev.WalletLabel = ""
	if walletName(ev) != "etc-main" {
		t.Errorf("walletName fallback = %s", walletName(ev))
	}
}
