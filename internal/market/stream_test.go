package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"perpbot/internal/events"
)

// dropServer accepts websocket upgrades and closes each connection
// immediately, like a venue dropping the stream.
func dropServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c.Close()
	}))
}

func TestRunReleasesWatcherOnDisconnect(t *testing.T) {
	srv := dropServer(t)
	defer srv.Close()

	s := NewStream(events.NewBus(), "BTCUSDT", "1m", false)
	s.url = "ws" + strings.TrimPrefix(srv.URL, "http")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	before := runtime.NumGoroutine()
	for i := 0; i < 30; i++ {
		_ = s.run(ctx)
	}

	deadline := time.Now().Add(2 * time.Second)
	for runtime.NumGoroutine() > before+2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if after := runtime.NumGoroutine(); after > before+2 {
		t.Fatalf("goroutines grew from %d to %d across 30 dropped connections", before, after)
	}
}

func TestParseKlineTick(t *testing.T) {
	msg := []byte(`{"E":1700000000000,"k":{"s":"BTCUSDT","c":"42000.5"}}`)
	tick, err := parseKlineTick(msg)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if tick.Asset != "BTCUSDT" || tick.Price != 42000.5 {
		t.Fatalf("unexpected tick %+v", tick)
	}

	if _, err := parseKlineTick([]byte(`{"k":{"s":"BTCUSDT","c":"bad"}}`)); err == nil {
		t.Fatal("expected error for malformed close price")
	}
}
