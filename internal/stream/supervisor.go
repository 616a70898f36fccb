package stream

import (
	"bytes"
	"context"
	"time"

	"github.com/gorilla/websocket"

	"perch/internal/logging"
	"perch/internal/metrics"
)

const (
	// pingWindow force-closes the connection when no frame arrives in time.
	pingWindow = 10 * time.Minute
	// Reconnect pattern: shortRetries quick attempts, then one long pause.
	shortDelay   = 5 * time.Second
	longDelay    = 15 * time.Minute
	shortRetries = 2
)

// Supervisor owns one long-lived streaming connection: it dials, watches
// keepalives, and reconnects with a short/short/long cadence. Every parsed
// event is handed to the handler; shutdown comes from the context and
// suppresses reconnection.
type Supervisor struct {
	url     string
	dialer  *websocket.Dialer
	handler func(Event)

	retries int
}

func NewSupervisor(url string, handler func(Event)) *Supervisor {
	return &Supervisor{url: url, dialer: websocket.DefaultDialer, handler: handler}
}

// Run keeps the connection alive until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	first := true
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !first {
			metrics.StreamReconnects.Inc()
		}
		first = false
		err := s.connectOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logging.Warn("stream_closed", map[string]any{"error": errString(err)})
		var delay time.Duration
		delay, s.retries = nextDelay(s.retries)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// nextDelay implements the fixed backoff cadence: two short waits, then one
// long wait, counter reset, repeat. Deliberately not exponential.
func nextDelay(retries int) (time.Duration, int) {
	if retries < shortRetries {
		return shortDelay, retries + 1
	}
	return longDelay, 0
}

func (s *Supervisor) connectOnce(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	logging.Info("stream_connected", map[string]any{"url": s.url})
	done := make(chan struct{})
	defer close(done)
	go func() {
		// Shutdown force-closes without triggering another reconnect;
		// Run checks ctx before looping.
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
			_ = conn.Close()
		}
	}()

	resetDeadline := func() { _ = conn.SetReadDeadline(time.Now().Add(pingWindow)) }
	resetDeadline()
	conn.SetPingHandler(func(appData string) error {
		resetDeadline()
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(10*time.Second))
	})
	conn.SetPongHandler(func(string) error { resetDeadline(); return nil })

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			// Includes the keepalive deadline expiring.
			return err
		}
		resetDeadline()
		msg = bytes.TrimSpace(msg)
		if len(msg) == 0 {
			// Blank keepalive line.
			continue
		}
		ev, ok := parseEvent(msg)
		if !ok {
			metrics.ItemsDropped.Inc()
			logging.Warn("stream_parse", map[string]any{"bytes": len(msg)})
			continue
		}
		metrics.StreamEvents.WithLabelValues(ev.Kind).Inc()
		s.handler(ev)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
