package goAccess

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, AuditEvent) {
	s.count.Add(1)
}

func (s *countingSink) Count() int64 {
	return s.count.Load()
}

type gateSink struct {
	gate chan struct{}
}

func newGateSink() *gateSink {
	return &gateSink{
		gate: make(chan struct{}),
	}
}

func (s *gateSink) Emit(context.Context, AuditEvent) {
	<-s.gate
}

// collectEvents reads events from sink until want have arrived or the
// timeout passes.
func collectEvents(t *testing.T, sink *ChannelSink, want int) []AuditEvent {
	t.Helper()

	events := make([]AuditEvent, 0, want)
	timeout := time.After(2 * time.Second)
	for len(events) < want {
		select {
		case ev := <-sink.Events():
			events = append(events, ev)
		case <-timeout:
			return events
		}
	}
	return events
}

func TestAuditDisabledNoSinkCalls(t *testing.T) {
	sink := &countingSink{}
	env := newTestEnvWithSink(t, func(c *Config) { c.Audit.Enabled = false }, sink)
	env.addClient(t, Client{ID: "abc", Name: "ABC", RedirectURIs: []string{testRedirect}, AllowAnyone: true})

	env.issueCode(t, "abc", testRedirect, "alice@example.com", "")
	time.Sleep(30 * time.Millisecond)

	if sink.Count() != 0 {
		t.Fatalf("expected no audit sink calls when disabled, got %d", sink.Count())
	}
}

func TestAuditTokenFlowEventsCarryFields(t *testing.T) {
	sink := NewChannelSink(32)
	env := newTestEnvWithSink(t, func(c *Config) {
		c.Audit.Enabled = true
		c.Audit.BufferSize = 32
		c.Audit.DropIfFull = false
	}, sink)
	secret := env.addClient(t, Client{ID: "abc", Name: "ABC", RedirectURIs: []string{testRedirect}, AllowAnyone: true})
	code := env.issueCode(t, "abc", testRedirect, "alice@example.com", "profile")

	ctx := WithUserAgent(WithClientIP(context.Background(), "198.51.100.33"), "curl/8")
	resp, err := env.engine.ExchangeCodeForToken(ctx, TokenRequest{
		GrantType: "authorization_code", Code: code, RedirectURI: testRedirect, ClientID: "abc", ClientSecret: secret,
	})
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}

	// authorize, consent approved, token issued
	events := collectEvents(t, sink, 3)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	issued := events[2]
	if issued.EventType != auditEventTokenIssued || !issued.Success {
		t.Fatalf("unexpected event %+v", issued)
	}
	if issued.IP != "198.51.100.33" || issued.ClientID != "abc" {
		t.Fatalf("unexpected event fields %+v", issued)
	}
	if issued.Metadata["user_agent"] != "curl/8" || issued.Metadata["scope"] != "profile" {
		t.Fatalf("unexpected metadata %+v", issued.Metadata)
	}
	if !issued.Timestamp.Equal(env.clock.Now()) {
		t.Fatalf("expected engine clock timestamp, got %v", issued.Timestamp)
	}

	for _, ev := range events {
		for _, needle := range []string{secret, code, resp.AccessToken} {
			if strings.Contains(ev.Error, needle) {
				t.Fatalf("secret leaked in audit error of %s", ev.EventType)
			}
			for k, v := range ev.Metadata {
				if strings.Contains(k, needle) || strings.Contains(v, needle) {
					t.Fatalf("secret leaked in audit metadata of %s", ev.EventType)
				}
			}
		}
	}
}

func TestAuditExchangeFailureRecordsCode(t *testing.T) {
	sink := NewChannelSink(8)
	env := newTestEnvWithSink(t, func(c *Config) {
		c.Audit.Enabled = true
		c.Audit.DropIfFull = false
	}, sink)
	env.addClient(t, Client{ID: "abc", Name: "ABC", RedirectURIs: []string{testRedirect}, AllowAnyone: true})

	_, _ = env.engine.ExchangeCodeForToken(context.Background(), TokenRequest{
		GrantType: "authorization_code", Code: "nope", RedirectURI: testRedirect, ClientID: "abc", ClientSecret: "wrong-secret",
	})

	events := collectEvents(t, sink, 1)
	if len(events) != 1 {
		t.Fatal("expected an exchange failure event")
	}
	ev := events[0]
	if ev.EventType != auditEventTokenExchangeFailure || ev.Success || ev.Error == "" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if strings.Contains(ev.Error, "wrong-secret") {
		t.Fatal("client secret leaked in audit error")
	}
}

type panicOnceSink struct {
	panicked atomic.Bool
	events   chan AuditEvent
}

func (s *panicOnceSink) Emit(_ context.Context, event AuditEvent) {
	if s.panicked.CompareAndSwap(false, true) {
		panic("sink failure")
	}
	s.events <- event
}

type deadlineSink struct {
	deadlines chan bool
}

func (s *deadlineSink) Emit(ctx context.Context, _ AuditEvent) {
	_, ok := ctx.Deadline()
	s.deadlines <- ok
}

func TestAuditBufferFullDropIfFullTrueDoesNotBlock(t *testing.T) {
	sink := newGateSink()
	queue := newAuditQueue(AuditConfig{
		Enabled:    true,
		BufferSize: 1,
		DropIfFull: true,
	}, sink, zerolog.Nop())
	defer func() {
		close(sink.gate)
		queue.shutdown()
	}()

	queue.enqueue(context.Background(), AuditEvent{EventType: "e1"})
	queue.enqueue(context.Background(), AuditEvent{EventType: "e2"})

	start := time.Now()
	queue.enqueue(context.Background(), AuditEvent{EventType: "e3"})
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("expected non-blocking enqueue when DropIfFull is true")
	}
	if queue.Dropped() == 0 {
		t.Fatal("expected dropped counter to increment when queue is full")
	}
}

func TestAuditBufferFullDropIfFullFalseBlocksUntilSpace(t *testing.T) {
	sink := newGateSink()
	queue := newAuditQueue(AuditConfig{
		Enabled:    true,
		BufferSize: 1,
		DropIfFull: false,
	}, sink, zerolog.Nop())
	defer func() {
		close(sink.gate)
		queue.shutdown()
	}()

	queue.enqueue(context.Background(), AuditEvent{EventType: "e1"})
	queue.enqueue(context.Background(), AuditEvent{EventType: "e2"})

	done := make(chan struct{})
	go func() {
		queue.enqueue(context.Background(), AuditEvent{EventType: "e3"})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("expected enqueue to block while buffer is full")
	case <-time.After(150 * time.Millisecond):
	}

	sink.gate <- struct{}{}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected blocked enqueue to proceed after space is available")
	}
}

func TestAuditAdminEventsWaitEvenWhenLossy(t *testing.T) {
	sink := newGateSink()
	queue := newAuditQueue(AuditConfig{
		Enabled:    true,
		BufferSize: 1,
		DropIfFull: true,
	}, sink, zerolog.Nop())
	defer func() {
		close(sink.gate)
		queue.shutdown()
	}()

	queue.enqueue(context.Background(), AuditEvent{EventType: auditEventAPIKeyUsed})
	// Wait for the worker to pick up the first event so the buffer has room.
	time.Sleep(50 * time.Millisecond)
	queue.enqueue(context.Background(), AuditEvent{EventType: auditEventAPIKeyUsed})

	done := make(chan struct{})
	go func() {
		queue.enqueue(context.Background(), AuditEvent{EventType: auditEventPermissionGranted})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("expected permission_granted to wait for room")
	case <-time.After(150 * time.Millisecond):
	}
	if queue.Dropped() != 0 {
		t.Fatalf("dropped = %d, want 0", queue.Dropped())
	}

	sink.gate <- struct{}{}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected permission_granted to be queued once room freed")
	}
	if queue.Dropped() != 0 {
		t.Fatalf("dropped = %d, want 0", queue.Dropped())
	}
}

func TestAuditCancelledCallerCountsAsDrop(t *testing.T) {
	sink := newGateSink()
	queue := newAuditQueue(AuditConfig{
		Enabled:    true,
		BufferSize: 1,
	}, sink, zerolog.Nop())
	defer func() {
		close(sink.gate)
		queue.shutdown()
	}()

	queue.enqueue(context.Background(), AuditEvent{EventType: "e1"})
	queue.enqueue(context.Background(), AuditEvent{EventType: "e2"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	queue.enqueue(ctx, AuditEvent{EventType: auditEventAdminAdded})

	if queue.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", queue.Dropped())
	}
}

func TestAuditQueueSurvivesPanickingSink(t *testing.T) {
	sink := &panicOnceSink{events: make(chan AuditEvent, 2)}
	var logs syncBuffer
	queue := newAuditQueue(AuditConfig{Enabled: true, BufferSize: 4}, sink, zerolog.New(&logs))
	defer queue.shutdown()

	queue.enqueue(context.Background(), AuditEvent{EventType: "first"})
	queue.enqueue(context.Background(), AuditEvent{EventType: "second"})

	select {
	case ev := <-sink.events:
		if ev.EventType != "second" {
			t.Fatalf("delivered %q, want second", ev.EventType)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker stopped after sink panic")
	}
	if !logs.Contains("audit sink panicked") {
		t.Fatal("expected the panic to be logged")
	}
}

func TestAuditSinkTimeoutSetsDeadline(t *testing.T) {
	for _, tc := range []struct {
		name    string
		timeout time.Duration
		want    bool
	}{
		{"bounded", time.Second, true},
		{"unbounded", 0, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			sink := &deadlineSink{deadlines: make(chan bool, 1)}
			queue := newAuditQueue(AuditConfig{Enabled: true, BufferSize: 1, SinkTimeout: tc.timeout}, sink, zerolog.Nop())
			defer queue.shutdown()

			queue.enqueue(context.Background(), AuditEvent{EventType: "e1"})
			select {
			case got := <-sink.deadlines:
				if got != tc.want {
					t.Fatalf("deadline set = %v, want %v", got, tc.want)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("event not delivered")
			}
		})
	}
}

func TestAuditQueueShutdownDrainsAndIgnoresLaterEvents(t *testing.T) {
	sink := &countingSink{}
	queue := newAuditQueue(AuditConfig{
		Enabled:    true,
		BufferSize: 4,
		DropIfFull: true,
	}, sink, zerolog.Nop())

	queue.enqueue(context.Background(), AuditEvent{EventType: "e1"})
	queue.enqueue(context.Background(), AuditEvent{EventType: "e2"})
	queue.shutdown()
	queue.shutdown()
	queue.enqueue(context.Background(), AuditEvent{EventType: "e3"})

	if got := sink.Count(); got != 2 {
		t.Fatalf("delivered %d events, want 2", got)
	}
}

func TestAuditQueueDisabledIsNil(t *testing.T) {
	queue := newAuditQueue(AuditConfig{Enabled: false}, &countingSink{}, zerolog.Nop())
	if queue != nil {
		t.Fatal("expected no queue when audit is disabled")
	}
	queue.enqueue(context.Background(), AuditEvent{EventType: "e1"})
	queue.shutdown()
	if queue.Dropped() != 0 {
		t.Fatal("nil queue reported drops")
	}
}

func TestAuditJSONWriterSinkWritesJSONLines(t *testing.T) {
	var buf syncBuffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: auditEventAPIKeyUsed,
		KeyID:     "k1",
		IP:        "127.0.0.1",
		Success:   true,
	})

	if !buf.Contains(`"event_type":"api_key_used"`) {
		t.Fatal("expected JSON log line to contain event type")
	}
	if !buf.Contains(`"key_id":"k1"`) {
		t.Fatal("expected JSON log line to contain key id")
	}
	if !buf.Contains("}\n") {
		t.Fatal("expected newline-terminated document")
	}
}

func TestAuditZerologSinkLevels(t *testing.T) {
	var out bytes.Buffer
	sink := NewZerologSink(zerolog.New(&out))

	sink.Emit(context.Background(), AuditEvent{
		EventType: auditEventPermissionGranted,
		Actor:     "root@example.com",
		Subject:   "staff@example.com",
		Success:   true,
		Metadata:  map[string]string{"level": "write"},
	})
	sink.Emit(context.Background(), AuditEvent{
		EventType: auditEventAPIKeyRejected,
		Success:   false,
		Error:     string(auditErrForbidden),
	})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two log lines, got %q", out.String())
	}
	if !strings.Contains(lines[0], `"level":"info"`) || !strings.Contains(lines[0], `"meta_level":"write"`) {
		t.Fatalf("unexpected success line %s", lines[0])
	}
	if !strings.Contains(lines[1], `"level":"warn"`) || !strings.Contains(lines[1], `"error":"forbidden"`) {
		t.Fatalf("unexpected failure line %s", lines[1])
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Contains(v string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Contains(b.buf.String(), v)
}
