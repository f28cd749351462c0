package audit

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"log/syslog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

// lumberjack starts a background mill goroutine that outlives Close
var ignoreLumberjack = goleak.IgnoreAnyFunction("gopkg.in/natefinch/lumberjack%2ev2.(*Logger).millRun")

// memoryWriter collects events for assertions
type memoryWriter struct {
	mu     sync.Mutex
	events []Event
	err    error
	closed bool
}

func (w *memoryWriter) Write(event Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.events = append(w.events, event)
	return nil
}

func (w *memoryWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *memoryWriter) snapshot() []Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Event(nil), w.events...)
}

func decisionEvent(decision string) *DecisionEvent {
	return &DecisionEvent{
		Actor:           &Actor{ID: "user-1", Email: "ops@laundrydesk.io", Roles: []string{"superadmin"}},
		Decision:        decision,
		PolicyVersion:   4,
		SubjectID:       "user-1",
		SubjectRole:     "support",
		TenantID:        "tenant-123",
		Action:          "view",
		ResourceType:    "order",
		MatchedPolicies: []string{"tenant-isolation"},
		DurationMs:      0.42,
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	events := []Event{
		decisionEvent("DENY"),
		&PolicyReloadEvent{Source: "watcher", Operation: "replace", Version: 3, Checksum: "abc", PolicyIDs: []string{"a", "b"}},
		&PresetRunEvent{Preset: "read-only", Expected: "DENY", Decision: "DENY", Passed: true},
		&SystemEvent{Component: "server", Message: "started"},
	}

	for _, ev := range events {
		t.Run(string(ev.Type()), func(t *testing.T) {
			stamp(ContextWithRequestID(context.Background(), "req-1"), ev)

			data, err := Encode(ev)
			require.NoError(t, err)
			assert.Contains(t, string(data), `"type":"`+string(ev.Type())+`"`)

			decoded, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, ev, decoded)
			assert.Equal(t, "req-1", decoded.Meta().RequestID)
		})
	}
}

func TestDecode_Rejects(t *testing.T) {
	_, err := Decode([]byte(`{"event_id":"x"}`))
	assert.ErrorContains(t, err, "missing type")

	_, err = Decode([]byte(`{"type":"login"}`))
	assert.ErrorContains(t, err, "unknown type")

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestStamp(t *testing.T) {
	ev := &SystemEvent{Component: "test"}
	stamp(context.Background(), ev)

	assert.Regexp(t, `^evt-[0-9a-f]{32}$`, ev.EventID)
	assert.False(t, ev.Timestamp.IsZero())
	assert.Empty(t, ev.RequestID)

	other := &SystemEvent{}
	stamp(context.Background(), other)
	assert.NotEqual(t, ev.EventID, other.EventID)
}

func TestHashChain_LinkAndVerify(t *testing.T) {
	chain := NewHashChain()
	var events []Event
	for _, d := range []string{"ALLOW", "DENY", "DENY"} {
		ev := decisionEvent(d)
		stamp(context.Background(), ev)
		require.NoError(t, chain.Link(ev))
		events = append(events, ev)
	}

	assert.Empty(t, events[0].Meta().PrevHash)
	assert.Equal(t, events[0].Meta().Hash, events[1].Meta().PrevHash)
	assert.Equal(t, events[2].Meta().Hash, chain.LastHash())
	require.NoError(t, VerifyChain("", events))

	// survives a trip through the wire format
	var decoded []Event
	for _, ev := range events {
		data, err := Encode(ev)
		require.NoError(t, err)
		back, err := Decode(data)
		require.NoError(t, err)
		decoded = append(decoded, back)
	}
	require.NoError(t, VerifyChain("", decoded))

	// tampering breaks the chain
	decoded[1].(*DecisionEvent).Decision = "ALLOW"
	assert.ErrorContains(t, VerifyChain("", decoded), "event 1 has invalid hash")

	// dropping an event breaks the links
	assert.ErrorContains(t, VerifyChain("", []Event{events[0], events[2]}), "broken chain")
}

func TestHashChain_Resume(t *testing.T) {
	chain := NewHashChain()
	chain.InitializeWithHash("deadbeef")

	ev := decisionEvent("ALLOW")
	require.NoError(t, chain.Link(ev))
	assert.Equal(t, "deadbeef", ev.PrevHash)
	assert.NoError(t, VerifyChain("deadbeef", []Event{ev}))
}

func TestAsyncLogger_WritesInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	w := &memoryWriter{}
	logger := NewWriterLogger(w, Config{BufferSize: 100, FlushInterval: 10 * time.Millisecond, HashChain: true}, zap.NewNop())

	ctx := ContextWithRequestID(context.Background(), "req-42")
	for i := 0; i < 20; i++ {
		logger.Log(ctx, decisionEvent("DENY"))
	}
	require.NoError(t, logger.Close())

	events := w.snapshot()
	require.Len(t, events, 20)
	assert.True(t, w.closed)
	assert.Equal(t, "req-42", events[0].Meta().RequestID)
	assert.NoError(t, VerifyChain("", events))
	assert.Equal(t, Stats{}, logger.Stats())

	// closing twice is harmless
	assert.NoError(t, logger.Close())
}

func TestAsyncLogger_DropsOldestWhenFull(t *testing.T) {
	defer goleak.VerifyNone(t)

	w := &memoryWriter{}
	l := newAsyncLogger(w, nil, Config{BufferSize: 3, FlushInterval: time.Hour}, zap.NewNop())

	// hold the flush lock so the background goroutine cannot drain
	l.flushMu.Lock()
	for _, msg := range []string{"1", "2", "3", "4", "5"} {
		l.Log(context.Background(), &SystemEvent{Component: "test", Message: msg})
	}
	l.flushMu.Unlock()

	require.NoError(t, l.Close())

	var msgs []string
	for _, ev := range w.snapshot() {
		msgs = append(msgs, ev.(*SystemEvent).Message)
	}
	assert.Equal(t, []string{"3", "4", "5"}, msgs)
	assert.Equal(t, uint64(2), l.Stats().Dropped)
}

func TestAsyncLogger_WriteFailuresCounted(t *testing.T) {
	defer goleak.VerifyNone(t)

	w := &memoryWriter{err: errors.New("disk full")}
	logger := NewWriterLogger(w, Config{FlushInterval: time.Hour}, nil)

	logger.Log(context.Background(), &SystemEvent{Message: "x"})
	require.NoError(t, logger.Close())
	assert.Equal(t, uint64(1), logger.Stats().Failed)
}

func TestStreamWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewStreamWriter(&buf)

	require.NoError(t, w.Write(decisionEvent("ALLOW")))
	require.NoError(t, w.Write(&SystemEvent{Message: "hi"}))
	require.NoError(t, w.Close())

	scanner := bufio.NewScanner(&buf)
	var types []EventType
	for scanner.Scan() {
		ev, err := Decode(scanner.Bytes())
		require.NoError(t, err)
		types = append(types, ev.Type())
	}
	assert.Equal(t, []EventType{EventTypeDecision, EventTypeSystem}, types)
}

func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	events, err := ReadFile(path)
	require.NoError(t, err)
	return events
}

func TestFileWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "audit.log")

	w, err := NewFileWriter(path, Rotation{MaxSizeMB: 1, MaxAgeDays: 1, MaxBackups: 1})
	require.NoError(t, err)
	require.NoError(t, w.Write(decisionEvent("DENY")))
	require.NoError(t, w.Write(&SystemEvent{Component: "server", Message: "stopped"}))
	require.NoError(t, w.Close())

	events := readEvents(t, path)
	require.Len(t, events, 2)
	assert.Equal(t, EventTypeDecision, events[0].Type())
	assert.Equal(t, EventTypeSystem, events[1].Type())
}

func TestNewLogger_FileChainResumes(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreLumberjack)

	path := filepath.Join(t.TempDir(), "audit.log")
	cfg := Config{Enabled: true, Type: TypeFile, FilePath: path, HashChain: true}

	for _, decision := range []string{"ALLOW", "DENY"} {
		logger, err := NewLogger(context.Background(), &cfg, nil)
		require.NoError(t, err)
		logger.Log(context.Background(), decisionEvent(decision))
		require.NoError(t, logger.Close())
	}

	events := readEvents(t, path)
	require.Len(t, events, 2)
	assert.Equal(t, events[0].Meta().Hash, events[1].Meta().PrevHash)
	require.NoError(t, VerifyChain("", events))

	last, err := lastFileHash(path)
	require.NoError(t, err)
	assert.Equal(t, events[1].Meta().Hash, last)
}

func TestLastFileHash(t *testing.T) {
	dir := t.TempDir()

	last, err := lastFileHash(filepath.Join(dir, "missing.log"))
	require.NoError(t, err)
	assert.Empty(t, last)

	corrupt := filepath.Join(dir, "corrupt.log")
	require.NoError(t, os.WriteFile(corrupt, []byte("{\"type\":\"system\"}\nnot json\n"), 0o600))
	_, err = lastFileHash(corrupt)
	assert.ErrorContains(t, err, "line 2")

	_, err = ReadFile(filepath.Join(dir, "missing.log"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSeverity(t *testing.T) {
	failing := decisionEvent("DENY")
	failing.ErrorCode = "EXPRESSION_ERROR"

	tests := []struct {
		name  string
		event Event
		want  syslog.Priority
	}{
		{"allow", decisionEvent("ALLOW"), syslog.LOG_INFO},
		{"deny", decisionEvent("DENY"), syslog.LOG_NOTICE},
		{"fail closed", failing, syslog.LOG_WARNING},
		{"reload", &PolicyReloadEvent{Operation: "replaced"}, syslog.LOG_NOTICE},
		{"reload failed", &PolicyReloadEvent{Error: "bad yaml"}, syslog.LOG_ERR},
		{"preset passed", &PresetRunEvent{Passed: true}, syslog.LOG_INFO},
		{"preset failed", &PresetRunEvent{}, syslog.LOG_WARNING},
		{"system", &SystemEvent{Message: "started"}, syslog.LOG_INFO},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, severity(tt.event))
		})
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"disabled", Config{}, ""},
		{"stdout", Config{Enabled: true, Type: TypeStdout}, ""},
		{"missing type", Config{Enabled: true}, "audit type is required"},
		{"invalid type", Config{Enabled: true, Type: "kafka"}, "invalid audit type"},
		{"file without path", Config{Enabled: true, Type: TypeFile}, "file path is required"},
		{"syslog without addr", Config{Enabled: true, Type: TypeSyslog}, "syslog address is required"},
		{"postgres without db", Config{Enabled: true, Type: TypePostgres}, "database handle is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}

	cfg := Config{Enabled: true, Type: TypeStdout}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1000, cfg.BufferSize)
	assert.Equal(t, 100*time.Millisecond, cfg.FlushInterval)
}

func TestNewLogger(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreLumberjack)

	logger, err := NewLogger(context.Background(), &Config{}, nil)
	require.NoError(t, err)
	assert.IsType(t, noopLogger{}, logger)

	path := filepath.Join(t.TempDir(), "audit.log")
	logger, err = NewLogger(context.Background(), &Config{Enabled: true, Type: TypeFile, FilePath: path}, nil)
	require.NoError(t, err)
	logger.Log(context.Background(), &PresetRunEvent{Preset: "read-only", Expected: "DENY", Decision: "DENY", Passed: true})
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"preset_run"`)

	_, err = NewLogger(context.Background(), &Config{Enabled: true, Type: "kafka"}, nil)
	assert.Error(t, err)
}
