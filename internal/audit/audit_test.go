package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSink struct {
	mu      sync.Mutex
	batches [][]Entry
	fail    error
}

func (s *recordingSink) WriteBatch(_ context.Context, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Entry(nil), entries...))
	return s.fail
}

func (s *recordingSink) all() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func TestJournal_StopFlushesEverything(t *testing.T) {
	sink := &recordingSink{}
	j := NewJournal(sink, zap.NewNop(), JournalOptions{BatchSize: 3, FlushInterval: time.Hour})
	j.Start()

	for i := 0; i < 7; i++ {
		j.Log(Entry{Action: ActionTriggerStart, TargetID: "t"})
	}
	j.Stop()

	entries := sink.all()
	require.Len(t, entries, 7)
	for _, e := range entries {
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.Time.IsZero())
	}
	assert.Len(t, sink.batches[0], 3, "full batches flush without waiting for the ticker")

	j.Log(Entry{Action: "late"})
	j.Stop()
	assert.Len(t, sink.all(), 7, "entries after stop are dropped")
}

func TestJournal_FlushOnInterval(t *testing.T) {
	sink := &recordingSink{}
	j := NewJournal(sink, zap.NewNop(), JournalOptions{BatchSize: 100, FlushInterval: 10 * time.Millisecond})
	j.Start()
	defer j.Stop()

	j.Log(Entry{Action: ActionKillGlobal})
	assert.Eventually(t, func() bool { return len(sink.all()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestJournal_OverflowDoesNotBlock(t *testing.T) {
	sink := &recordingSink{}
	var depth int
	j := NewJournal(sink, zap.NewNop(), JournalOptions{BufferSize: 2, OnDepth: func(n int) { depth = n }})
	// воркер не запущен: буфер заполняется и лишнее отбрасывается

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			j.Log(Entry{Action: "x"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Log blocked on a full buffer")
	}
	assert.Equal(t, 2, depth)
}

func TestJournal_SinkErrorIsLogged(t *testing.T) {
	sink := &recordingSink{fail: errors.New("db down")}
	j := NewJournal(sink, zap.NewNop(), JournalOptions{})
	j.Start()
	j.Log(Entry{Action: "x"})
	j.Stop()
	assert.Len(t, sink.all(), 1)
}

func TestMemoryLog(t *testing.T) {
	m := NewMemoryLog(3)
	for _, a := range []string{"a", "b", "a", "c"} {
		m.Log(Entry{Action: a})
	}

	entries := m.Entries()
	require.Len(t, entries, 3, "capacity drops the oldest")
	assert.Equal(t, "b", entries[0].Action)

	recent := m.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].Action)
	assert.Equal(t, "a", recent[1].Action)

	assert.Len(t, m.ByAction("a"), 1)
	assert.Len(t, m.Recent(0), 3)
}

func TestTee_SameIDEverywhere(t *testing.T) {
	a, b := NewMemoryLog(10), NewMemoryLog(10)
	Tee{a, b}.Log(Entry{Action: "x"})

	require.Len(t, a.Entries(), 1)
	require.Len(t, b.Entries(), 1)
	assert.Equal(t, a.Entries()[0].ID, b.Entries()[0].ID)
}

func TestFileSink_AppendsJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink := NewFileSink(path)
	ctx := context.Background()

	require.NoError(t, sink.WriteBatch(ctx, []Entry{{ID: "1", Action: "a"}, {ID: "2", Action: "b"}}))
	require.NoError(t, sink.WriteBatch(ctx, []Entry{{ID: "3", Action: "c", Metadata: map[string]any{"k": "v"}}}))
	require.NoError(t, sink.WriteBatch(ctx, nil))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var ids []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"1", "2", "3"}, ids)
}

func TestActorContext(t *testing.T) {
	assert.Empty(t, ActorFrom(context.Background()))
	assert.Equal(t, "alice", ActorFrom(WithActor(context.Background(), "alice")))
}
