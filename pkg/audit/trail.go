package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// GenesisHash links the first entry of every trail.
var GenesisHash = strings.Repeat("0", 64)

// Event is one thing worth recording: a transfer receipt, a batch job
// outcome or an admin change.
type Event struct {
	Kind          string `json:"kind"`
	Actor         string `json:"actor,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Data          any    `json:"data,omitempty"`
}

// Entry is an Event once it has been chained.
type Entry struct {
	Seq           uint64          `json:"seq"`
	Timestamp     string          `json:"timestamp"`
	PreviousHash  string          `json:"previous_hash"`
	Kind          string          `json:"kind"`
	Actor         string          `json:"actor,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Hash          string          `json:"hash"`
}

// Recorder is what transports and jobs depend on.
type Recorder interface {
	Append(ev Event) (*Entry, error)
}

// Trail is a tamper-evident, append-only log. Each entry's hash covers the
// previous entry's hash, so editing or dropping a line breaks the chain.
type Trail struct {
	mu           sync.Mutex
	sink         io.Writer
	previousHash string
	seq          uint64
	now          func() time.Time
}

// NewTrail starts a fresh chain. Entries are written to sink as JSON lines;
// a nil sink keeps nothing beyond the returned entries.
func NewTrail(sink io.Writer) *Trail {
	return &Trail{
		sink:         sink,
		previousHash: GenesisHash,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// OpenFile appends to the trail stored at path, continuing its chain. The
// existing file is verified first.
func OpenFile(path string) (*Trail, io.Closer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open audit trail: %w", err)
	}

	entries, err := ReadEntries(f)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	if !VerifyChain(entries) {
		f.Close()
		return nil, nil, fmt.Errorf("audit trail %s failed verification", path)
	}

	t := NewTrail(f)
	if n := len(entries); n > 0 {
		t.previousHash = entries[n-1].Hash
		t.seq = entries[n-1].Seq
	}
	return t, f, nil
}

// Append chains ev onto the trail and writes it to the sink.
func (t *Trail) Append(ev Event) (*Entry, error) {
	var payload json.RawMessage
	if ev.Data != nil {
		b, err := json.Marshal(ev.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to encode audit payload: %w", err)
		}
		payload = b
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	entry := &Entry{
		Seq:           t.seq + 1,
		Timestamp:     t.now().Format(time.RFC3339Nano),
		PreviousHash:  t.previousHash,
		Kind:          ev.Kind,
		Actor:         ev.Actor,
		CorrelationID: ev.CorrelationID,
		Payload:       payload,
	}
	entry.Hash = entry.computeHash()

	if t.sink != nil {
		line, err := json.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("failed to encode audit entry: %w", err)
		}
		if _, err := t.sink.Write(append(line, '\n')); err != nil {
			return nil, fmt.Errorf("failed to write audit entry: %w", err)
		}
	}

	t.seq = entry.Seq
	t.previousHash = entry.Hash
	return entry, nil
}

// Head returns the sequence number and hash of the latest entry.
func (t *Trail) Head() (uint64, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seq, t.previousHash
}

func (e *Entry) computeHash() string {
	input := fmt.Sprintf("%d|%s|%s|%s|%s|%s|%s",
		e.Seq, e.PreviousHash, e.Timestamp, e.Kind, e.Actor, e.CorrelationID, e.Payload)
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// VerifyChain checks that entries form an unbroken hash chain with
// consecutive sequence numbers.
func VerifyChain(entries []*Entry) bool {
	for i, entry := range entries {
		if i > 0 {
			prev := entries[i-1]
			if entry.PreviousHash != prev.Hash || entry.Seq != prev.Seq+1 {
				return false
			}
		}
		if entry.computeHash() != entry.Hash {
			return false
		}
	}
	return true
}

// ReadEntries parses a JSON-lines trail.
func ReadEntries(r io.Reader) ([]*Entry, error) {
	var entries []*Entry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for line := 1; scanner.Scan(); line++ {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("audit trail line %d: %w", line, err)
		}
		entries = append(entries, &e)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read audit trail: %w", err)
	}
	return entries, nil
}

// Discard is a Recorder that keeps nothing.
var Discard Recorder = discard{}

type discard struct{}

func (discard) Append(ev Event) (*Entry, error) { return &Entry{Kind: ev.Kind}, nil }
