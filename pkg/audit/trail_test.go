package audit

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrail_Chain(t *testing.T) {
	var buf bytes.Buffer
	trail := NewTrail(&buf)

	e1, err := trail.Append(Event{Kind: "transfer", Actor: "alice", Data: map[string]string{"amount": "50"}})
	require.NoError(t, err)
	e2, err := trail.Append(Event{Kind: "tax", Data: map[string]string{"collected": "12.5"}})
	require.NoError(t, err)
	e3, err := trail.Append(Event{Kind: "audit"})
	require.NoError(t, err)

	assert.Equal(t, GenesisHash, e1.PreviousHash)
	assert.Equal(t, e1.Hash, e2.PreviousHash)
	assert.Equal(t, uint64(3), e3.Seq)

	chain := []*Entry{e1, e2, e3}
	require.True(t, VerifyChain(chain))

	// Tamper with e2 payload
	original := e2.Payload
	e2.Payload = []byte(`{"collected":"0"}`)
	assert.False(t, VerifyChain(chain))
	e2.Payload = original

	// Tamper with e2 hash
	originalHash := e2.Hash
	e2.Hash = "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"
	assert.False(t, VerifyChain(chain))
	e2.Hash = originalHash

	// Drop the middle entry
	assert.False(t, VerifyChain([]*Entry{e1, e3}))

	read, err := ReadEntries(&buf)
	require.NoError(t, err)
	require.Len(t, read, 3)
	assert.True(t, VerifyChain(read))
	assert.JSONEq(t, `{"amount":"50"}`, string(read[0].Payload))
}

func TestOpenFile_ContinuesChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "receipts.jsonl")

	trail, closer, err := OpenFile(path)
	require.NoError(t, err)
	_, err = trail.Append(Event{Kind: "mint", Data: map[string]string{"amount": "1000"}})
	require.NoError(t, err)
	require.NoError(t, closer.Close())

	trail, closer, err = OpenFile(path)
	require.NoError(t, err)
	seq, head := trail.Head()
	assert.Equal(t, uint64(1), seq)
	e, err := trail.Append(Event{Kind: "ubi"})
	require.NoError(t, err)
	assert.Equal(t, head, e.PreviousHash)
	require.NoError(t, closer.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	entries, err := ReadEntries(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, VerifyChain(entries))

	// A rewritten line is refused on reopen.
	tampered := bytes.Replace(raw, []byte(`"1000"`), []byte(`"9000"`), 1)
	require.NoError(t, os.WriteFile(path, tampered, 0o600))
	_, _, err = OpenFile(path)
	assert.Error(t, err)
}

func TestDiscard(t *testing.T) {
	e, err := Discard.Append(Event{Kind: "transfer"})
	require.NoError(t, err)
	assert.Equal(t, "transfer", e.Kind)
}
