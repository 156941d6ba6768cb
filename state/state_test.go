package state

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLedger(t *testing.T) {
	l := NewMemoryLedger()
	assert.False(t, l.Replied("h1"))
	assert.False(t, l.Replied(""))

	require.NoError(t, l.MarkReplied(Entry{Hash: "h1", MessageID: "m1"}))
	require.NoError(t, l.MarkReplied(Entry{}))

	assert.True(t, l.Replied("h1"))
	assert.Equal(t, Snapshot{Replied: 1}, l.Snapshot())
}

func TestFileLedger_PersistsAcrossRuns(t *testing.T) {
	dir := t.TempDir()

	first, err := NewFileLedger(dir, true)
	require.NoError(t, err)
	require.NoError(t, first.MarkReplied(Entry{Hash: "h1", MessageID: "m1", To: "a@example.com", RepliedAt: time.Now()}))
	require.NoError(t, first.MarkReplied(Entry{Hash: "h1", MessageID: "m1"}))
	require.NoError(t, first.Close())

	second, err := NewFileLedger(dir, false)
	require.NoError(t, err)
	defer second.Close()

	assert.True(t, second.Replied("h1"))
	assert.False(t, second.Replied("h2"))
	assert.Equal(t, 1, second.Snapshot().Replied)
}

func TestFileLedger_DryRunDoesNotWrite(t *testing.T) {
	dir := t.TempDir()

	l, err := NewFileLedger(dir, false)
	require.NoError(t, err)
	require.NoError(t, l.MarkReplied(Entry{Hash: "h1"}))
	require.NoError(t, l.Close())

	_, err = os.Stat(filepath.Join(dir, LedgerFile))
	assert.True(t, os.IsNotExist(err))
}

func TestFileLedger_CorruptLine(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, LedgerFile), []byte("{not json}\n"), 0o600))

	_, err := NewFileLedger(dir, false)
	assert.ErrorContains(t, err, "parse ledger line 1")
}

func TestNewFileLedger_EmptyDir(t *testing.T) {
	_, err := NewFileLedger("  ", true)
	assert.Error(t, err)
}

func BenchmarkFileLedger_MarkReplied(b *testing.B) {
	ledger, err := NewFileLedger(b.TempDir(), true)
	if err != nil {
		b.Fatal(err)
	}
	defer ledger.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := ledger.MarkReplied(Entry{Hash: fmt.Sprintf("hash-%d", i), MessageID: fmt.Sprintf("msg-%d", i)}); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkFileLedger_Replied(b *testing.B) {
	ledger := NewMemoryLedger()
	for i := 0; i < 1000; i++ {
		if err := ledger.MarkReplied(Entry{Hash: fmt.Sprintf("hash-%d", i)}); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = ledger.Replied(fmt.Sprintf("hash-%d", i%1000))
	}
}
