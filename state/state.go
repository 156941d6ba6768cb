// Package state keeps the ledger of messages that already got a reply, so a
// re-run over the same mailbox never answers a message twice.
package state

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LedgerFile is the name of the ledger inside the state directory.
const LedgerFile = "replied.jsonl"

type Ledger interface {
	Replied(hash string) bool
	MarkReplied(entry Entry) error
	Snapshot() Snapshot
}

// Entry records one delivered reply.
type Entry struct {
	Hash      string    `json:"hash"`
	MessageID string    `json:"message_id"`
	To        string    `json:"to,omitempty"`
	RepliedAt time.Time `json:"replied_at"`
}

type Snapshot struct {
	Replied int
}

type MemoryLedger struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[string]Entry)}
}

func (m *MemoryLedger) Replied(hash string) bool {
	if hash == "" {
		return false
	}

	m.mu.RLock()
	_, ok := m.entries[hash]
	m.mu.RUnlock()
	return ok
}

func (m *MemoryLedger) MarkReplied(entry Entry) error {
	if entry.Hash == "" {
		return nil
	}

	m.mu.Lock()
	m.entries[entry.Hash] = entry
	m.mu.Unlock()
	return nil
}

func (m *MemoryLedger) Snapshot() Snapshot {
	m.mu.RLock()
	count := len(m.entries)
	m.mu.RUnlock()
	return Snapshot{Replied: count}
}

// FileLedger appends every reply to a JSONL file and loads it on start.
type FileLedger struct {
	*MemoryLedger
	path    string
	persist bool
	writer  *bufio.Writer
	file    *os.File
	writeMu sync.Mutex
}

func NewFileLedger(stateDir string, persist bool) (*FileLedger, error) {
	if strings.TrimSpace(stateDir) == "" {
		return nil, fmt.Errorf("state directory is empty")
	}

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	ledger := &FileLedger{
		MemoryLedger: NewMemoryLedger(),
		path:         filepath.Join(stateDir, LedgerFile),
		persist:      persist,
	}

	if err := ledger.load(); err != nil {
		return nil, err
	}

	if persist {
		file, err := os.OpenFile(ledger.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open ledger for append: %w", err)
		}
		ledger.file = file
		ledger.writer = bufio.NewWriterSize(file, 16*1024)
	}

	return ledger, nil
}

func (f *FileLedger) load() error {
	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for line := 1; scanner.Scan(); line++ {
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}

		var entry Entry
		if err := json.Unmarshal(text, &entry); err != nil {
			return fmt.Errorf("parse ledger line %d: %w", line, err)
		}
		if entry.Hash == "" {
			continue
		}

		f.mu.Lock()
		f.entries[entry.Hash] = entry
		f.mu.Unlock()
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}

	return nil
}

func (f *FileLedger) MarkReplied(entry Entry) error {
	if entry.Hash == "" {
		return nil
	}

	f.mu.Lock()
	if _, exists := f.entries[entry.Hash]; exists {
		f.mu.Unlock()
		return nil
	}
	f.entries[entry.Hash] = entry
	f.mu.Unlock()

	if !f.persist {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode ledger entry: %w", err)
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if _, err := f.writer.Write(data); err != nil {
		return fmt.Errorf("write ledger entry: %w", err)
	}
	if err := f.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	// A reply is already out; get it on disk before the next one.
	if err := f.writer.Flush(); err != nil {
		return fmt.Errorf("flush ledger: %w", err)
	}

	return nil
}

// Close flushes and closes the ledger file.
func (f *FileLedger) Close() error {
	if !f.persist || f.file == nil {
		return nil
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	var firstErr error
	if f.writer != nil {
		if err := f.writer.Flush(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("flush ledger: %w", err)
		}
	}
	if err := f.file.Sync(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("sync ledger: %w", err)
	}
	if err := f.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close ledger: %w", err)
	}
	f.file = nil

	return firstErr
}
