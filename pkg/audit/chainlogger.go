// Package audit provides a tamper-evident audit trail for money movement.
// Every ledger mutation appends one hash-chained entry; any edit to a stored
// entry breaks the chain and is detectable with VerifyChain.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

// LogEntry is a single audit log entry linked to its predecessor by hash.
type LogEntry struct {
	Timestamp    string `json:"timestamp"`
	PreviousHash string `json:"previous_hash"`
	Payload      string `json:"payload"`
	Hash         string `json:"hash"`
}

// Sink persists entries as they are appended.
type Sink interface {
	Save(entry *LogEntry) error
}

// ChainLogger provides a tamper-evident logging mechanism using hash chaining.
type ChainLogger struct {
	mu           sync.Mutex
	previousHash string
	sink         Sink
	onSinkError  func(error)
}

// NewChainLogger creates a ChainLogger initialized with a zero hash.
func NewChainLogger() *ChainLogger {
	return &ChainLogger{
		previousHash: strings.Repeat("0", 64),
	}
}

// NewChainLoggerAt creates a ChainLogger that continues an existing chain
// from lastHash. Used to resume after restart from a persistent sink.
func NewChainLoggerAt(lastHash string) *ChainLogger {
	if lastHash == "" {
		return NewChainLogger()
	}
	return &ChainLogger{previousHash: lastHash}
}

// WithSink attaches a persistence sink. onError, if non-nil, is invoked when
// the sink fails; the in-memory chain still advances so auditing never
// blocks a money movement.
func (c *ChainLogger) WithSink(sink Sink, onError func(error)) *ChainLogger {
	c.sink = sink
	c.onSinkError = onError
	return c
}

// Append adds a new log entry to the chain.
func (c *ChainLogger) Append(payload string) *LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &LogEntry{
		Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
		PreviousHash: c.previousHash,
		Payload:      payload,
	}
	entry.Hash = entryHash(entry.PreviousHash, entry.Timestamp, entry.Payload)
	c.previousHash = entry.Hash

	if c.sink != nil {
		if err := c.sink.Save(entry); err != nil && c.onSinkError != nil {
			c.onSinkError(err)
		}
	}
	return entry
}

func entryHash(prevHash, timestamp, payload string) string {
	hashInput := fmt.Sprintf("%s|%s|%s", prevHash, timestamp, payload)
	hash := sha256.Sum256([]byte(hashInput))
	return hex.EncodeToString(hash[:])
}

// VerifyChain checks if a slice of entries forms a valid hash chain.
func VerifyChain(entries []*LogEntry) bool {
	if len(entries) == 0 {
		return true
	}

	for i, entry := range entries {
		var prevHash string
		if i == 0 {
			prevHash = entry.PreviousHash
		} else {
			prevHash = entries[i-1].Hash
			if entry.PreviousHash != prevHash {
				return false
			}
		}

		if entryHash(prevHash, entry.Timestamp, entry.Payload) != entry.Hash {
			return false
		}
	}
	return true
}
