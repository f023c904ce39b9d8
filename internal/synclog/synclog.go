// Package synclog implements the scheduler's own append-only log file as
// a slog.Handler, adapted from the hash-chained audit logger in the source
// repository's internal/audit package. Each record is one JSON line
// SHA-256 hash-chained to the previous one, so a result bundle that embeds
// a copy of this file (see internal/archive) carries tamper evidence along
// with it.
//
// Truncate resets the chain to genesis, matching the scheduler-log
// truncation the supervisor performs after each execution's result
// archive has been built.
package synclog

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// GenesisHash is the prev_hash of the first entry written after Open or
// after a Truncate.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

type record struct {
	Seq       int64           `json:"seq"`
	Timestamp time.Time       `json:"ts"`
	Level     string          `json:"level"`
	Message   string          `json:"msg"`
	Attrs     json.RawMessage `json:"attrs,omitempty"`
	PrevHash  string          `json:"prev_hash"`
	EventHash string          `json:"event_hash"`
}

type recordContent struct {
	Seq       int64           `json:"seq"`
	Timestamp time.Time       `json:"ts"`
	Level     string          `json:"level"`
	Message   string          `json:"msg"`
	Attrs     json.RawMessage `json:"attrs,omitempty"`
	PrevHash  string          `json:"prev_hash"`
}

// Handler is an slog.Handler that appends hash-chained JSON lines to a
// file, opened with Open.
type Handler struct {
	mu       *sync.Mutex
	path     string
	file     *os.File
	prevHash *string
	seq      *int64
	level    slog.Leveler
	attrs    []slog.Attr
}

// Open opens (or creates) the log file at path, replaying any existing
// entries to resume the hash chain.
func Open(path string, level slog.Leveler) (*Handler, error) {
	if level == nil {
		level = slog.LevelInfo
	}
	h := &Handler{
		mu:       &sync.Mutex{},
		path:     path,
		prevHash: new(string),
		seq:      new(int64),
		level:    level,
	}
	*h.prevHash = GenesisHash

	if err := h.replay(); err != nil {
		return nil, err
	}
	if err := h.openAppend(); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Handler) replay() error {
	f, err := os.Open(h.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("synclog: open for replay %q: %w", h.path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r record
		if err := json.Unmarshal(line, &r); err != nil {
			return fmt.Errorf("synclog: malformed record at seq %d: %w", *h.seq+1, err)
		}
		*h.prevHash = r.EventHash
		*h.seq = r.Seq
	}
	return scanner.Err()
}

func (h *Handler) openAppend() error {
	f, err := os.OpenFile(h.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("synclog: open for appending %q: %w", h.path, err)
	}
	h.file = f
	return nil
}

// Enabled implements slog.Handler.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]any, r.NumAttrs()+len(h.attrs))
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})

	var attrsJSON json.RawMessage
	if len(attrs) > 0 {
		raw, err := json.Marshal(attrs)
		if err != nil {
			return fmt.Errorf("synclog: marshal attrs: %w", err)
		}
		attrsJSON = raw
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	seq := *h.seq + 1
	prevHash := *h.prevHash

	content := recordContent{
		Seq:       seq,
		Timestamp: r.Time.UTC(),
		Level:     r.Level.String(),
		Message:   r.Message,
		Attrs:     attrsJSON,
		PrevHash:  prevHash,
	}
	eventHash := hashContent(content)

	rec := record{
		Seq:       seq,
		Timestamp: content.Timestamp,
		Level:     content.Level,
		Message:   content.Message,
		Attrs:     content.Attrs,
		PrevHash:  prevHash,
		EventHash: eventHash,
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("synclog: marshal record: %w", err)
	}
	line = append(line, '\n')

	if _, err := h.file.Write(line); err != nil {
		return fmt.Errorf("synclog: write record: %w", err)
	}

	*h.seq = seq
	*h.prevHash = eventHash
	return nil
}

// WithAttrs implements slog.Handler.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &next
}

// WithGroup implements slog.Handler. Groups are not supported by this
// handler's flat attribute map; the group name is folded into each
// attribute's key.
func (h *Handler) WithGroup(name string) slog.Handler {
	next := *h
	prefixed := make([]slog.Attr, len(h.attrs))
	for i, a := range h.attrs {
		prefixed[i] = slog.Attr{Key: name + "." + a.Key, Value: a.Value}
	}
	next.attrs = prefixed
	return &next
}

// Truncate resets the log file to zero length and the hash chain to
// genesis. Used by the supervisor after a result archive embedding a copy
// of this file has been built.
func (h *Handler) Truncate() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.file.Close(); err != nil {
		return fmt.Errorf("synclog: close before truncate: %w", err)
	}
	if err := os.Truncate(h.path, 0); err != nil {
		return fmt.Errorf("synclog: truncate %q: %w", h.path, err)
	}
	*h.seq = 0
	*h.prevHash = GenesisHash
	return h.openAppend()
}

// Close closes the underlying file.
func (h *Handler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.file.Close()
}

func hashContent(c recordContent) string {
	raw, err := json.Marshal(c)
	if err != nil {
		panic(fmt.Sprintf("synclog: marshal recordContent: %v", err))
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
