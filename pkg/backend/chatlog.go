package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/ritzau/knowledge-map/pkg/logging"
)

var chatPrefix = []byte("chat/")

// ChatEntry is one received message
type ChatEntry struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatLogConfig selects where the log is kept
type ChatLogConfig struct {
	Dir      string // ignored when InMemory is set
	InMemory bool
}

// ChatLog records every message the backend receives in badger.
// Keys sort by receive time, so iteration is chronological.
type ChatLog struct {
	db  *badger.DB
	now func() time.Time
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Log(context.Background(), logging.LevelTrace, fmt.Sprintf(format, args...))
}

// OpenChatLog opens (or creates) the chat log
func OpenChatLog(cfg ChatLogConfig) (*ChatLog, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Dir == "" {
			return nil, fmt.Errorf("chat log directory is required")
		}
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating chat log directory %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts = opts.WithLogger(&badgerLogger{logger: logging.Logger().With("component", "badger")})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening chat log: %w", err)
	}
	return &ChatLog{db: db, now: time.Now}, nil
}

// Record stores message with the current time
func (l *ChatLog) Record(message string) (ChatEntry, error) {
	entry := ChatEntry{
		ID:        uuid.NewString(),
		Message:   message,
		Timestamp: l.now().UTC(),
	}

	value, err := json.Marshal(entry)
	if err != nil {
		return ChatEntry{}, fmt.Errorf("encoding chat entry: %w", err)
	}

	key := fmt.Appendf(append([]byte(nil), chatPrefix...), "%020d/%s", entry.Timestamp.UnixNano(), entry.ID)
	err = l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	if err != nil {
		return ChatEntry{}, fmt.Errorf("writing chat entry: %w", err)
	}
	return entry, nil
}

// Recent returns up to limit of the newest entries, oldest first.
// A limit of zero or less returns everything.
func (l *ChatLog) Recent(limit int) ([]ChatEntry, error) {
	entries := make([]ChatEntry, 0)

	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = chatPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(append([]byte(nil), chatPrefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(chatPrefix); it.Next() {
			if limit > 0 && len(entries) == limit {
				break
			}
			err := it.Item().Value(func(val []byte) error {
				var entry ChatEntry
				if err := json.Unmarshal(val, &entry); err != nil {
					return fmt.Errorf("decoding chat entry %s: %w", it.Item().Key(), err)
				}
				entries = append(entries, entry)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.Reverse(entries)
	return entries, nil
}

// Close flushes and closes the underlying database
func (l *ChatLog) Close() error {
	return l.db.Close()
}
