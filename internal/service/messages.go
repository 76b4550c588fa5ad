package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/A2K/binance-trading-cli-sub000/internal/model"
	"github.com/A2K/binance-trading-cli-sub000/internal/pkg/logger"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

// MessageLog is the operator feed: every entry goes to the process logger,
// a ring buffer read by the control API and, when a directory is set, a
// daily jsonl file.
type MessageLog struct {
	logChan chan *model.Message
	logFile *os.File
	buffer  *messageBuffer
	now     func() time.Time
	done    chan struct{}
}

func NewMessageLog(logDir string, size int) (*MessageLog, error) {
	m := &MessageLog{
		buffer: newMessageBuffer(size),
		now:    time.Now,
	}
	if logDir == "" {
		return m, nil
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, err
	}

	filename := filepath.Join(logDir, "messages-"+time.Now().Format("2006-01-02")+".jsonl")
	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	m.logFile = f
	m.logChan = make(chan *model.Message, 1000)
	m.done = make(chan struct{})
	go m.processLogs()
	return m, nil
}

func (m *MessageLog) Info(symbol, format string, args ...any) {
	m.add(model.LevelInfo, symbol, fmt.Sprintf(format, args...))
}

func (m *MessageLog) Notice(symbol, format string, args ...any) {
	m.add(model.LevelNotice, symbol, fmt.Sprintf(format, args...))
}

func (m *MessageLog) Warn(symbol, format string, args ...any) {
	m.add(model.LevelWarn, symbol, fmt.Sprintf(format, args...))
}

func (m *MessageLog) Error(symbol, format string, args ...any) {
	m.add(model.LevelError, symbol, fmt.Sprintf(format, args...))
}

func (m *MessageLog) add(level model.MessageLevel, symbol, text string) {
	entry := &model.Message{
		ID:     uuid.NewString(),
		Time:   m.now(),
		Level:  level,
		Symbol: symbol,
		Text:   text,
	}
	m.buffer.Add(entry)

	attrs := []any{"symbol", symbol}
	switch level {
	case model.LevelNotice:
		logger.Get().Log(context.Background(), logger.LevelNotice, text, attrs...)
	case model.LevelWarn:
		logger.Warn(text, attrs...)
	case model.LevelError:
		logger.Error(text, attrs...)
	default:
		logger.Info(text, attrs...)
	}

	if m.logChan == nil {
		return
	}
	select {
	case m.logChan <- entry:
	default:
		logger.Get().Warn("Message log buffer full, dropping entry", slog.String("text", text))
	}
}

// List returns the newest entries first, optionally for one symbol.
func (m *MessageLog) List(symbol string, limit int) []*model.Message {
	return m.buffer.List(symbol, limit)
}

func (m *MessageLog) processLogs() {
	defer close(m.done)
	encoder := sonic.ConfigStd.NewEncoder(m.logFile)
	for entry := range m.logChan {
		if err := encoder.Encode(entry); err != nil {
			logger.Error("Failed to write message log", "error", err)
		}
	}
}

func (m *MessageLog) Close() {
	if m.logChan == nil {
		return
	}
	close(m.logChan)
	<-m.done
	m.logFile.Close()
}

type messageBuffer struct {
	mu        sync.Mutex
	maxSize   int
	records   []*model.Message
	nextIndex int
}

func newMessageBuffer(maxSize int) *messageBuffer {
	if maxSize <= 0 {
		maxSize = 500
	}
	return &messageBuffer{
		maxSize: maxSize,
		records: make([]*model.Message, 0, maxSize),
	}
}

func (b *messageBuffer) Add(entry *model.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.records) < b.maxSize {
		b.records = append(b.records, entry)
		return
	}
	b.records[b.nextIndex] = entry
	b.nextIndex = (b.nextIndex + 1) % b.maxSize
}

func (b *messageBuffer) List(symbol string, limit int) []*model.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit <= 0 || limit > b.maxSize {
		limit = b.maxSize
	}
	results := make([]*model.Message, 0, limit)
	total := len(b.records)
	for i := 0; i < total; i++ {
		idx := (b.nextIndex + total - 1 - i) % total
		entry := b.records[idx]
		if entry == nil {
			continue
		}
		if symbol != "" && entry.Symbol != symbol {
			continue
		}
		results = append(results, entry)
		if len(results) >= limit {
			break
		}
	}
	return results
}
