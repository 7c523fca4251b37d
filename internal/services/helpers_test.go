package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockIdentifierLookup is a testify mock of the resolution collaborator
type MockIdentifierLookup struct {
	mock.Mock
}

func (m *MockIdentifierLookup) ResolveLegacyToMessage(ctx context.Context, legacyThreadID string) (string, error) {
	args := m.Called(ctx, legacyThreadID)
	return args.String(0), args.Error(1)
}

func (m *MockIdentifierLookup) ResolveMessageToLegacy(ctx context.Context, messageID string) (string, error) {
	args := m.Called(ctx, messageID)
	return args.String(0), args.Error(1)
}

// MockIdentifierStore is a testify mock of the persistent cache
type MockIdentifierStore struct {
	mock.Mock
}

func (m *MockIdentifierStore) LoadMessageID(ctx context.Context, legacyID string) (string, bool, error) {
	args := m.Called(ctx, legacyID)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockIdentifierStore) LoadLegacyID(ctx context.Context, messageID string) (string, bool, error) {
	args := m.Called(ctx, messageID)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockIdentifierStore) SaveMapping(ctx context.Context, legacyID, messageID string) error {
	args := m.Called(ctx, legacyID, messageID)
	return args.Error(0)
}

// fakeLookup resolves from fixed tables, optionally slowing some ids down
type fakeLookup struct {
	toMessage map[string]string
	toLegacy  map[string]string
	delay     map[string]time.Duration

	mu    sync.Mutex
	calls int
}

var errUnknownID = errors.New("unknown id")

func (f *fakeLookup) wait(id string) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if d, ok := f.delay[id]; ok {
		time.Sleep(d)
	}
}

func (f *fakeLookup) ResolveLegacyToMessage(_ context.Context, legacyThreadID string) (string, error) {
	f.wait(legacyThreadID)
	if v, ok := f.toMessage[legacyThreadID]; ok {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s", errUnknownID, legacyThreadID)
}

func (f *fakeLookup) ResolveMessageToLegacy(_ context.Context, messageID string) (string, error) {
	f.wait(messageID)
	if v, ok := f.toLegacy[messageID]; ok {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s", errUnknownID, messageID)
}

// recordingSink keeps every reported error
type recordingSink struct {
	mu   sync.Mutex
	errs []error
}

func (r *recordingSink) Error(err error, _ ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recordingSink) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

// syncBuffer is a goroutine-safe log destination
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestLogger() (*slog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

func countLines(s, substr string) int {
	n := 0
	for _, line := range strings.Split(s, "\n") {
		if strings.Contains(line, substr) {
			n++
		}
	}
	return n
}
