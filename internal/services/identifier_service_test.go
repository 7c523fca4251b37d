package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		in   Descriptor
		want ResolutionRecord
		ok   bool
	}{
		{"bare_legacy", LegacyID("112210F47DE98115"), ResolutionRecord{LegacyThreadID: "112210f47de98115"}, true},
		{"bare_legacy_trimmed", Descriptor{Value: "  c0ffee "}, ResolutionRecord{LegacyThreadID: "c0ffee"}, true},
		{"bare_message", Descriptor{Value: "<a@mail.example.com>"}, ResolutionRecord{MessageID: "<a@mail.example.com>"}, true},
		{"message_helper_brackets", MessageID("a@mail.example.com"), ResolutionRecord{MessageID: "<a@mail.example.com>"}, true},
		{"structured_legacy", Descriptor{LegacyThreadID: "ABC"}, ResolutionRecord{LegacyThreadID: "abc"}, true},
		{"structured_message_unbracketed", Descriptor{ProtocolMessageID: "m@x"}, ResolutionRecord{MessageID: "<m@x>"}, true},
		{"structured_both", Descriptor{LegacyThreadID: "abc", ProtocolMessageID: "<m@x>"}, ResolutionRecord{LegacyThreadID: "abc", MessageID: "<m@x>"}, true},
		{"empty", Descriptor{}, ResolutionRecord{}, false},
		{"whitespace_only", Descriptor{Value: "   ", LegacyThreadID: " "}, ResolutionRecord{}, false},
		{"empty_brackets", Descriptor{Value: "<>"}, ResolutionRecord{}, false},
		{"not_hex", Descriptor{Value: "thread-f:123"}, ResolutionRecord{}, false},
		{"structured_not_hex", Descriptor{LegacyThreadID: "xyz"}, ResolutionRecord{}, false},
		{"value_and_structured", Descriptor{Value: "abc", LegacyThreadID: "abc"}, ResolutionRecord{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Classify(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveToMessageID(t *testing.T) {
	ctx := context.Background()

	t.Run("already_resolved", func(t *testing.T) {
		rec := ResolutionRecord{MessageID: "<m@x>"}
		got := ResolveToMessageID(ctx, rec, func(context.Context, string) (string, error) {
			t.Fatal("lookup must not run")
			return "", nil
		}, nil)
		require.NotNil(t, got)
		assert.Equal(t, rec, *got)
	})

	t.Run("resolves", func(t *testing.T) {
		got := ResolveToMessageID(ctx, ResolutionRecord{LegacyThreadID: "abc"}, func(_ context.Context, id string) (string, error) {
			assert.Equal(t, "abc", id)
			return "m@x", nil
		}, nil)
		require.NotNil(t, got)
		assert.Equal(t, ResolutionRecord{LegacyThreadID: "abc", MessageID: "<m@x>"}, *got)
	})

	t.Run("failure_reported", func(t *testing.T) {
		var hookID string
		var hookErr error
		boom := errors.New("boom")
		got := ResolveToMessageID(ctx, ResolutionRecord{LegacyThreadID: "abc"}, func(context.Context, string) (string, error) {
			return "", boom
		}, func(id string, err error) { hookID, hookErr = id, err })
		assert.Nil(t, got)
		assert.Equal(t, "abc", hookID)
		assert.ErrorIs(t, hookErr, boom)
	})

	t.Run("empty_answer_is_failure", func(t *testing.T) {
		called := false
		got := ResolveToMessageID(ctx, ResolutionRecord{LegacyThreadID: "abc"}, func(context.Context, string) (string, error) {
			return " ", nil
		}, func(string, error) { called = true })
		assert.Nil(t, got)
		assert.True(t, called)
	})
}

func TestResolveToLegacyID(t *testing.T) {
	ctx := context.Background()

	got := ResolveToLegacyID(ctx, ResolutionRecord{MessageID: "<m@x>"}, func(_ context.Context, id string) (string, error) {
		assert.Equal(t, "<m@x>", id)
		return "C0FFEE", nil
	}, nil)
	require.NotNil(t, got)
	assert.Equal(t, ResolutionRecord{LegacyThreadID: "c0ffee", MessageID: "<m@x>"}, *got)

	var failed []string
	got = ResolveToLegacyID(ctx, ResolutionRecord{MessageID: "<m@x>"}, func(context.Context, string) (string, error) {
		return "thread-f:1", nil
	}, func(id string, err error) { failed = append(failed, id) })
	assert.Nil(t, got)
	assert.Equal(t, []string{"<m@x>"}, failed)
}

func TestIdentifierService_MemoizesBothDirections(t *testing.T) {
	ctx := context.Background()
	lookup := new(MockIdentifierLookup)
	lookup.On("ResolveLegacyToMessage", mock.Anything, "abc").Return("<m@x>", nil).Once()

	svc := NewIdentifierService(lookup, nil, nil, nil, 0)

	for i := 0; i < 3; i++ {
		got, err := svc.LegacyToMessage(ctx, "abc")
		require.NoError(t, err)
		assert.Equal(t, "<m@x>", got)
	}

	legacy, err := svc.MessageToLegacy(ctx, "<m@x>")
	require.NoError(t, err)
	assert.Equal(t, "abc", legacy)

	lookup.AssertExpectations(t)
	lookup.AssertNotCalled(t, "ResolveMessageToLegacy", mock.Anything, mock.Anything)
}

func TestIdentifierService_FailuresAreNotMemoized(t *testing.T) {
	ctx := context.Background()
	lookup := new(MockIdentifierLookup)
	lookup.On("ResolveLegacyToMessage", mock.Anything, "abc").Return("", errors.New("transient")).Once()
	lookup.On("ResolveLegacyToMessage", mock.Anything, "abc").Return("<m@x>", nil).Once()

	svc := NewIdentifierService(lookup, nil, nil, nil, 0)

	_, err := svc.LegacyToMessage(ctx, "abc")
	assert.Error(t, err)
	got, err := svc.LegacyToMessage(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "<m@x>", got)
	lookup.AssertExpectations(t)
}

func TestIdentifierService_StoreHitSkipsLookup(t *testing.T) {
	ctx := context.Background()
	lookup := new(MockIdentifierLookup)
	store := new(MockIdentifierStore)
	store.On("LoadMessageID", mock.Anything, "abc").Return("<m@x>", true, nil).Once()

	svc := NewIdentifierService(lookup, store, nil, nil, 0)

	got, err := svc.LegacyToMessage(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "<m@x>", got)

	store.AssertExpectations(t)
	store.AssertNotCalled(t, "SaveMapping", mock.Anything, mock.Anything, mock.Anything)
	lookup.AssertNotCalled(t, "ResolveLegacyToMessage", mock.Anything, mock.Anything)
}

func TestIdentifierService_StoreMissWritesThrough(t *testing.T) {
	ctx := context.Background()
	lookup := new(MockIdentifierLookup)
	store := new(MockIdentifierStore)
	store.On("LoadLegacyID", mock.Anything, "<m@x>").Return("", false, nil).Once()
	lookup.On("ResolveMessageToLegacy", mock.Anything, "<m@x>").Return("ABC", nil).Once()
	store.On("SaveMapping", mock.Anything, "abc", "<m@x>").Return(nil).Once()

	svc := NewIdentifierService(lookup, store, nil, nil, 0)

	got, err := svc.MessageToLegacy(ctx, "<m@x>")
	require.NoError(t, err)
	assert.Equal(t, "ABC", got)

	store.AssertExpectations(t)
	lookup.AssertExpectations(t)
}

func TestIdentifierService_StoreErrorFallsBackToLookup(t *testing.T) {
	ctx := context.Background()
	lookup := new(MockIdentifierLookup)
	store := new(MockIdentifierStore)
	store.On("LoadMessageID", mock.Anything, "abc").Return("", false, errors.New("disk")).Once()
	lookup.On("ResolveLegacyToMessage", mock.Anything, "abc").Return("<m@x>", nil).Once()
	store.On("SaveMapping", mock.Anything, "abc", "<m@x>").Return(errors.New("disk")).Once()

	svc := NewIdentifierService(lookup, store, nil, nil, 0)

	got, err := svc.LegacyToMessage(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "<m@x>", got)
	store.AssertExpectations(t)
	lookup.AssertExpectations(t)
}

func TestIdentifierService_NoLookup(t *testing.T) {
	svc := NewIdentifierService(nil, nil, nil, nil, 0)
	_, err := svc.LegacyToMessage(context.Background(), "abc")
	assert.ErrorContains(t, err, "no identifier lookup configured")
}

func TestResolveBatch_MissingIdentifierTolerance(t *testing.T) {
	lookup := &fakeLookup{
		toMessage: map[string]string{"aaa": "<x@h>"},
		toLegacy:  map[string]string{"<z@h>": "ccc"},
	}
	sink := &recordingSink{}
	svc := NewIdentifierService(lookup, nil, sink, nil, 0)

	got := svc.ResolveBatch(context.Background(), []Descriptor{
		LegacyID("aaa"),
		LegacyID("bbb"),
		MessageID("z@h"),
	})

	assert.Equal(t, []ResolutionRecord{
		{LegacyThreadID: "aaa", MessageID: "<x@h>"},
		{LegacyThreadID: "ccc", MessageID: "<z@h>"},
	}, got)

	errs := sink.Errors()
	require.Len(t, errs, 1)
	var unresolved *UnresolvedIdentifierError
	require.ErrorAs(t, errs[0], &unresolved)
	assert.Equal(t, "bbb", unresolved.ID)
	assert.Equal(t, LegacyToMessage, unresolved.Direction)
	assert.True(t, IsRecoverableError(errs[0]))
}

func TestResolveBatch_DedupesByMessageID(t *testing.T) {
	lookup := &fakeLookup{
		toMessage: map[string]string{"aaa": "<x@h>", "bbb": "<x@h>"},
	}
	svc := NewIdentifierService(lookup, nil, &recordingSink{}, nil, 0)

	got := svc.ResolveBatch(context.Background(), []Descriptor{
		LegacyID("aaa"),
		MessageID("<x@h>"),
		LegacyID("bbb"),
	})

	assert.Equal(t, []ResolutionRecord{{LegacyThreadID: "aaa", MessageID: "<x@h>"}}, got)
}

func TestResolveBatch_DropsInvalidDescriptors(t *testing.T) {
	lookup := &fakeLookup{toMessage: map[string]string{"aaa": "<x@h>"}}
	svc := NewIdentifierService(lookup, nil, &recordingSink{}, nil, 0)

	got := svc.ResolveBatch(context.Background(), []Descriptor{
		{},
		{Value: "not an id"},
		LegacyID("aaa"),
	})

	assert.Equal(t, []ResolutionRecord{{LegacyThreadID: "aaa", MessageID: "<x@h>"}}, got)
}

func TestResolveBatch_PreservesOrderUnderConcurrency(t *testing.T) {
	lookup := &fakeLookup{
		toMessage: map[string]string{},
		toLegacy:  map[string]string{},
		delay:     map[string]time.Duration{},
	}
	var descriptors []Descriptor
	var want []ResolutionRecord
	for i := 0; i < 20; i++ {
		legacy := fmt.Sprintf("%x", 0x1000+i)
		msg := fmt.Sprintf("<m%d@h>", i)
		lookup.toMessage[legacy] = msg
		lookup.delay[legacy] = time.Duration(20-i) * time.Millisecond
		descriptors = append(descriptors, LegacyID(legacy))
		want = append(want, ResolutionRecord{LegacyThreadID: legacy, MessageID: msg})
	}
	svc := NewIdentifierService(lookup, nil, &recordingSink{}, nil, 4)

	got := svc.ResolveBatch(context.Background(), descriptors)
	assert.Equal(t, want, got)
}

func TestResolveBatch_CancelledContext(t *testing.T) {
	lookup := &fakeLookup{toMessage: map[string]string{"aaa": "<x@h>"}}
	svc := NewIdentifierService(lookup, nil, &recordingSink{}, nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got := svc.ResolveBatch(ctx, []Descriptor{LegacyID("aaa")})
	assert.Empty(t, got)
	assert.Equal(t, 0, lookup.calls)
}
