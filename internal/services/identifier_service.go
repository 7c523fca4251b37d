package services

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Descriptor names one thread of a custom list. Set Value for a bare id (a hex
// legacy thread id, or a message id wrapped in angle brackets), or the
// structured fields; never both.
type Descriptor struct {
	Value             string `json:"value,omitempty"`
	LegacyThreadID    string `json:"legacy_thread_id,omitempty"`
	ProtocolMessageID string `json:"protocol_message_id,omitempty"`
}

// LegacyID is a bare legacy thread id descriptor
func LegacyID(id string) Descriptor { return Descriptor{Value: id} }

// MessageID is a bare message id descriptor; brackets are added when missing
func MessageID(id string) Descriptor { return Descriptor{Value: bracket(id)} }

// ResolutionRecord carries one descriptor through resolution
type ResolutionRecord struct {
	LegacyThreadID string `json:"legacy_thread_id,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
}

var hexID = regexp.MustCompile(`^[0-9a-fA-F]+$`)

func bracket(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || strings.HasPrefix(id, "<") {
		return id
	}
	return "<" + id + ">"
}

func isBracketed(s string) bool {
	return len(s) > 2 && strings.HasPrefix(s, "<") && strings.HasSuffix(s, ">")
}

// Classify returns the canonical record a descriptor names, or false for
// empty, ambiguous or unrecognized shapes
func Classify(d Descriptor) (ResolutionRecord, bool) {
	value := strings.TrimSpace(d.Value)
	legacy := strings.TrimSpace(d.LegacyThreadID)
	msgID := strings.TrimSpace(d.ProtocolMessageID)

	structured := legacy != "" || msgID != ""
	if value != "" && structured {
		return ResolutionRecord{}, false
	}

	if structured {
		var rec ResolutionRecord
		if legacy != "" {
			if !hexID.MatchString(legacy) {
				return ResolutionRecord{}, false
			}
			rec.LegacyThreadID = strings.ToLower(legacy)
		}
		if msgID != "" {
			rec.MessageID = bracket(msgID)
		}
		return rec, true
	}

	switch {
	case isBracketed(value):
		return ResolutionRecord{MessageID: value}, true
	case hexID.MatchString(value):
		return ResolutionRecord{LegacyThreadID: strings.ToLower(value)}, true
	}
	return ResolutionRecord{}, false
}

// ResolveFunc is one direction of an identifier lookup
type ResolveFunc func(ctx context.Context, id string) (string, error)

// FailureHook observes a lookup that failed
type FailureHook func(id string, err error)

// ResolveToMessageID fills the record's message id. It returns nil when the
// lookup fails, after reporting to onFailure.
func ResolveToMessageID(ctx context.Context, rec ResolutionRecord, resolve ResolveFunc, onFailure FailureHook) *ResolutionRecord {
	if rec.MessageID != "" {
		return &rec
	}
	id, err := resolve(ctx, rec.LegacyThreadID)
	if err == nil && strings.TrimSpace(id) == "" {
		err = fmt.Errorf("empty message id")
	}
	if err != nil {
		if onFailure != nil {
			onFailure(rec.LegacyThreadID, err)
		}
		return nil
	}
	rec.MessageID = bracket(id)
	return &rec
}

// ResolveToLegacyID fills the record's legacy thread id. It returns nil when
// the lookup fails, after reporting to onFailure.
func ResolveToLegacyID(ctx context.Context, rec ResolutionRecord, resolve ResolveFunc, onFailure FailureHook) *ResolutionRecord {
	if rec.LegacyThreadID != "" {
		return &rec
	}
	id, err := resolve(ctx, rec.MessageID)
	if err == nil && !hexID.MatchString(id) {
		err = fmt.Errorf("lookup returned non-hex legacy id %q", id)
	}
	if err != nil {
		if onFailure != nil {
			onFailure(rec.MessageID, err)
		}
		return nil
	}
	rec.LegacyThreadID = strings.ToLower(id)
	return &rec
}

// IdentifierServiceImpl resolves descriptors with process-wide memoization.
// Lookups go memo, then the optional store, then the lookup collaborator.
type IdentifierServiceImpl struct {
	lookup      IdentifierLookup
	store       IdentifierStore
	sink        ErrorSink
	logger      *slog.Logger
	concurrency int

	toMessage sync.Map // legacy thread id -> message id
	toLegacy  sync.Map // message id -> legacy thread id
	inflight  singleflight.Group
}

// NewIdentifierService creates an identifier service. store and sink may be nil.
func NewIdentifierService(lookup IdentifierLookup, store IdentifierStore, sink ErrorSink, logger *slog.Logger, concurrency int) *IdentifierServiceImpl {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency <= 0 {
		concurrency = 8
	}
	return &IdentifierServiceImpl{
		lookup:      lookup,
		store:       store,
		sink:        sink,
		logger:      logger,
		concurrency: concurrency,
	}
}

// LegacyToMessage resolves a legacy thread id to a message id
func (s *IdentifierServiceImpl) LegacyToMessage(ctx context.Context, legacyID string) (string, error) {
	if v, ok := s.toMessage.Load(legacyID); ok {
		return v.(string), nil
	}
	v, err, _ := s.inflight.Do("l:"+legacyID, func() (any, error) {
		if s.store != nil {
			if msgID, found, err := s.store.LoadMessageID(ctx, legacyID); err != nil {
				s.logger.Debug("identifier store read failed", "legacy_id", legacyID, "error", err)
			} else if found {
				s.remember(legacyID, msgID, false)
				return msgID, nil
			}
		}
		if s.lookup == nil {
			return "", fmt.Errorf("no identifier lookup configured")
		}
		msgID, err := s.lookup.ResolveLegacyToMessage(ctx, legacyID)
		if err != nil {
			return "", err
		}
		s.remember(legacyID, msgID, true)
		return msgID, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// MessageToLegacy resolves a message id to a legacy thread id
func (s *IdentifierServiceImpl) MessageToLegacy(ctx context.Context, messageID string) (string, error) {
	if v, ok := s.toLegacy.Load(messageID); ok {
		return v.(string), nil
	}
	v, err, _ := s.inflight.Do("m:"+messageID, func() (any, error) {
		if s.store != nil {
			if legacy, found, err := s.store.LoadLegacyID(ctx, messageID); err != nil {
				s.logger.Debug("identifier store read failed", "message_id", messageID, "error", err)
			} else if found {
				s.remember(legacy, messageID, false)
				return legacy, nil
			}
		}
		if s.lookup == nil {
			return "", fmt.Errorf("no identifier lookup configured")
		}
		legacy, err := s.lookup.ResolveMessageToLegacy(ctx, messageID)
		if err != nil {
			return "", err
		}
		s.remember(legacy, messageID, true)
		return legacy, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *IdentifierServiceImpl) remember(legacyID, messageID string, persist bool) {
	legacyID = strings.ToLower(strings.TrimSpace(legacyID))
	messageID = bracket(messageID)
	if legacyID == "" || messageID == "" {
		return
	}
	s.toMessage.Store(legacyID, messageID)
	s.toLegacy.Store(messageID, legacyID)
	if persist && s.store != nil {
		// Detached so a cancelled cycle still warms the cache
		if err := s.store.SaveMapping(context.Background(), legacyID, messageID); err != nil {
			s.logger.Warn("identifier store write failed", "legacy_id", legacyID, "error", err)
		}
	}
}

func (s *IdentifierServiceImpl) failureHook(direction ResolveDirection) FailureHook {
	return func(id string, err error) {
		uerr := &UnresolvedIdentifierError{ID: id, Direction: direction, Err: err}
		if s.sink != nil {
			s.sink.Error(uerr)
			return
		}
		s.logger.Warn("identifier dropped", "error", uerr)
	}
}

// ResolveBatch classifies descriptors and resolves them in two concurrent
// passes, legacy to message then message to legacy. Unrecognized or
// unresolvable descriptors are dropped; duplicates by message id keep the
// first occurrence. The result keeps the descriptors' order.
func (s *IdentifierServiceImpl) ResolveBatch(ctx context.Context, descriptors []Descriptor) []ResolutionRecord {
	records := make([]ResolutionRecord, 0, len(descriptors))
	for i, d := range descriptors {
		rec, ok := Classify(d)
		if !ok {
			s.logger.Warn("dropping descriptor", "index", i, "error", fmt.Errorf("%w: %+v", ErrInvalidDescriptor, d))
			continue
		}
		records = append(records, rec)
	}

	pass1 := s.fanOut(ctx, records, func(ctx context.Context, rec ResolutionRecord) *ResolutionRecord {
		return ResolveToMessageID(ctx, rec, s.LegacyToMessage, s.failureHook(LegacyToMessage))
	})
	pass1 = dedupeByMessageID(pass1)

	return s.fanOut(ctx, pass1, func(ctx context.Context, rec ResolutionRecord) *ResolutionRecord {
		return ResolveToLegacyID(ctx, rec, s.MessageToLegacy, s.failureHook(MessageToLegacy))
	})
}

func (s *IdentifierServiceImpl) fanOut(ctx context.Context, in []ResolutionRecord, step func(context.Context, ResolutionRecord) *ResolutionRecord) []ResolutionRecord {
	results := make([]*ResolutionRecord, len(in))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, rec := range in {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			results[i] = step(ctx, rec)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]ResolutionRecord, 0, len(in))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

func dedupeByMessageID(records []ResolutionRecord) []ResolutionRecord {
	seen := make(map[string]struct{}, len(records))
	out := records[:0]
	for _, r := range records {
		if _, dup := seen[r.MessageID]; dup {
			continue
		}
		seen[r.MessageID] = struct{}{}
		out = append(out, r)
	}
	return out
}
