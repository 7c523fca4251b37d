package services

import (
	"context"
)

// OutgoingQuery is a rewritten search request handed back to the host
type OutgoingQuery struct {
	NewQuery string
	NewStart int
	Query    string
	Start    int
}

// HostTransport is the host's request pipeline. A nil doc in
// SetRewrittenResponse means "use the original response".
type HostTransport interface {
	SetOutgoingQuery(q OutgoingQuery)
	SetRewrittenResponse(query string, doc *string)
}

// IdentifierLookup translates between legacy thread ids and message ids.
// Both methods fail with an opaque error when the id cannot be resolved.
type IdentifierLookup interface {
	ResolveLegacyToMessage(ctx context.Context, legacyThreadID string) (string, error)
	ResolveMessageToLegacy(ctx context.Context, messageID string) (string, error)
}

// IdentifierStore persists resolved pairs across processes
type IdentifierStore interface {
	LoadMessageID(ctx context.Context, legacyID string) (string, bool, error)
	LoadLegacyID(ctx context.Context, messageID string) (string, bool, error)
	SaveMapping(ctx context.Context, legacyID, messageID string) error
}

// IdentifierResolver turns application descriptors into resolved records
type IdentifierResolver interface {
	ResolveBatch(ctx context.Context, descriptors []Descriptor) []ResolutionRecord
}

// ErrorSink is a structured diagnostic sink. It never panics.
type ErrorSink interface {
	Error(err error, attrs ...any)
}

// Notifier surfaces a user-visible error (the host's butter bar)
type Notifier interface {
	ShowError(message string)
}

// BannerProbe reads the host's error banner region
type BannerProbe interface {
	ErrorBannerHTML(ctx context.Context) (string, error)
}

// Router is the host's hash navigation
type Router interface {
	CurrentHash() string
	ReplaceHash(hash string) error
	DispatchHashChange(oldHash, newHash string)
}

// SearchBox is the host's search input. Accepted fires once the host has
// taken over the navigation; a nil channel never fires.
type SearchBox interface {
	HideContent() error
	RestoreContent() error
	Accepted() <-chan struct{}
}

// ListHandler supplies one page of a custom list
type ListHandler func(ctx context.Context, start, limit int) (ListResult, error)

// ListService runs custom list cycles against the host
type ListService interface {
	Register(handle string, handler ListHandler) (string, error)
	DisguisedQuery(handle string) (string, error)
	Close() error
}

// ActivationService makes the host start a disguised search
type ActivationService interface {
	Activate(ctx context.Context, disguisedQuery string, routeParams map[string]string) (<-chan struct{}, error)
}
