package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ajramos/gmail-customlist/internal/hostproto"
	"github.com/ajramos/gmail-customlist/internal/intercept"
	"github.com/ajramos/gmail-customlist/internal/logging"
)

// ListResult is one page returned by a ListHandler. A bare result (built with
// Threads) reports its own length as the total; a structured result sets
// exactly one of Total or HasMore.
type ListResult struct {
	Threads []Descriptor
	Total   *int
	HasMore *bool

	bare bool
}

// Threads is a single-page result whose total is its length
func Threads(ds ...Descriptor) ListResult {
	return ListResult{Threads: ds, bare: true}
}

// WithTotal is a result with a known list total
func WithTotal(total int, ds ...Descriptor) ListResult {
	return ListResult{Threads: ds, Total: &total}
}

// WithHasMore is a result that only knows whether more pages exist
func WithHasMore(hasMore bool, ds ...Descriptor) ListResult {
	return ListResult{Threads: ds, HasMore: &hasMore}
}

// Validate rejects structured results that set both or neither pagination field
func (r ListResult) Validate() error {
	if r.bare {
		if r.Total != nil || r.HasMore != nil {
			return fmt.Errorf("%w: bare result carries pagination", ErrInvalidPagination)
		}
		return nil
	}
	switch {
	case r.Total != nil && r.HasMore != nil:
		return fmt.Errorf("%w: both total and hasMore set", ErrInvalidPagination)
	case r.Total == nil && r.HasMore == nil:
		return fmt.Errorf("%w: neither total nor hasMore set", ErrInvalidPagination)
	case r.Total != nil && *r.Total < 0:
		return fmt.Errorf("%w: negative total %d", ErrInvalidPagination, *r.Total)
	}
	return nil
}

// PageTotal is the total reported for a page of n threads starting at start
func (r ListResult) PageTotal(start, n int) hostproto.Total {
	switch {
	case r.Total != nil:
		return hostproto.CountTotal(*r.Total)
	case r.HasMore != nil && *r.HasMore:
		return hostproto.ManyTotal()
	case r.HasMore != nil:
		return hostproto.CountTotal(start + n)
	}
	return hostproto.CountTotal(n)
}

// CycleState is where a custom list cycle is in its exchange with the host
type CycleState int

const (
	StateIdle CycleState = iota
	StateAwaitingInterceptedQuery
	StateResolvingIdentifiers
	StateAwaitingInterceptedResponse
	StateRewriting
	StateDone
	StateErrorRewriting
)

func (s CycleState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingInterceptedQuery:
		return "awaiting_intercepted_query"
	case StateResolvingIdentifiers:
		return "resolving_identifiers"
	case StateAwaitingInterceptedResponse:
		return "awaiting_intercepted_response"
	case StateRewriting:
		return "rewriting"
	case StateDone:
		return "done"
	case StateErrorRewriting:
		return "error_rewriting"
	}
	return "unknown"
}

// ListConfig tunes the orchestrator
type ListConfig struct {
	PageSizeLimit   int
	DiagnosticDelay time.Duration
	Now             func() time.Time
	NewQuery        func() string
}

// DefaultListConfig returns the orchestrator defaults
func DefaultListConfig() ListConfig {
	return ListConfig{
		PageSizeLimit:   50,
		DiagnosticDelay: time.Second,
		Now:             time.Now,
		NewQuery:        newDisguisedQuery,
	}
}

// newDisguisedQuery is a random token the host treats as an ordinary search
func newDisguisedQuery() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

type registration struct {
	handle string
	query  string
	sub    *intercept.Subscription

	mu      sync.Mutex
	handler ListHandler
	seq     int64
	cancel  context.CancelFunc

	// cycleMu serializes cycles so a response is consumed by one cycle only
	cycleMu sync.Mutex
}

// ListServiceImpl drives custom list cycles: it owns the registration table,
// listens for the host's disguised searches and rewrites their responses.
type ListServiceImpl struct {
	bus      *intercept.Bus
	host     HostTransport
	ids      IdentifierResolver
	sink     ErrorSink
	logger   *slog.Logger
	notifier Notifier
	banner   *BannerDiagnostics
	cfg      ListConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	registrations map[string]*registration
	closed        bool
}

// NewListService creates a list orchestrator on bus. sink may be nil.
func NewListService(bus *intercept.Bus, host HostTransport, ids IdentifierResolver, sink ErrorSink, logger *slog.Logger, cfg ListConfig) *ListServiceImpl {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultListConfig()
	if cfg.PageSizeLimit <= 0 {
		cfg.PageSizeLimit = def.PageSizeLimit
	}
	if cfg.DiagnosticDelay < 0 {
		cfg.DiagnosticDelay = def.DiagnosticDelay
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}
	if cfg.NewQuery == nil {
		cfg.NewQuery = def.NewQuery
	}
	if sink == nil {
		sink = logging.NewErrorSink(logger)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ListServiceImpl{
		bus:           bus,
		host:          host,
		ids:           ids,
		sink:          sink,
		logger:        logger,
		cfg:           cfg,
		ctx:           ctx,
		cancel:        cancel,
		registrations: make(map[string]*registration),
	}
}

// SetNotifier installs the user-visible error channel
func (s *ListServiceImpl) SetNotifier(n Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifier = n
}

// SetBannerProbe enables the post-rewrite error banner check
func (s *ListServiceImpl) SetBannerProbe(p BannerProbe) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p == nil {
		s.banner = nil
		return
	}
	s.banner = NewBannerDiagnostics(p, s.cfg.DiagnosticDelay, s.logger)
}

// Register assigns handle a disguised query and starts listening for it.
// Registering a handle again returns the same query, keeps the single
// subscription and swaps in the new handler.
func (s *ListServiceImpl) Register(handle string, handler ListHandler) (string, error) {
	if strings.TrimSpace(handle) == "" || handler == nil {
		return "", ErrInvalidRegistration
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrOrchestratorClosed
	}
	if reg, ok := s.registrations[handle]; ok {
		reg.mu.Lock()
		reg.handler = handler
		reg.mu.Unlock()
		return reg.query, nil
	}

	query := s.cfg.NewQuery()
	reg := &registration{handle: handle, query: query, handler: handler}
	reg.sub = s.bus.Subscribe(subscriptionID(query, "query"), intercept.MatchQuery(intercept.QueryIntercepted, query))
	s.registrations[handle] = reg

	s.wg.Add(1)
	go s.listen(reg)

	s.logger.Info("custom list registered", "handle", handle, "query", query)
	return query, nil
}

// DisguisedQuery returns the query assigned to handle
func (s *ListServiceImpl) DisguisedQuery(handle string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.registrations[handle]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrNotRegistered, handle)
	}
	return reg.query, nil
}

// Close stops every listener and in-flight cycle and waits for them
func (s *ListServiceImpl) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	regs := make([]*registration, 0, len(s.registrations))
	for _, reg := range s.registrations {
		regs = append(regs, reg)
	}
	s.mu.Unlock()

	s.cancel()
	for _, reg := range regs {
		s.bus.Unsubscribe(reg.sub.ID)
	}
	s.wg.Wait()
	return nil
}

func subscriptionID(query, kind string, parts ...string) string {
	return strings.Join(append([]string{"customlist", query, kind}, parts...), "/")
}

func (s *ListServiceImpl) listen(reg *registration) {
	defer s.wg.Done()
	for ev := range reg.sub.C {
		s.startCycle(reg, ev)
	}
}

// startCycle supersedes any cycle still running for reg
func (s *ListServiceImpl) startCycle(reg *registration, ev intercept.Event) {
	ctx, cancel := context.WithCancel(s.ctx)

	reg.mu.Lock()
	if reg.cancel != nil {
		reg.cancel()
	}
	reg.cancel = cancel
	reg.seq++
	seq := reg.seq
	handler := reg.handler
	reg.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()

		reg.cycleMu.Lock()
		defer reg.cycleMu.Unlock()
		if ctx.Err() != nil {
			s.logger.Debug("cycle superseded before start", "handle", reg.handle, "seq", seq)
			return
		}
		c := &cycle{svc: s, reg: reg, handler: handler, seq: seq, start: ev.Start}
		c.run(ctx)
	}()
}

type cycle struct {
	svc     *ListServiceImpl
	reg     *registration
	handler ListHandler
	seq     int64
	start   int
	state   CycleState
}

func (c *cycle) transition(to CycleState) {
	c.svc.logger.Debug("cycle state", "handle", c.reg.handle, "seq", c.seq, "from", c.state.String(), "to", to.String())
	c.state = to
}

func (c *cycle) run(ctx context.Context) {
	s := c.svc
	c.state = StateIdle
	c.transition(StateAwaitingInterceptedQuery)

	descriptors, total := c.page(ctx)

	c.transition(StateResolvingIdentifiers)
	records := s.ids.ResolveBatch(ctx, descriptors)
	if ctx.Err() != nil {
		s.logger.Debug("cycle cancelled while resolving", "handle", c.reg.handle, "seq", c.seq)
		return
	}
	if dropped := len(descriptors) - len(records); dropped > 0 {
		s.logger.Warn("descriptors dropped during resolution", "handle", c.reg.handle, "requested", len(descriptors), "dropped", dropped)
	}

	newQuery := c.reg.query
	if len(records) > 0 {
		newQuery = BuildMessageIDQuery(records)
	}

	c.transition(StateAwaitingInterceptedResponse)
	subID := subscriptionID(c.reg.query, "response", strconv.FormatInt(c.seq, 10))
	sub := s.bus.Subscribe(subID, intercept.MatchQueryStart(intercept.ResponseIntercepted, newQuery, c.start))
	defer s.bus.Unsubscribe(subID)

	s.host.SetOutgoingQuery(OutgoingQuery{
		NewQuery: newQuery,
		NewStart: 0,
		Query:    c.reg.query,
		Start:    c.start,
	})

	var resp intercept.Event
	select {
	case ev, ok := <-sub.C:
		if !ok {
			return
		}
		resp = ev
	case <-ctx.Done():
		s.logger.Debug("cycle cancelled awaiting response", "handle", c.reg.handle, "seq", c.seq)
		return
	}

	c.transition(StateRewriting)
	p := hostproto.Pagination{Start: c.start, Total: &total}
	doc, err := RewriteSearchResponse(resp.Response, records, p, s.cfg.Now())
	if err != nil {
		c.transition(StateErrorRewriting)
		c.degrade(newQuery, resp.Response, len(descriptors), p, err)
		return
	}

	s.host.SetRewrittenResponse(newQuery, &doc)
	c.transition(StateDone)
	s.logger.Info("custom list page rewritten", "handle", c.reg.handle, "start", c.start, "threads", len(records), "total", total.String())

	s.mu.Lock()
	banner := s.banner
	s.mu.Unlock()
	if banner != nil {
		banner.Schedule(s.ctx, &s.wg, newQuery)
	}
}

// page runs the handler and normalizes its result. Any failure yields an
// empty page with total 0.
func (c *cycle) page(ctx context.Context) ([]Descriptor, hostproto.Total) {
	s := c.svc
	result, err := c.invoke(ctx)
	if err == nil {
		err = result.Validate()
	}
	if err != nil {
		s.sink.Error(&CallbackError{Handle: c.reg.handle, Start: c.start, Err: err}, "state", c.state.String())
		s.notify("Could not load this list.")
		return nil, hostproto.CountTotal(0)
	}

	threads := result.Threads
	if len(threads) > s.cfg.PageSizeLimit {
		s.logger.Warn("list page truncated", "handle", c.reg.handle, "returned", len(threads), "limit", s.cfg.PageSizeLimit)
		threads = threads[:s.cfg.PageSizeLimit]
	}
	return threads, result.PageTotal(c.start, len(threads))
}

func (c *cycle) invoke(ctx context.Context) (result ListResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return c.handler(ctx, c.start, c.svc.cfg.PageSizeLimit)
}

// degrade hands the host an empty list, or its original response when even
// that cannot be encoded
func (c *cycle) degrade(query, original string, descriptors int, p hostproto.Pagination, cause error) {
	s := c.svc
	s.sink.Error(&RewriteError{Query: query, Descriptors: descriptors, Err: cause},
		"handle", c.reg.handle,
		"response", logging.Excerpt(original, 512))

	empty, err := hostproto.EncodeSearchResponse(original, nil, p)
	if err != nil {
		s.sink.Error(&RewriteError{Query: query, Descriptors: descriptors, Err: errors.Join(cause, err)},
			"handle", c.reg.handle,
			"fallback", "original")
		s.host.SetRewrittenResponse(query, nil)
		s.notify("Could not display this list.")
		return
	}
	s.host.SetRewrittenResponse(query, &empty)
	s.notify("Could not display this list.")
}

func (s *ListServiceImpl) notify(msg string) {
	s.mu.Lock()
	n := s.notifier
	s.mu.Unlock()
	if n != nil {
		n.ShowError(msg)
	}
}
