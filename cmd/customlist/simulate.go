package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ajramos/gmail-customlist/internal/gmail"
	"github.com/ajramos/gmail-customlist/internal/hostproto"
	"github.com/ajramos/gmail-customlist/internal/intercept"
	"github.com/ajramos/gmail-customlist/internal/logging"
	"github.com/ajramos/gmail-customlist/internal/services"
)

const simulateHandle = "simulate"

// replayHost answers every outgoing query with the same captured response
type replayHost struct {
	bus     *intercept.Bus
	doc     string
	out     io.Writer
	results chan *string
}

func (h *replayHost) SetOutgoingQuery(q services.OutgoingQuery) {
	fmt.Fprintf(h.out, "outgoing query: %q start=%d (was %q start=%d)\n", q.NewQuery, q.NewStart, q.Query, q.Start)
	h.bus.Publish(intercept.Event{
		Type:     intercept.ResponseIntercepted,
		Query:    q.NewQuery,
		Start:    q.Start,
		Response: h.doc,
	})
}

func (h *replayHost) SetRewrittenResponse(query string, doc *string) {
	select {
	case h.results <- doc:
	default:
	}
}

// consoleRouter turns hash navigation into intercepted search requests
type consoleRouter struct {
	mu    sync.Mutex
	bus   *intercept.Bus
	start int
	hash  string
	out   io.Writer
}

func (r *consoleRouter) CurrentHash() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hash
}

func (r *consoleRouter) ReplaceHash(hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hash = hash
	return nil
}

func (r *consoleRouter) DispatchHashChange(oldHash, newHash string) {
	fmt.Fprintf(r.out, "navigate: %s -> %s\n", oldHash, newHash)
	query, err := searchQueryFromHash(newHash)
	if err != nil {
		fmt.Fprintf(r.out, "not a search route: %v\n", err)
		return
	}
	r.bus.Publish(intercept.Event{Type: intercept.QueryIntercepted, Query: query, Start: r.start})
}

// searchQueryFromHash extracts the query from a #search/<query>[/k=v...] route
func searchQueryFromHash(hash string) (string, error) {
	rest, ok := strings.CutPrefix(hash, "#search/")
	if !ok {
		return "", fmt.Errorf("unexpected route %q", hash)
	}
	segment, _, _ := strings.Cut(rest, "/")
	return url.PathUnescape(segment)
}

type consoleSearchBox struct {
	accepted chan struct{}
	once     sync.Once
	out      io.Writer
}

func (b *consoleSearchBox) HideContent() error {
	fmt.Fprintln(b.out, "search box hidden")
	return nil
}

func (b *consoleSearchBox) RestoreContent() error {
	fmt.Fprintln(b.out, "search box restored")
	return nil
}

func (b *consoleSearchBox) Accepted() <-chan struct{} { return b.accepted }

func (b *consoleSearchBox) accept() {
	b.once.Do(func() { close(b.accepted) })
}

type consoleNotifier struct{ out io.Writer }

func (n consoleNotifier) ShowError(message string) {
	fmt.Fprintf(n.out, "butter bar: %s\n", message)
}

// capturedLookup resolves ids from the threads of a capture instead of the API
type capturedLookup struct {
	toMessage map[string]string
	toLegacy  map[string]string
}

func newCapturedLookup(threads []hostproto.ThreadRecord) *capturedLookup {
	l := &capturedLookup{toMessage: make(map[string]string), toLegacy: make(map[string]string)}
	for _, t := range threads {
		if t.LegacyThreadID == "" {
			continue
		}
		legacy := strings.ToLower(t.LegacyThreadID)
		for _, id := range t.MessageIDs() {
			if id == "" {
				continue
			}
			if _, ok := l.toMessage[legacy]; !ok {
				l.toMessage[legacy] = id
			}
			l.toLegacy[id] = legacy
		}
	}
	return l
}

func (l *capturedLookup) ResolveLegacyToMessage(_ context.Context, legacyThreadID string) (string, error) {
	if id, ok := l.toMessage[strings.ToLower(legacyThreadID)]; ok {
		return id, nil
	}
	return "", fmt.Errorf("%w: thread %s not in capture", gmail.ErrNotFound, legacyThreadID)
}

func (l *capturedLookup) ResolveMessageToLegacy(_ context.Context, messageID string) (string, error) {
	if legacy, ok := l.toLegacy[messageID]; ok {
		return legacy, nil
	}
	return "", fmt.Errorf("%w: message %s not in capture", gmail.ErrNotFound, messageID)
}

func pageOf(ds []services.Descriptor) services.ListHandler {
	return func(_ context.Context, start, limit int) (services.ListResult, error) {
		if start >= len(ds) {
			return services.WithTotal(len(ds)), nil
		}
		end := min(start+limit, len(ds))
		return services.WithTotal(len(ds), ds[start:end]...), nil
	}
}

func runSimulate(e *env, args []string) error {
	fs := newFlagSet(e, "simulate", "[--start N] [--timeout DURATION] <capture|-> <descriptor>...")
	start := fs.Int("start", 0, "Page offset the host requests")
	timeout := fs.Duration("timeout", 10*time.Second, "How long to wait for the rewritten response")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 || *start < 0 {
		fs.Usage()
		return errUsage
	}

	doc, err := readInput(e, fs.Arg(0))
	if err != nil {
		return err
	}
	threads, err := hostproto.DecodeSearchResponse(doc)
	if err != nil {
		return err
	}
	ds, err := parseDescriptors(fs.Args()[1:])
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	logger := e.log.Logger
	sink := logging.NewErrorSink(logger)
	bus := intercept.NewBus()
	host := &replayHost{bus: bus, doc: doc, out: e.stderr, results: make(chan *string, 1)}

	ids := services.NewIdentifierService(newCapturedLookup(threads), nil, sink, logger, e.cfg.List.ResolveConcurrency)

	listCfg := services.DefaultListConfig()
	listCfg.PageSizeLimit = e.cfg.List.PageSizeLimit
	listCfg.DiagnosticDelay = e.cfg.GetDiagnosticDelay()
	svc := services.NewListService(bus, host, ids, sink, logger, listCfg)
	defer func() { _ = svc.Close() }()
	svc.SetNotifier(consoleNotifier{out: e.stderr})

	query, err := svc.Register(simulateHandle, pageOf(ds))
	if err != nil {
		return err
	}

	router := &consoleRouter{bus: bus, start: *start, hash: "#inbox", out: e.stderr}
	box := &consoleSearchBox{accepted: make(chan struct{}), out: e.stderr}
	activation := services.NewActivationService(router, box, e.cfg.GetActivationTimeout(), logger)

	done, err := activation.Activate(ctx, query, e.cfg.Activation.RouteParams)
	if err != nil {
		return err
	}

	var rewritten *string
	select {
	case rewritten = <-host.results:
		box.accept()
	case <-ctx.Done():
		box.accept()
		<-done
		return fmt.Errorf("no rewritten response within %s", *timeout)
	}
	<-done

	if rewritten == nil {
		fmt.Fprintln(e.stderr, "rewrite failed; host keeps its original response")
		fmt.Fprintln(e.stdout, doc)
		return nil
	}
	fmt.Fprintln(e.stdout, *rewritten)
	return nil
}
