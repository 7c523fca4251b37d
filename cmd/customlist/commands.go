package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/ajramos/gmail-customlist/internal/db"
	"github.com/ajramos/gmail-customlist/internal/gmail"
	"github.com/ajramos/gmail-customlist/internal/hostproto"
	"github.com/ajramos/gmail-customlist/internal/logging"
	"github.com/ajramos/gmail-customlist/internal/services"
	"github.com/ajramos/gmail-customlist/internal/version"
	"github.com/ajramos/gmail-customlist/pkg/auth"
)

func newFlagSet(e *env, name, synopsis string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	fs.Usage = func() {
		fmt.Fprintf(e.stderr, "Usage:\n  customlist %s %s\n", name, synopsis)
		var hasFlags bool
		fs.VisitAll(func(*flag.Flag) { hasFlags = true })
		if hasFlags {
			fmt.Fprintf(e.stderr, "\nOptions:\n")
			fs.PrintDefaults()
		}
	}
	return fs
}

func readInput(e *env, path string) (string, error) {
	if path == "-" {
		b, err := io.ReadAll(e.stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(b), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read capture: %w", err)
	}
	return string(b), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// cell fits s into exactly width terminal columns
func cell(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	return runewidth.FillRight(runewidth.Truncate(s, width, "…"), width)
}

func parseDescriptors(args []string) ([]services.Descriptor, error) {
	ds := make([]services.Descriptor, 0, len(args))
	for _, a := range args {
		d := services.Descriptor{Value: a}
		if _, ok := services.Classify(d); !ok {
			return nil, fmt.Errorf("%w: %q", services.ErrInvalidDescriptor, a)
		}
		ds = append(ds, d)
	}
	return ds, nil
}

func runDecode(e *env, args []string) error {
	fs := newFlagSet(e, "decode", "[--format table|json] [--detail] <capture|->")
	format := fs.String("format", "table", "Output format: table or json")
	detail := fs.Bool("detail", false, "Input is a thread-detail response")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 || (*format != "table" && *format != "json") {
		fs.Usage()
		return errUsage
	}

	doc, err := readInput(e, fs.Arg(0))
	if err != nil {
		return err
	}

	if *detail {
		threads, err := hostproto.DecodeThreadDetailResponse(doc)
		if err != nil {
			return err
		}
		if *format == "json" {
			return writeJSON(e.stdout, threads)
		}
		fmt.Fprintf(e.stdout, "%s %s %s %s\n", cell("#", 3), cell("FORMAT", 8), cell("THREAD", 24), "MESSAGES")
		for i, t := range threads {
			var msgs int
			if t.Full != nil {
				msgs = len(t.Full.Extra.Messages)
			} else if t.Minimal != nil {
				msgs = len(t.Minimal.Messages)
			}
			fmt.Fprintf(e.stdout, "%s %s %s %d\n", cell(strconv.Itoa(i+1), 3), cell(t.Format.String(), 8), cell(t.ProtocolThreadID(), 24), msgs)
		}
		return nil
	}

	threads, err := hostproto.DecodeSearchResponse(doc)
	if err != nil {
		return err
	}
	if *format == "json" {
		return writeJSON(e.stdout, threads)
	}
	fmt.Fprintf(e.stdout, "%s %s %s %s %s\n", cell("#", 3), cell("LEGACY ID", 18), cell("THREAD", 24), cell("MSGS", 4), "SUBJECT")
	for i, t := range threads {
		legacy := t.LegacyThreadID
		if legacy == "" {
			legacy = "-"
		}
		fmt.Fprintf(e.stdout, "%s %s %s %s %s\n",
			cell(strconv.Itoa(i+1), 3),
			cell(legacy, 18),
			cell(t.ProtocolThreadID, 24),
			cell(strconv.Itoa(len(t.Extra.Messages)), 4),
			runewidth.Truncate(t.Subject, 60, "…"))
	}
	return nil
}

func runConvert(e *env, args []string) error {
	fs := newFlagSet(e, "convert", "[--reverse] <id>...")
	reverse := fs.Bool("reverse", false, "Convert hex legacy ids to protocol numerals")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errUsage
	}

	for _, in := range fs.Args() {
		var out string
		var err error
		if *reverse {
			out, err = hostproto.NumeralFromLegacyID(in)
		} else {
			out, err = hostproto.LegacyIDFromNumeral(in)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(e.stdout, "%s\t%s\n", in, out)
	}
	return nil
}

func runRewrite(e *env, args []string) error {
	fs := newFlagSet(e, "rewrite", "[--start N] [--total N | --has-more] [--now MS] <capture|-> <descriptor>...")
	start := fs.Int("start", 0, "Index of the first thread on this page")
	total := fs.Int("total", -1, "Total number of threads in the list")
	hasMore := fs.Bool("has-more", false, "More pages follow this one")
	nowMs := fs.Int64("now", 0, "Clock used for reordered timestamps, in epoch milliseconds")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 || *start < 0 || (*total >= 0 && *hasMore) {
		fs.Usage()
		return errUsage
	}

	doc, err := readInput(e, fs.Arg(0))
	if err != nil {
		return err
	}
	ds, err := parseDescriptors(fs.Args()[1:])
	if err != nil {
		return err
	}

	result := services.Threads(ds...)
	switch {
	case *total >= 0:
		result = services.WithTotal(*total, ds...)
	case *hasMore:
		result = services.WithHasMore(true, ds...)
	}
	if err := result.Validate(); err != nil {
		return err
	}

	records := make([]services.ResolutionRecord, 0, len(ds))
	for _, d := range ds {
		rec, _ := services.Classify(d)
		records = append(records, rec)
	}

	now := time.Now()
	if *nowMs > 0 {
		now = time.UnixMilli(*nowMs)
	}
	pageTotal := result.PageTotal(*start, len(records))
	out, err := services.RewriteSearchResponse(doc, records, hostproto.Pagination{Start: *start, Total: &pageTotal}, now)
	if err != nil {
		return err
	}
	e.log.Debug("capture rewritten", "threads", len(records), "start", *start, "total", pageTotal.String())
	fmt.Fprintln(e.stdout, out)
	return nil
}

func runResolve(e *env, args []string) error {
	fs := newFlagSet(e, "resolve", "<descriptor>...")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errUsage
	}
	ds, err := parseDescriptors(fs.Args())
	if err != nil {
		return err
	}
	if _, err := os.Stat(e.credPath); err != nil {
		return fmt.Errorf("credentials file not found at %s; download client credentials from Google Cloud Console and place it there", e.credPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	service, err := auth.NewGmailService(ctx, e.credPath, e.tokenPath)
	if err != nil {
		return fmt.Errorf("could not initialize Gmail service: %w", err)
	}
	client := gmail.NewClient(service)

	var store services.IdentifierStore
	if e.cfg.CachePath != "" {
		st, err := db.Open(ctx, expandPath(e.cfg.CachePath))
		if err != nil {
			e.log.Warn("identifier cache unavailable", "path", e.cfg.CachePath, "error", err)
		} else {
			defer func() { _ = st.Close() }()
			store = db.NewIdentifierStore(st)
		}
	}

	ids := services.NewIdentifierService(client, store, logging.NewErrorSink(e.log.Logger), e.log.Logger, e.cfg.List.ResolveConcurrency)
	records := ids.ResolveBatch(ctx, ds)
	if dropped := len(ds) - len(records); dropped > 0 {
		fmt.Fprintf(e.stderr, "%d of %d descriptors could not be resolved\n", dropped, len(ds))
	}
	return writeJSON(e.stdout, records)
}

func runPrune(e *env, args []string) error {
	fs := newFlagSet(e, "prune", "[--older-than DURATION]")
	olderThan := fs.Duration("older-than", 30*24*time.Hour, "Age after which cached mappings are dropped")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 0 || *olderThan <= 0 {
		fs.Usage()
		return errUsage
	}
	if e.cfg.CachePath == "" {
		return fmt.Errorf("no cache_path configured")
	}

	ctx := context.Background()
	st, err := db.Open(ctx, expandPath(e.cfg.CachePath))
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	n, err := db.NewIdentifierStore(st).PruneOlderThan(ctx, time.Now().Add(-*olderThan))
	if err != nil {
		return err
	}
	e.log.Info("identifier cache pruned", "removed", n, "older_than", olderThan.String())
	fmt.Fprintf(e.stdout, "removed %d mappings\n", n)
	return nil
}

func runVersion(e *env, args []string) error {
	fmt.Fprintln(e.stdout, version.GetDetailedVersionString())
	return nil
}
