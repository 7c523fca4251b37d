package services

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"
)

// BannerDiagnostics looks at the host's error banner some time after a
// rewrite and logs what it says. It only observes.
type BannerDiagnostics struct {
	probe  BannerProbe
	delay  time.Duration
	logger *slog.Logger
}

// NewBannerDiagnostics creates a banner check run delay after each rewrite
func NewBannerDiagnostics(probe BannerProbe, delay time.Duration, logger *slog.Logger) *BannerDiagnostics {
	if logger == nil {
		logger = slog.Default()
	}
	return &BannerDiagnostics{probe: probe, delay: delay, logger: logger}
}

// Schedule runs the check in the background, tracked by wg
func (d *BannerDiagnostics) Schedule(ctx context.Context, wg *sync.WaitGroup, query string) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		timer := time.NewTimer(d.delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return
		}
		d.Check(ctx, query)
	}()
}

// Check reads the banner once and warns if it shows text
func (d *BannerDiagnostics) Check(ctx context.Context, query string) {
	raw, err := d.probe.ErrorBannerHTML(ctx)
	if err != nil {
		d.logger.Debug("error banner unavailable", "query", query, "error", err)
		return
	}
	if text := bannerText(raw); text != "" {
		d.logger.Warn("host error banner visible after rewrite", "query", query, "banner", text)
	}
}

// bannerText returns the visible text of a banner fragment, whitespace collapsed
func bannerText(fragment string) string {
	z := html.NewTokenizer(strings.NewReader(fragment))
	var words []string
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF or malformed input
			return strings.Join(words, " ")
		case html.StartTagToken:
			if name, _ := z.TagName(); isInvisible(string(name)) {
				skip++
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); isInvisible(string(name)) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				words = append(words, strings.Fields(string(z.Text()))...)
			}
		}
	}
}

func isInvisible(tag string) bool {
	return tag == "script" || tag == "style" || tag == "noscript" || tag == "template"
}
