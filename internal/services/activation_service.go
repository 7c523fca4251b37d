package services

import (
	"context"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"
)

// ActivationServiceImpl makes the host run a disguised search without the
// user seeing the disguised query in the search box
type ActivationServiceImpl struct {
	router  Router
	box     SearchBox
	timeout time.Duration
	logger  *slog.Logger
}

// NewActivationService creates an activation service. timeout bounds how long
// the search box stays hidden if the host never signals acceptance.
func NewActivationService(router Router, box SearchBox, timeout time.Duration, logger *slog.Logger) *ActivationServiceImpl {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &ActivationServiceImpl{router: router, box: box, timeout: timeout, logger: logger}
}

// BuildActivationRoute is the hash route for a disguised search, with route
// params appended as sorted key=value segments
func BuildActivationRoute(disguisedQuery string, routeParams map[string]string) string {
	var b strings.Builder
	b.WriteString("#search/")
	b.WriteString(url.PathEscape(disguisedQuery))

	keys := make([]string, 0, len(routeParams))
	for k := range routeParams {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString("/")
		b.WriteString(url.PathEscape(k))
		b.WriteString("=")
		b.WriteString(url.PathEscape(routeParams[k]))
	}
	return b.String()
}

// Activate navigates the host to the disguised search. The returned channel
// closes once the search box has been restored.
func (a *ActivationServiceImpl) Activate(ctx context.Context, disguisedQuery string, routeParams map[string]string) (<-chan struct{}, error) {
	if strings.TrimSpace(disguisedQuery) == "" {
		return nil, ErrEmptyQuery
	}

	target := BuildActivationRoute(disguisedQuery, routeParams)
	previous := a.router.CurrentHash()

	if err := a.box.HideContent(); err != nil {
		a.logger.Warn("could not hide search box", "error", err)
	}
	if err := a.router.ReplaceHash(target); err != nil {
		a.restore()
		return nil, err
	}
	a.router.DispatchHashChange(previous, target)
	a.logger.Debug("activation dispatched", "from", previous, "to", target)

	done := make(chan struct{})
	accepted := a.box.Accepted()
	go func() {
		defer close(done)
		timer := time.NewTimer(a.timeout)
		defer timer.Stop()
		select {
		case <-accepted:
		case <-timer.C:
			a.logger.Warn("host did not accept activation in time; restoring search box", "timeout", a.timeout)
		case <-ctx.Done():
		}
		a.restore()
	}()
	return done, nil
}

func (a *ActivationServiceImpl) restore() {
	if err := a.box.RestoreContent(); err != nil {
		a.logger.Warn("could not restore search box", "error", err)
	}
}
