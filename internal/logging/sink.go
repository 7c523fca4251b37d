package logging

import (
	"log/slog"
	"regexp"
	"strconv"
	"unicode/utf8"
)

// ErrorSink turns errors plus key/value context into error records.
// It never panics, whatever it is handed.
type ErrorSink struct {
	logger *slog.Logger
}

// NewErrorSink wraps logger; a nil logger discards
func NewErrorSink(logger *slog.Logger) *ErrorSink {
	if logger == nil {
		logger = Discard()
	}
	return &ErrorSink{logger: logger}
}

// Error records err with optional slog-style attributes
func (s *ErrorSink) Error(err error, attrs ...any) {
	if s == nil || err == nil {
		return
	}
	defer func() { _ = recover() }()
	args := make([]any, 0, len(attrs)+2)
	args = append(args, "error", err.Error())
	args = append(args, attrs...)
	s.logger.Error("customlist error", args...)
}

var emailLocalPart = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@([A-Za-z0-9.\-]+\.[A-Za-z]{2,})`)

// Redact masks the local part of every email address in doc
func Redact(doc string) string {
	return emailLocalPart.ReplaceAllString(doc, "***@$1")
}

// Excerpt redacts doc and cuts it to at most n bytes (on a rune boundary),
// noting how much was left out. Used to attach host documents to logs.
func Excerpt(doc string, n int) string {
	doc = Redact(doc)
	if n <= 0 || len(doc) <= n {
		return doc
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(doc[cut]) {
		cut--
	}
	return doc[:cut] + "…(" + strconv.Itoa(len(doc)-cut) + " bytes truncated)"
}
