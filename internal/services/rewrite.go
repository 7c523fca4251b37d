package services

import (
	"strings"
	"time"

	"github.com/ajramos/gmail-customlist/internal/hostproto"
)

// BuildMessageIDQuery is the host search matching exactly the given messages
func BuildMessageIDQuery(records []ResolutionRecord) string {
	terms := make([]string, 0, len(records))
	for _, r := range records {
		id := strings.Trim(r.MessageID, "<>")
		if id == "" {
			continue
		}
		terms = append(terms, "rfc822msgid:"+id)
	}
	return strings.Join(terms, " OR ")
}

// ReorderThreads returns the decoded threads in the desired order. A record
// matches by legacy thread id, or by any of the thread's message ids when the
// legacy id is unknown. Threads nobody asked for and records the host did not
// return are dropped; each thread is used at most once.
func ReorderThreads(threads []hostproto.ThreadRecord, desired []ResolutionRecord) []hostproto.ThreadRecord {
	byLegacy := make(map[string]int, len(threads))
	byMessage := make(map[string]int, len(threads))
	for i, t := range threads {
		if t.LegacyThreadID != "" {
			if _, ok := byLegacy[strings.ToLower(t.LegacyThreadID)]; !ok {
				byLegacy[strings.ToLower(t.LegacyThreadID)] = i
			}
		}
		for _, id := range t.MessageIDs() {
			if _, ok := byMessage[id]; !ok {
				byMessage[id] = i
			}
		}
	}

	used := make([]bool, len(threads))
	out := make([]hostproto.ThreadRecord, 0, len(desired))
	for _, rec := range desired {
		idx, ok := -1, false
		if rec.LegacyThreadID != "" {
			idx, ok = byLegacy[strings.ToLower(rec.LegacyThreadID)]
		}
		if !ok && rec.MessageID != "" {
			idx, ok = byMessage[rec.MessageID]
		}
		if !ok || used[idx] {
			continue
		}
		used[idx] = true
		out = append(out, threads[idx])
	}
	return out
}

func needsReorder(original, reordered []hostproto.ThreadRecord) bool {
	if len(original) != len(reordered) {
		return true
	}
	for i := range original {
		if original[i].ProtocolThreadID != reordered[i].ProtocolThreadID {
			return true
		}
	}
	return false
}

// RewriteSearchResponse reorders an intercepted search response to the
// desired records and encodes it with the given pagination. When the order
// changed, each thread's message dates are set to now minus its position so
// the host's chronological sort keeps the new order; otherwise dates are left
// untouched.
func RewriteSearchResponse(doc string, desired []ResolutionRecord, p hostproto.Pagination, now time.Time) (string, error) {
	threads, err := hostproto.DecodeSearchResponse(doc)
	if err != nil {
		return "", err
	}

	ordered := ReorderThreads(threads, desired)
	if needsReorder(threads, ordered) {
		base := now.UnixMilli()
		for i := range ordered {
			if ordered[i], err = hostproto.PatchTimestamps(ordered[i], base-int64(i)); err != nil {
				return "", err
			}
		}
	}

	return hostproto.EncodeSearchResponse(doc, ordered, p)
}
