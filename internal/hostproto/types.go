package hostproto

import (
	"encoding/json"
	"strconv"
)

// Recipient is one addressee attached to a message summary
type Recipient struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// MessageData is the per-message metadata carried next to a thread
type MessageData struct {
	ProtocolMessageID string      `json:"protocol_message_id"`
	LegacyMessageID   string      `json:"legacy_message_id,omitempty"`
	TimestampMs       int64       `json:"timestamp_ms"`
	Recipients        []Recipient `json:"recipients,omitempty"`
}

// ExtraMetadata holds the parallel "extra" arrays the host keeps beside the thread list
type ExtraMetadata struct {
	Snippet  string        `json:"snippet"`
	Messages []MessageData `json:"messages"`
}

// ThreadRecord is the normalized decode of one thread wrapper.
//
// RawFragment is the wrapper exactly as the host sent it (in canonical JSON form)
// so that re-encoding keeps fields this package does not understand.
// An empty LegacyThreadID means the host omitted it; it must be resolved
// separately and never synthesized.
type ThreadRecord struct {
	Subject          string          `json:"subject"`
	Snippet          string          `json:"snippet"`
	ProtocolThreadID string          `json:"protocol_thread_id"`
	LegacyThreadID   string          `json:"legacy_thread_id,omitempty"`
	RawFragment      json.RawMessage `json:"raw_fragment,omitempty"`
	Extra            ExtraMetadata   `json:"extra"`
}

// MessageIDs returns the protocol message ids of the thread in document order
func (t ThreadRecord) MessageIDs() []string {
	ids := make([]string, 0, len(t.Extra.Messages))
	for _, m := range t.Extra.Messages {
		ids = append(ids, m.ProtocolMessageID)
	}
	return ids
}

// MinimalThreadRecord is what the compact thread-detail sub-format carries
type MinimalThreadRecord struct {
	ProtocolThreadID string        `json:"protocol_thread_id"`
	Messages         []MessageData `json:"messages"`
}

// DetailFormat tags which thread-detail sub-format a wrapper used
type DetailFormat int

const (
	DetailFull DetailFormat = iota + 1
	DetailMinimal
)

func (f DetailFormat) String() string {
	switch f {
	case DetailFull:
		return "full"
	case DetailMinimal:
		return "minimal"
	default:
		return "unknown"
	}
}

// DetailThread is one decoded thread-detail wrapper; exactly one of Full or Minimal is set
type DetailThread struct {
	Format  DetailFormat         `json:"format"`
	Full    *ThreadRecord        `json:"full,omitempty"`
	Minimal *MinimalThreadRecord `json:"minimal,omitempty"`
}

// ProtocolThreadID returns the thread id regardless of sub-format
func (d DetailThread) ProtocolThreadID() string {
	if d.Full != nil {
		return d.Full.ProtocolThreadID
	}
	if d.Minimal != nil {
		return d.Minimal.ProtocolThreadID
	}
	return ""
}

// Total is the reported size of a custom list: a known count, or MANY when
// the application only said more pages exist
type Total struct {
	Count int
	Many  bool
}

// CountTotal returns a Total with a known count
func CountTotal(n int) Total { return Total{Count: n} }

// ManyTotal returns the open-ended total
func ManyTotal() Total { return Total{Many: true} }

func (t Total) String() string {
	if t.Many {
		return "MANY"
	}
	return strconv.Itoa(t.Count)
}

// Pagination describes the page a rewritten response represents
type Pagination struct {
	Start int
	Total *Total
}
