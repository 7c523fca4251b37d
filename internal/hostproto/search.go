package hostproto

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Positional keys of the search response document
const (
	keyMeta        = "1"
	keyMetaTotal   = "3"
	keyMetaExtra   = "4"
	keyThreads     = "3"
	keyWrapThread  = "1"
	keyWrapIndex   = "2"
	keySubject     = "1"
	keySnippet     = "2"
	keyThreadID    = "4"
	keyMessages    = "5"
	keyFullMsgs    = "6"
	keyLegacyNum   = "18"
	keyLegacyHex   = "20"
	keyMsgID       = "1"
	keyMsgRcpts    = "3"
	keyMsgDate     = "7"
	keyMsgLegacy   = "56"
	keyRcptAddress = "2"
	keyRcptName    = "3"
	keyExtraSnip   = "1"
	keyExtraOther  = "3"
	keyExtraMsgIDs = "4"
)

func parseDocument(doc string) (object, error) {
	var top object
	if err := json.Unmarshal([]byte(doc), &top); err != nil {
		return nil, &MalformedDocumentError{Err: err}
	}
	if top == nil {
		return nil, &MalformedDocumentError{Err: fmt.Errorf("document is null")}
	}
	return top, nil
}

// DecodeSearchResponse decodes one ThreadRecord per thread wrapper, in
// document order. Wrappers without a thread fragment are skipped; a document
// without a thread array has no threads.
func DecodeSearchResponse(doc string) ([]ThreadRecord, error) {
	top, err := parseDocument(doc)
	if err != nil {
		return nil, err
	}
	wrappers, err := top.optArray(keyThreads, "$")
	if err != nil {
		return nil, err
	}
	extras, err := searchExtras(top)
	if err != nil {
		return nil, err
	}

	threads := make([]ThreadRecord, 0, len(wrappers))
	for i, rawWrapper := range wrappers {
		path := fmt.Sprintf("$.%s[%d]", keyThreads, i)
		wrapper, err := parseObject(rawWrapper, path)
		if err != nil {
			return nil, err
		}
		if !wrapper.has(keyWrapThread) {
			continue
		}
		fragment, err := parseObject(wrapper[keyWrapThread], path+"."+keyWrapThread)
		if err != nil {
			return nil, err
		}
		rec, err := decodeThreadFragment(fragment, path+"."+keyWrapThread)
		if err != nil {
			return nil, err
		}
		if i < len(extras) && extras[i] != nil {
			if rec.Extra.Snippet, err = extras[i].optStr(keyExtraSnip, fmt.Sprintf("$.1.4[%d]", i)); err != nil {
				return nil, err
			}
		}
		if rec.RawFragment, err = canonical(rawWrapper); err != nil {
			return nil, &MalformedDocumentError{Err: err}
		}
		threads = append(threads, rec)
	}
	return threads, nil
}

func searchExtras(top object) ([]object, error) {
	meta, err := top.optObject(keyMeta, "$")
	if err != nil || meta == nil {
		return nil, err
	}
	rawExtras, err := meta.optArray(keyMetaExtra, "$."+keyMeta)
	if err != nil {
		return nil, err
	}
	extras := make([]object, len(rawExtras))
	for i, raw := range rawExtras {
		if isNull(raw) {
			continue
		}
		if extras[i], err = parseObject(raw, fmt.Sprintf("$.1.4[%d]", i)); err != nil {
			return nil, err
		}
	}
	return extras, nil
}

// decodeThreadFragment reads the fields shared by search and full thread-detail fragments
func decodeThreadFragment(fragment object, path string) (ThreadRecord, error) {
	var rec ThreadRecord
	var err error
	if rec.Subject, err = fragment.optStr(keySubject, path); err != nil {
		return rec, err
	}
	if rec.Snippet, err = fragment.optStr(keySnippet, path); err != nil {
		return rec, err
	}
	if rec.ProtocolThreadID, err = fragment.str(keyThreadID, path); err != nil {
		return rec, err
	}
	if rec.LegacyThreadID, err = legacyThreadID(fragment, path); err != nil {
		return rec, err
	}
	rawMsgs, err := fragment.optArray(keyMessages, path)
	if err != nil {
		return rec, err
	}
	if rec.Extra.Messages, err = decodeMessages(rawMsgs, path+"."+keyMessages); err != nil {
		return rec, err
	}
	return rec, nil
}

// legacyThreadID tries the decimal numeral field first, then the alternate hex string field
func legacyThreadID(fragment object, path string) (string, error) {
	numeral, ok, err := fragment.numeral(keyLegacyNum, path)
	if err != nil {
		return "", err
	}
	if ok {
		id, err := LegacyIDFromNumeral(numeral)
		if err != nil {
			return "", shapeErr(path+"."+keyLegacyNum, "%v", err)
		}
		return id, nil
	}
	return fragment.optStr(keyLegacyHex, path)
}

func decodeMessages(rawMsgs []json.RawMessage, path string) ([]MessageData, error) {
	msgs := make([]MessageData, 0, len(rawMsgs))
	for j, raw := range rawMsgs {
		mpath := fmt.Sprintf("%s[%d]", path, j)
		m, err := parseObject(raw, mpath)
		if err != nil {
			return nil, err
		}
		md, err := decodeMessage(m, mpath)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, md)
	}
	return msgs, nil
}

func decodeMessage(m object, path string) (MessageData, error) {
	var md MessageData
	var err error
	if md.ProtocolMessageID, err = m.str(keyMsgID, path); err != nil {
		return md, err
	}
	if md.TimestampMs, err = m.millis(keyMsgDate, path); err != nil {
		return md, err
	}
	if md.LegacyMessageID, err = legacyMessageID(m, path); err != nil {
		return md, err
	}
	rawRcpts, err := m.optArray(keyMsgRcpts, path)
	if err != nil {
		return md, err
	}
	for k, raw := range rawRcpts {
		rpath := fmt.Sprintf("%s.%s[%d]", path, keyMsgRcpts, k)
		r, err := parseObject(raw, rpath)
		if err != nil {
			return md, err
		}
		addr, err := r.str(keyRcptAddress, rpath)
		if err != nil {
			return md, err
		}
		name, err := r.optStr(keyRcptName, rpath)
		if err != nil {
			return md, err
		}
		md.Recipients = append(md.Recipients, Recipient{Address: addr, Name: name})
	}
	return md, nil
}

// legacyMessageID: a JSON number is a decimal numeral to re-base, a string is already hex
func legacyMessageID(m object, path string) (string, error) {
	raw, ok := m[keyMsgLegacy]
	if !ok || isNull(raw) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	numeral, _, err := m.numeral(keyMsgLegacy, path)
	if err != nil {
		return "", err
	}
	id, err := LegacyIDFromNumeral(numeral)
	if err != nil {
		return "", shapeErr(path+"."+keyMsgLegacy, "%v", err)
	}
	return id, nil
}

// EncodeSearchResponse writes threads back into doc: each wrapper slot gets
// the thread's raw fragment with its index renumbered to its new position,
// and the extra-metadata array is rebuilt from the records. Other top-level
// fields pass through unchanged. When p.Total holds a known count the
// document's result-size estimate is set to it.
func EncodeSearchResponse(doc string, threads []ThreadRecord, p Pagination) (string, error) {
	top, err := parseDocument(doc)
	if err != nil {
		return "", err
	}

	wrappers := make([]json.RawMessage, 0, len(threads))
	extras := make([]json.RawMessage, 0, len(threads))
	for i, t := range threads {
		wrapper, err := wrapperFor(t)
		if err != nil {
			return "", fmt.Errorf("thread %d (%s): %w", i, t.ProtocolThreadID, err)
		}
		wrapper[keyWrapIndex] = json.RawMessage(strconv.Itoa(i))
		raw, err := marshal(wrapper)
		if err != nil {
			return "", fmt.Errorf("thread %d (%s): %w", i, t.ProtocolThreadID, err)
		}
		wrappers = append(wrappers, raw)

		extra, err := marshal(map[string]any{
			keyExtraSnip:   t.Extra.Snippet,
			keyExtraOther:  []any{},
			keyExtraMsgIDs: t.MessageIDs(),
		})
		if err != nil {
			return "", err
		}
		extras = append(extras, extra)
	}

	if top[keyThreads], err = marshal(wrappers); err != nil {
		return "", err
	}
	meta, err := top.optObject(keyMeta, "$")
	if err != nil {
		return "", err
	}
	if meta == nil {
		meta = object{}
	}
	if meta[keyMetaExtra], err = marshal(extras); err != nil {
		return "", err
	}
	if p.Total != nil && !p.Total.Many {
		meta[keyMetaTotal] = json.RawMessage(strconv.Itoa(p.Total.Count))
	}
	if top[keyMeta], err = marshal(meta); err != nil {
		return "", err
	}

	out, err := marshal(top)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// wrapperFor returns a mutable copy of the thread's wrapper, synthesizing one
// from the record's fields when it carries no raw fragment
func wrapperFor(t ThreadRecord) (object, error) {
	if !isNull(t.RawFragment) {
		return parseObject(t.RawFragment, "rawFragment")
	}
	if t.ProtocolThreadID == "" {
		return nil, shapeErr("rawFragment", "record has neither a raw fragment nor a protocol thread id")
	}
	msgs := make([]map[string]any, 0, len(t.Extra.Messages))
	for _, m := range t.Extra.Messages {
		entry := map[string]any{
			keyMsgID:   m.ProtocolMessageID,
			keyMsgDate: strconv.FormatInt(m.TimestampMs, 10),
		}
		if m.LegacyMessageID != "" {
			entry[keyMsgLegacy] = m.LegacyMessageID
		}
		if len(m.Recipients) > 0 {
			rcpts := make([]map[string]string, 0, len(m.Recipients))
			for _, r := range m.Recipients {
				rc := map[string]string{keyRcptAddress: r.Address}
				if r.Name != "" {
					rc[keyRcptName] = r.Name
				}
				rcpts = append(rcpts, rc)
			}
			entry[keyMsgRcpts] = rcpts
		}
		msgs = append(msgs, entry)
	}
	fragment := map[string]any{
		keySubject:  t.Subject,
		keySnippet:  t.Snippet,
		keyThreadID: t.ProtocolThreadID,
		keyMessages: msgs,
	}
	if t.LegacyThreadID != "" {
		fragment[keyLegacyHex] = t.LegacyThreadID
	}
	raw, err := marshal(fragment)
	if err != nil {
		return nil, err
	}
	return object{keyWrapThread: raw}, nil
}

// PatchTimestamps returns a copy of t whose every message date, in the
// normalized record and in the raw fragment's message summaries and full
// message descriptors, is set to ms
func PatchTimestamps(t ThreadRecord, ms int64) (ThreadRecord, error) {
	out := t
	out.Extra.Messages = make([]MessageData, len(t.Extra.Messages))
	for i, m := range t.Extra.Messages {
		m.TimestampMs = ms
		out.Extra.Messages[i] = m
	}
	if isNull(t.RawFragment) {
		return out, nil
	}

	wrapper, err := parseObject(t.RawFragment, "rawFragment")
	if err != nil {
		return t, err
	}
	fragment, err := wrapper.optObject(keyWrapThread, "rawFragment")
	if err != nil {
		return t, err
	}
	if fragment == nil {
		return out, nil
	}
	date := json.RawMessage(strconv.Quote(strconv.FormatInt(ms, 10)))
	for _, key := range []string{keyMessages, keyFullMsgs} {
		patched, err := patchDates(fragment, key, date)
		if err != nil {
			return t, err
		}
		if patched != nil {
			fragment[key] = patched
		}
	}
	if wrapper[keyWrapThread], err = marshal(fragment); err != nil {
		return t, err
	}
	if out.RawFragment, err = marshal(wrapper); err != nil {
		return t, err
	}
	return out, nil
}

func patchDates(fragment object, key string, date json.RawMessage) (json.RawMessage, error) {
	rawMsgs, err := fragment.optArray(key, "rawFragment.1")
	if err != nil || rawMsgs == nil {
		return nil, err
	}
	for j, raw := range rawMsgs {
		m, err := parseObject(raw, fmt.Sprintf("rawFragment.1.%s[%d]", key, j))
		if err != nil {
			return nil, err
		}
		m[keyMsgDate] = date
		if rawMsgs[j], err = marshal(m); err != nil {
			return nil, err
		}
	}
	return marshal(rawMsgs)
}
