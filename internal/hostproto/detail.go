package hostproto

import (
	"fmt"
)

// Positional keys of the thread-detail response document
const (
	keyDetailThreads  = "2"
	keyDetailThreadID = "1"
	keyDetailFragment = "2"
	keyDetailFullMsgs = "3"
	keyDetailCompact  = "4"
	keyCompactID      = "1"
	keyCompactDate    = "2"
)

// DecodeThreadDetailResponse decodes the response the host returns when one
// thread is fetched by id. Each wrapper is classified once as full or
// minimal and decoded by the matching function. A document without the
// thread array is a ProtocolShapeError; an empty array is zero threads.
func DecodeThreadDetailResponse(doc string) ([]DetailThread, error) {
	top, err := parseDocument(doc)
	if err != nil {
		return nil, err
	}
	if _, ok := top[keyDetailThreads]; !ok {
		return nil, shapeErr("$."+keyDetailThreads, "thread array missing")
	}
	wrappers, err := parseArray(top[keyDetailThreads], "$."+keyDetailThreads)
	if err != nil {
		return nil, err
	}
	if wrappers == nil {
		return nil, shapeErr("$."+keyDetailThreads, "thread array is null")
	}

	out := make([]DetailThread, 0, len(wrappers))
	for i, rawWrapper := range wrappers {
		path := fmt.Sprintf("$.%s[%d]", keyDetailThreads, i)
		wrapper, err := parseObject(rawWrapper, path)
		if err != nil {
			return nil, err
		}
		format, err := classifyDetailWrapper(wrapper, path)
		if err != nil {
			return nil, err
		}
		switch format {
		case DetailFull:
			rec, err := decodeFullDetail(wrapper, path)
			if err != nil {
				return nil, err
			}
			if rec.RawFragment, err = canonical(rawWrapper); err != nil {
				return nil, &MalformedDocumentError{Err: err}
			}
			out = append(out, DetailThread{Format: DetailFull, Full: &rec})
		case DetailMinimal:
			rec, err := decodeMinimalDetail(wrapper, path)
			if err != nil {
				return nil, err
			}
			out = append(out, DetailThread{Format: DetailMinimal, Minimal: &rec})
		}
	}
	return out, nil
}

// classifyDetailWrapper sniffs which sub-format a wrapper uses: full
// wrappers carry a thread fragment plus an array of full message
// descriptors, minimal ones only the compact summary array
func classifyDetailWrapper(wrapper object, path string) (DetailFormat, error) {
	switch {
	case wrapper.has(keyDetailFragment) && wrapper.has(keyDetailFullMsgs):
		return DetailFull, nil
	case wrapper.has(keyDetailCompact) && !wrapper.has(keyDetailFullMsgs):
		return DetailMinimal, nil
	default:
		return 0, shapeErr(path, "wrapper matches neither the full nor the minimal thread format")
	}
}

func decodeFullDetail(wrapper object, path string) (ThreadRecord, error) {
	fpath := path + "." + keyDetailFragment
	fragment, err := parseObject(wrapper[keyDetailFragment], fpath)
	if err != nil {
		return ThreadRecord{}, err
	}
	// the wrapper id wins; older hosts only repeat it inside the fragment
	if wrapper.has(keyDetailThreadID) {
		id, err := wrapper.str(keyDetailThreadID, path)
		if err != nil {
			return ThreadRecord{}, err
		}
		if !fragment.has(keyThreadID) {
			fragment[keyThreadID], _ = marshal(id)
		}
	}
	rec, err := decodeThreadFragment(fragment, fpath)
	if err != nil {
		return ThreadRecord{}, err
	}
	if wrapper.has(keyDetailThreadID) {
		if rec.ProtocolThreadID, err = wrapper.str(keyDetailThreadID, path); err != nil {
			return ThreadRecord{}, err
		}
	}

	rawMsgs, err := parseArray(wrapper[keyDetailFullMsgs], path+"."+keyDetailFullMsgs)
	if err != nil {
		return ThreadRecord{}, err
	}
	if rec.Extra.Messages, err = decodeMessages(rawMsgs, path+"."+keyDetailFullMsgs); err != nil {
		return ThreadRecord{}, err
	}
	rec.Extra.Snippet = rec.Snippet
	return rec, nil
}

func decodeMinimalDetail(wrapper object, path string) (MinimalThreadRecord, error) {
	var rec MinimalThreadRecord
	var err error
	if rec.ProtocolThreadID, err = wrapper.str(keyDetailThreadID, path); err != nil {
		return rec, err
	}
	rawCompact, err := parseArray(wrapper[keyDetailCompact], path+"."+keyDetailCompact)
	if err != nil {
		return rec, err
	}
	rec.Messages = make([]MessageData, 0, len(rawCompact))
	for j, raw := range rawCompact {
		cpath := fmt.Sprintf("%s.%s[%d]", path, keyDetailCompact, j)
		c, err := parseObject(raw, cpath)
		if err != nil {
			return rec, err
		}
		var md MessageData
		if md.ProtocolMessageID, err = c.str(keyCompactID, cpath); err != nil {
			return rec, err
		}
		if md.TimestampMs, err = c.millis(keyCompactDate, cpath); err != nil {
			return rec, err
		}
		rec.Messages = append(rec.Messages, md)
	}
	return rec, nil
}
