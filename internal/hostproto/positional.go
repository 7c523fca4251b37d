package hostproto

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// object is one positional JSON object: keys are small integer strings
type object map[string]json.RawMessage

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func parseObject(raw json.RawMessage, path string) (object, error) {
	if isNull(raw) {
		return nil, shapeErr(path, "expected object, got null")
	}
	var o object
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, shapeErr(path, "expected object: %v", err)
	}
	if o == nil {
		o = object{}
	}
	return o, nil
}

func parseArray(raw json.RawMessage, path string) ([]json.RawMessage, error) {
	if isNull(raw) {
		return nil, nil
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil {
		return nil, shapeErr(path, "expected array: %v", err)
	}
	return arr, nil
}

func (o object) has(key string) bool {
	raw, ok := o[key]
	return ok && !isNull(raw)
}

func (o object) str(key, path string) (string, error) {
	raw, ok := o[key]
	if !ok || isNull(raw) {
		return "", shapeErr(path+"."+key, "required string missing")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", shapeErr(path+"."+key, "expected string: %v", err)
	}
	return s, nil
}

func (o object) optStr(key, path string) (string, error) {
	if !o.has(key) {
		return "", nil
	}
	return o.str(key, path)
}

func (o object) optArray(key, path string) ([]json.RawMessage, error) {
	if !o.has(key) {
		return nil, nil
	}
	return parseArray(o[key], path+"."+key)
}

func (o object) optObject(key, path string) (object, error) {
	if !o.has(key) {
		return nil, nil
	}
	return parseObject(o[key], path+"."+key)
}

// numeral reads a field the host encodes either as a JSON number or as a
// numeric string. The literal digits are returned untouched.
func (o object) numeral(key, path string) (string, bool, error) {
	raw, ok := o[key]
	if !ok || isNull(raw) {
		return "", false, nil
	}
	raw = bytes.TrimSpace(raw)
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false, shapeErr(path+"."+key, "expected numeral: %v", err)
		}
		if s == "" {
			return "", false, nil
		}
		return s, true, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", false, shapeErr(path+"."+key, "expected numeral: %v", err)
	}
	return n.String(), true, nil
}

func (o object) millis(key, path string) (int64, error) {
	s, ok, err := o.numeral(key, path)
	if err != nil || !ok {
		return 0, err
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return 0, shapeErr(path+"."+key, "timestamp %q is not a number", s)
		}
		ms = int64(f)
	}
	return ms, nil
}

// canonical re-serializes a JSON value with sorted object keys and without
// HTML escaping, so two encodings of the same value compare byte-equal.
func canonical(raw json.RawMessage) (json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return marshal(v)
}

func marshal(v any) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return json.RawMessage(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
