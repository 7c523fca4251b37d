package hostproto

import "fmt"

// MalformedDocumentError means the input is not a JSON document of any known shape
type MalformedDocumentError struct {
	Err error
}

func (e *MalformedDocumentError) Error() string {
	return fmt.Sprintf("malformed host document: %v", e.Err)
}

func (e *MalformedDocumentError) Unwrap() error { return e.Err }

// ProtocolShapeError means the document shape was recognized but a required
// positional field is missing or has the wrong type
type ProtocolShapeError struct {
	Path   string
	Reason string
}

func (e *ProtocolShapeError) Error() string {
	return fmt.Sprintf("protocol shape mismatch at %s: %s", e.Path, e.Reason)
}

func shapeErr(path, format string, args ...any) error {
	return &ProtocolShapeError{Path: path, Reason: fmt.Sprintf(format, args...)}
}
