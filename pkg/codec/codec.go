// Package codec implements the bidirectional mapping between
// structured message payloads and the opaque byte sequences carried
// on the bus, plus the small set of header-value helpers (int32 big
// endian, UTF-8 string) used throughout the transport layer.
package codec

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// Error is raised on encode or decode failure. Encode failures carry
// the Go type name that could not be marshaled; decode failures carry
// the number of bytes that could not be unmarshaled.
type Error struct {
	Op    string // "encode" or "decode"
	Type  string // populated on encode failure
	Bytes int    // populated on decode failure
	Err   error
}

func (e *Error) Error() string {
	switch e.Op {
	case "encode":
		return fmt.Sprintf("codec: encode %s: %v", e.Type, e.Err)
	default:
		return fmt.Sprintf("codec: decode %d bytes: %v", e.Bytes, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Encode marshals v into its wire representation. decode(encode(x)) == x
// for any value that round-trips through the same concrete type.
func Encode(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, &Error{Op: "encode", Type: fmt.Sprintf("%T", v), Err: err}
	}
	return b, nil
}

// Decode unmarshals b into the value pointed to by out.
func Decode(b []byte, out interface{}) error {
	if err := json.Unmarshal(b, out); err != nil {
		return &Error{Op: "decode", Bytes: len(b), Err: err}
	}
	return nil
}

// DecodeRaw unmarshals b into a generic map, for cases where the
// concrete schema type is not yet known (e.g. before schema-key
// derivation).
func DecodeRaw(b []byte) (map[string]interface{}, error) {
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, &Error{Op: "decode", Bytes: len(b), Err: err}
	}
	return m, nil
}

// Int32BEToBytes encodes n as a 4-byte big-endian header value.
func Int32BEToBytes(n int32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(n))
	return b
}

// BytesToInt32BE decodes a 4-byte big-endian header value. It returns
// an error tagging the byte count if b is not exactly 4 bytes.
func BytesToInt32BE(b []byte) (int32, error) {
	if len(b) != 4 {
		return 0, &Error{Op: "decode", Bytes: len(b), Err: fmt.Errorf("int32_be header must be 4 bytes")}
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

// StringToBytes encodes s as UTF-8 header bytes.
func StringToBytes(s string) []byte {
	return []byte(s)
}

// BytesToString decodes UTF-8 header bytes.
func BytesToString(b []byte) string {
	return string(b)
}
