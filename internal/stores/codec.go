package stores

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
)

const recordVersion1 byte = 1

var errCorruptRecord = errors.New("corrupt record")

// recordHeader is the fixed prefix shared by code and token records.
type recordHeader struct {
	State     State
	IssuedAt  int64
	ExpiresAt int64
}

func writeHeader(buf *bytes.Buffer, h recordHeader) error {
	buf.WriteByte(recordVersion1)
	buf.WriteByte(byte(h.State))
	if err := binary.Write(buf, binary.BigEndian, h.IssuedAt); err != nil {
		return err
	}
	return binary.Write(buf, binary.BigEndian, h.ExpiresAt)
}

func readHeader(r *bytes.Reader) (recordHeader, error) {
	var h recordHeader
	version, err := r.ReadByte()
	if err != nil || version != recordVersion1 {
		return h, errCorruptRecord
	}
	state, err := r.ReadByte()
	if err != nil {
		return h, errCorruptRecord
	}
	h.State = State(state)
	if h.State < StateIssued || h.State > StateRevoked {
		return h, errCorruptRecord
	}
	if err := binary.Read(r, binary.BigEndian, &h.IssuedAt); err != nil {
		return h, errCorruptRecord
	}
	if err := binary.Read(r, binary.BigEndian, &h.ExpiresAt); err != nil {
		return h, errCorruptRecord
	}
	return h, nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > 65535 {
		return errors.New("record field length exceeded")
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	buf.WriteString(s)
	return nil
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", errCorruptRecord
	}
	if int(n) > r.Len() {
		return "", errCorruptRecord
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil && n > 0 {
		return "", errCorruptRecord
	}
	return string(b), nil
}

// Scopes travel as a single space-delimited field, the same shape as the
// OAuth scope parameter.
func writeScope(buf *bytes.Buffer, scope []string) error {
	return writeString(buf, strings.Join(scope, " "))
}

func readScope(r *bytes.Reader) ([]string, error) {
	s, err := readString(r)
	if err != nil {
		return nil, err
	}
	return strings.Fields(s), nil
}
