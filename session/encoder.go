package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
)

const (
	// CurrentSchemaVersion is the version written by Encode.
	CurrentSchemaVersion = tokensFormatVersionV2

	tokensFormatVersionV2 = 2
	tokensFormatVersionV1 = 1
)

// ErrCorrupt reports a record that does not decode.
var ErrCorrupt = errors.New("session record corrupt")

// Encode serializes t in the current schema.
func Encode(t *Tokens) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(tokensFormatVersionV2)

	if err := writeLong(&buf, t.AccessToken); err != nil {
		return nil, errors.New("access token too long")
	}
	if err := writeLong(&buf, t.RefreshToken); err != nil {
		return nil, errors.New("refresh token too long")
	}

	if len(t.UserID) > 255 {
		return nil, errors.New("userID too long")
	}
	buf.WriteByte(byte(len(t.UserID)))
	buf.WriteString(t.UserID)

	if err := binary.Write(&buf, binary.BigEndian, t.ExpiresAt); err != nil {
		return nil, err
	}

	// v2
	if len(t.TokenType) > 255 {
		return nil, errors.New("token type too long")
	}
	buf.WriteByte(byte(len(t.TokenType)))
	buf.WriteString(t.TokenType)

	return buf.Bytes(), nil
}

// Decode parses a record written by any supported schema.
func Decode(data []byte) (*Tokens, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, ErrCorrupt
	}
	if version != tokensFormatVersionV2 && version != tokensFormatVersionV1 {
		return nil, errors.New("invalid session version")
	}

	t := &Tokens{SchemaVersion: version}
	if t.AccessToken, err = readLong(reader); err != nil {
		return nil, ErrCorrupt
	}
	if t.RefreshToken, err = readLong(reader); err != nil {
		return nil, ErrCorrupt
	}

	userLen, err := reader.ReadByte()
	if err != nil {
		return nil, ErrCorrupt
	}
	userID := make([]byte, userLen)
	if _, err := io.ReadFull(reader, userID); err != nil {
		return nil, ErrCorrupt
	}
	t.UserID = string(userID)

	if err := binary.Read(reader, binary.BigEndian, &t.ExpiresAt); err != nil {
		return nil, ErrCorrupt
	}

	if version == tokensFormatVersionV2 {
		typeLen, err := reader.ReadByte()
		if err != nil {
			return nil, ErrCorrupt
		}
		tokenType := make([]byte, typeLen)
		if _, err := io.ReadFull(reader, tokenType); err != nil {
			return nil, ErrCorrupt
		}
		t.TokenType = string(tokenType)
	} else {
		t.TokenType = "bearer"
	}

	return t, nil
}

func writeLong(buf *bytes.Buffer, s string) error {
	if len(s) > math.MaxUint16 {
		return errors.New("field too long")
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	buf.WriteString(s)
	return nil
}

func readLong(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
