package shared

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// shared message schema for the websocket login protocol
// every frame payload is one Message encoded as a tagged JSON object:
//   {"type":"LoginRequest","username":"alice"}
//   {"type":"LoginResponse","success":true}

type MessageType string

const (
	TypeLoginRequest  MessageType = "LoginRequest"
	TypeLoginResponse MessageType = "LoginResponse"
)

var (
	ErrMissingType        = errors.New("message type tag is missing")
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrMissingField       = errors.New("required field is missing")
	ErrInvalidUTF8        = errors.New("string is not valid UTF-8")
)

// Message is the closed set of variants carried over the wire.
// Only types in this package can implement it.
type Message interface {
	MessageType() MessageType
	isMessage()
}

// LoginRequest is sent by the client to authenticate a username.
type LoginRequest struct {
	Username string
}

// LoginResponse is the server's answer to a LoginRequest.
type LoginResponse struct {
	Success bool
}

func (*LoginRequest) MessageType() MessageType  { return TypeLoginRequest }
func (*LoginResponse) MessageType() MessageType { return TypeLoginResponse }

func (*LoginRequest) isMessage()  {}
func (*LoginResponse) isMessage() {}

// wire layouts: type tag first so the encoding is stable
type loginRequestWire struct {
	Type     MessageType `json:"type"`
	Username string      `json:"username"`
}

type loginResponseWire struct {
	Type    MessageType `json:"type"`
	Success bool        `json:"success"`
}

// Encode serializes a message into its compact tagged JSON form.
// Strings must be valid UTF-8 so that Decode returns the same value.
func Encode(msg Message) ([]byte, error) {
	var wire any
	switch m := msg.(type) {
	case *LoginRequest:
		if !utf8.ValidString(m.Username) {
			return nil, fmt.Errorf("failed to encode %s.username: %w", TypeLoginRequest, ErrInvalidUTF8)
		}
		wire = loginRequestWire{Type: TypeLoginRequest, Username: m.Username}
	case *LoginResponse:
		wire = loginResponseWire{Type: TypeLoginResponse, Success: m.Success}
	case nil:
		return nil, fmt.Errorf("failed to encode message: %w", ErrMissingType)
	default:
		return nil, fmt.Errorf("failed to encode %T: %w", msg, ErrUnknownMessageType)
	}

	// keep '<', '>' and '&' literal so decoded payloads re-encode byte for byte
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(wire); err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return unescapeLineTerminators(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}

// Decode parses a tagged JSON payload into its message variant.
// Keys are matched exactly. A well-formed object with an unrecognised tag
// returns ErrUnknownMessageType.
func Decode(data []byte) (Message, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("failed to decode message: %w", ErrInvalidUTF8)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}

	var msgType MessageType
	if ok, err := field(fields, "type", &msgType); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	} else if !ok {
		return nil, ErrMissingType
	}

	switch msgType {
	case TypeLoginRequest:
		var username string
		if ok, err := field(fields, "username", &username); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", msgType, err)
		} else if !ok {
			return nil, fmt.Errorf("%s.username: %w", msgType, ErrMissingField)
		}
		return &LoginRequest{Username: username}, nil
	case TypeLoginResponse:
		var success bool
		if ok, err := field(fields, "success", &success); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", msgType, err)
		} else if !ok {
			return nil, fmt.Errorf("%s.success: %w", msgType, ErrMissingField)
		}
		return &LoginResponse{Success: success}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, msgType)
	}
}

// field decodes fields[key] into target; absent or null reports false.
func field(fields map[string]json.RawMessage, key string, target any) (bool, error) {
	raw, ok := fields[key]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return false, nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return false, fmt.Errorf("field %q: %w", key, err)
	}
	return true, nil
}

// encoding/json always escapes U+2028 and U+2029; put them back as raw
// characters. An escaped backslash is copied as a pair so "\\u2028" stays text.
func unescapeLineTerminators(b []byte) []byte {
	if !bytes.Contains(b, []byte(`\u202`)) {
		return b
	}
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != '\\' {
			out = append(out, b[i])
			continue
		}
		switch {
		case bytes.HasPrefix(b[i:], []byte(`\u2028`)):
			out = append(out, "\u2028"...)
			i += 5
		case bytes.HasPrefix(b[i:], []byte(`\u2029`)):
			out = append(out, "\u2029"...)
			i += 5
		default:
			out = append(out, b[i])
			if i+1 < len(b) {
				out = append(out, b[i+1])
				i++
			}
		}
	}
	return out
}
