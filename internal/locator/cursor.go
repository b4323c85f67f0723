package locator

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
)

// Cursor is a position in the control plane's (updated_at, id) ordering.
// A nil ID is the sentinel that marks the end of pagination.
type Cursor struct {
	UpdatedAt int64
	ID        *string
}

// SentinelCursor returns the end-of-pages cursor at the given timestamp.
func SentinelCursor(updatedAt int64) Cursor {
	return Cursor{UpdatedAt: updatedAt}
}

func (c Cursor) IsSentinel() bool { return c.ID == nil }

func (c Cursor) Equal(o Cursor) bool {
	if c.UpdatedAt != o.UpdatedAt {
		return false
	}
	if c.ID == nil || o.ID == nil {
		return c.ID == nil && o.ID == nil
	}
	return *c.ID == *o.ID
}

func (c Cursor) String() string {
	if c.ID == nil {
		return fmt.Sprintf("cursor(%d, <end>)", c.UpdatedAt)
	}
	return fmt.Sprintf("cursor(%d, %q)", c.UpdatedAt, *c.ID)
}

type cursorWire struct {
	UpdatedAt int64   `json:"updated_at"`
	ID        *string `json:"id"`
}

// Encode returns the opaque token sent as the `cursor` query parameter.
func (c Cursor) Encode() string {
	b, _ := json.Marshal(cursorWire{UpdatedAt: c.UpdatedAt, ID: c.ID})
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeCursor parses a token produced by Encode or by the control plane.
// Older control plane revisions used "org_id" instead of "id" and numeric
// ids; both are accepted.
func DecodeCursor(token string) (Cursor, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		var urlErr error
		raw, urlErr = base64.URLEncoding.DecodeString(token)
		if urlErr != nil {
			return Cursor{}, fmt.Errorf("%w: cursor is not base64: %v", ErrMalformedResponse, err)
		}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Cursor{}, fmt.Errorf("%w: cursor is not a json object: %v", ErrMalformedResponse, err)
	}

	var c Cursor
	ts, ok := fields["updated_at"]
	if !ok {
		return Cursor{}, fmt.Errorf("%w: cursor has no updated_at", ErrMalformedResponse)
	}
	if err := json.Unmarshal(ts, &c.UpdatedAt); err != nil {
		return Cursor{}, fmt.Errorf("%w: cursor updated_at: %v", ErrMalformedResponse, err)
	}

	idRaw, ok := fields["id"]
	if !ok {
		idRaw = fields["org_id"]
	}
	id, err := decodeIdentifier(idRaw)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: cursor id: %v", ErrMalformedResponse, err)
	}
	c.ID = id
	return c, nil
}

// decodeIdentifier turns a JSON string, number or null into an identifier.
// An absent or null value yields nil.
func decodeIdentifier(raw json.RawMessage) (*string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return &s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, err
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return nil, fmt.Errorf("identifier %s is not an integer", n)
	}
	s := n.String()
	return &s, nil
}
