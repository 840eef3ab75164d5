package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Cursor is the keyset position carried by a page token. After is the id of the last item served;
// Scope identifies the listing the token was issued for.
type Cursor struct {
	After string `json:"a"`
	Scope string `json:"s,omitempty"`
}

// EncodeToken serialises the cursor into a URL-safe page token. A cursor without a position
// encodes to the empty token.
func EncodeToken(cursor Cursor) (string, error) {
	if cursor.After == "" {
		return "", nil
	}
	data, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeToken parses a token produced by EncodeToken.
func DecodeToken(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var cursor Cursor
	if err := json.Unmarshal(decoded, &cursor); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	if cursor.After == "" {
		return Cursor{}, fmt.Errorf("%w: missing position", ErrInvalidPageToken)
	}
	return cursor, nil
}

// DecodeScopedToken decodes the token and rejects it when it was issued for another listing.
func DecodeScopedToken(token, scope string) (Cursor, error) {
	cursor, err := DecodeToken(token)
	if err != nil {
		return Cursor{}, err
	}
	if cursor.After != "" && cursor.Scope != scope {
		return Cursor{}, fmt.Errorf("%w: token belongs to another listing", ErrInvalidPageToken)
	}
	return cursor, nil
}
