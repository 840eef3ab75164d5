package repositories

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/salles-management/api/internal/platform/pagination"
)

// EncodeOrderCursor produces the page token pointing after lastID within the filtered listing.
func EncodeOrderCursor(filter OrderListFilter, lastID string) (string, error) {
	return pagination.EncodeToken(pagination.Cursor{After: lastID, Scope: orderListScope(filter)})
}

// DecodeOrderCursor returns the order id the token points after. Tokens issued for a different
// filter are rejected with pagination.ErrInvalidPageToken.
func DecodeOrderCursor(filter OrderListFilter, token string) (string, error) {
	cursor, err := pagination.DecodeScopedToken(token, orderListScope(filter))
	if err != nil {
		return "", err
	}
	return cursor.After, nil
}

// orderListScope digests the filter so tokens stay opaque and never carry customer ids.
func orderListScope(filter OrderListFilter) string {
	statuses := make([]string, 0, len(filter.Statuses))
	for _, status := range filter.Statuses {
		statuses = append(statuses, string(status))
	}
	sort.Strings(statuses)

	key := strings.Join([]string{
		filter.CustomerID,
		filter.ActorID,
		string(filter.SaleType),
		strings.Join(statuses, ","),
	}, "|")
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}

// NormalizePageSize clamps page sizes to the supported window.
func NormalizePageSize(size int) int {
	switch {
	case size <= 0:
		return pagination.DefaultPageSize
	case size > pagination.DefaultMaxPageSize:
		return pagination.DefaultMaxPageSize
	default:
		return size
	}
}
