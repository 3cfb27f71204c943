package domain

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// PaginationOptions defines limit/offset parameters for filtered finds
type PaginationOptions struct {
	Limit    int `json:"limit,omitempty"`
	Offset   int `json:"offset,omitempty"`
	MaxLimit int `json:"max_limit,omitempty"` // Maximum allowed limit
}

// PaginationResult contains a page of filtered documents
type PaginationResult struct {
	Documents []Document `json:"documents"`
	HasNext   bool       `json:"has_next"`
	HasPrev   bool       `json:"has_prev"`
	Total     int64      `json:"total"`
}

// DocumentPage is one page of an id-ordered collection scan
type DocumentPage struct {
	Documents  []Document `json:"documents"`
	NextCursor string     `json:"next_cursor,omitempty"`
	HasNext    bool       `json:"has_next"`
}

// Cursor represents a position in an id-ordered scan
type Cursor struct {
	ID string `json:"id"`
}

// EncodeCursor encodes a cursor to base64
func EncodeCursor(cursor *Cursor) (string, error) {
	data, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("failed to marshal cursor: %w", err)
	}
	return base64.URLEncoding.EncodeToString(data), nil
}

// DecodeCursor decodes a base64 cursor. An empty string decodes to the start of the collection.
func DecodeCursor(encoded string) (*Cursor, error) {
	if encoded == "" {
		return &Cursor{}, nil
	}
	data, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode cursor: %w", err)
	}

	var cursor Cursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cursor: %w", err)
	}

	return &cursor, nil
}

// DefaultPaginationOptions returns default pagination settings
func DefaultPaginationOptions() *PaginationOptions {
	return &PaginationOptions{
		Limit:    50,
		MaxLimit: 1000,
	}
}

// Validate validates pagination options
func (po *PaginationOptions) Validate() error {
	if po.Limit < 0 {
		return fmt.Errorf("limit cannot be negative: %w", ErrInvalidArgument)
	}
	if po.Offset < 0 {
		return fmt.Errorf("offset cannot be negative: %w", ErrInvalidArgument)
	}
	if po.MaxLimit > 0 && po.Limit > po.MaxLimit {
		return fmt.Errorf("limit %d exceeds maximum %d: %w", po.Limit, po.MaxLimit, ErrInvalidArgument)
	}
	return nil
}
