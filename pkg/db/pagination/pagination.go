package pagination

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

type Cursor struct {
	ID        string `json:"id,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

type PageInfo struct {
	NextPageToken     string `json:"next_page_token"`
	PreviousPageToken string `json:"previous_page_token"`
	HasMore           bool   `json:"has_more"`
}

func EncodeCursor(data Cursor) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(b), nil
}

func DecodeCursor(data string) (*Cursor, error) {
	b, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, err
	}

	var cursor Cursor
	if err := json.Unmarshal(b, &cursor); err != nil {
		return nil, err
	}

	return &cursor, nil
}

// CreatedAtCursor encodes a row position as a createdAt-keyed cursor.
func CreatedAtCursor(id string, createdAt time.Time) string {
	token, err := EncodeCursor(Cursor{ID: id, CreatedAt: createdAt.UTC().Format(time.RFC3339Nano)})
	if err != nil {
		return ""
	}
	return token
}

// DecodeCreatedAt returns the row id and createdAt carried by a cursor token.
func DecodeCreatedAt(token string) (string, time.Time, error) {
	cursor, err := DecodeCursor(token)
	if err != nil {
		return "", time.Time{}, err
	}
	createdAt, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
	if err != nil {
		return "", time.Time{}, err
	}
	return cursor.ID, createdAt, nil
}

// BuildCursorPageInfo trims data to limit and derives the page tokens from
// the first and last remaining rows. The returned slice is the visible page.
func BuildCursorPageInfo[T any](data []*T, limit int32, extractCursor func(*T) string) ([]*T, *PageInfo) {
	if len(data) == 0 {
		return data, &PageInfo{HasMore: false}
	}

	hasMore := false
	if len(data) > int(limit) {
		hasMore = true
		data = data[:limit]
	}

	pageInfo := &PageInfo{
		HasMore:           hasMore,
		NextPageToken:     extractCursor(data[len(data)-1]),
		PreviousPageToken: extractCursor(data[0]),
	}

	return data, pageInfo
}
