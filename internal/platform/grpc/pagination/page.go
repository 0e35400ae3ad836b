// Package pagination normalizes page sizes and page tokens for list RPCs.
package pagination

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// PageSizeConfig configures page size normalization.
type PageSizeConfig struct {
	Default int
	Max     int
}

// ClampPageSize applies defaults and limits for page sizes.
func ClampPageSize(value int32, cfg PageSizeConfig) int {
	pageSize := int(value)
	if pageSize <= 0 {
		pageSize = cfg.Default
	}
	if cfg.Max > 0 && pageSize > cfg.Max {
		pageSize = cfg.Max
	}
	if pageSize <= 0 {
		pageSize = 1
	}
	return pageSize
}

// EncodeOffset turns a list offset into an opaque page token. Offsets at or
// below zero encode to the empty token.
func EncodeOffset(offset int) string {
	if offset <= 0 {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString([]byte("offset:" + strconv.Itoa(offset)))
}

// DecodeOffset reads a page token produced by EncodeOffset. The empty token
// is offset zero.
func DecodeOffset(token string) (int, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return 0, fmt.Errorf("invalid page_token: %w", err)
	}
	value, ok := strings.CutPrefix(string(raw), "offset:")
	if !ok {
		return 0, fmt.Errorf("invalid page_token: %q", token)
	}
	offset, err := strconv.Atoi(value)
	if err != nil || offset < 0 {
		return 0, fmt.Errorf("invalid page_token: %q", token)
	}
	return offset, nil
}

// Page slices items by a page token and size. It returns the page and the
// token of the next page, empty when the page reaches the end.
func Page[T any](items []T, token string, size int) ([]T, string, error) {
	offset, err := DecodeOffset(token)
	if err != nil {
		return nil, "", err
	}
	if offset >= len(items) {
		return []T{}, "", nil
	}
	end := offset + size
	if size <= 0 || end >= len(items) {
		return items[offset:], "", nil
	}
	return items[offset:end], EncodeOffset(end), nil
}
