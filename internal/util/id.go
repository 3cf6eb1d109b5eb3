package util

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// Slugify lowercases the name and collapses every non-alphanumeric run
// into a single dash.
func Slugify(name string) string {
	slug := make([]rune, 0, len(name))
	lastDash := false
	for _, ch := range strings.ToLower(strings.TrimSpace(name)) {
		if (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') {
			slug = append(slug, ch)
			lastDash = false
			continue
		}
		if !lastDash {
			slug = append(slug, '-')
			lastDash = true
		}
	}
	return strings.Trim(string(slug), "-")
}

// SlugWithSuffix derives a URL-safe slug from name and appends a random
// 6-character suffix so slugs stay unique without coordination.
func SlugWithSuffix(name, fallback string) string {
	base := Slugify(name)
	if base == "" {
		base = fallback
	}
	bytes := make([]byte, 3)
	_, _ = rand.Read(bytes)
	return base + "-" + hex.EncodeToString(bytes)
}
