// Package qid derives stable identifiers for questions that arrive from a
// bank file without an explicit id. The id is a content hash, so re-ingesting
// an unchanged question maps to the same card history.
package qid

import (
	"crypto/sha256"
	"fmt"
	"strconv"
	"strings"

	"github.com/tedlu-tw/learnwise-demo/internal/domain"
)

// Normalize concatenates the question's identifying content after cleaning
// each part. It trims whitespace, lowercases, and normalizes line endings so
// that formatting-only edits do not change the identity.
func Normalize(q domain.Question) string {
	normalizePart := func(part string) string {
		p := strings.ToLower(part)
		p = strings.TrimSpace(p)
		p = strings.ReplaceAll(p, "\r\n", "\n")
		return p
	}

	parts := make([]string, 0, len(q.Options)+2)
	parts = append(parts, normalizePart(q.Text))
	for _, opt := range q.Options {
		parts = append(parts, normalizePart(opt))
	}
	correct := make([]string, len(q.CorrectIndices))
	for i, idx := range q.CorrectIndices {
		correct[i] = strconv.Itoa(idx)
	}
	parts = append(parts, strings.Join(correct, ","))

	// Joined with newlines to keep fields separated; otherwise "option a"
	// followed by "b" would collide with "option" followed by "ab".
	return strings.Join(parts, "\n")
}

// Hash returns the SHA-256 of the normalized question as a hex string.
func Hash(q domain.Question) string {
	normalized := Normalize(q)
	hashBytes := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("%x", hashBytes)
}
