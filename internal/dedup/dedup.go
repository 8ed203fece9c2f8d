// Package dedup classifies report rows as unique or duplicate by content
// fingerprint.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	lineagedomain "github.com/smallbiznis/primerouter/internal/lineage/domain"
)

// Lookup answers whether a fingerprint was recorded by an earlier submission.
type Lookup interface {
	IsDuplicateItem(ctx context.Context, itemHash string) (bool, error)
}

// Row is one item of a report. Index is 1-based.
type Row struct {
	Index      int
	TrackingID string
	Fields     map[string]string
}

// Item is the fingerprint of a row that was not a duplicate.
type Item struct {
	Index      int
	TrackingID string
	Hash       string
}

type Result struct {
	Unique     []Item
	Duplicates []int
}

// AllDuplicates is true when every row of a non-empty batch repeated.
func (r Result) AllDuplicates() bool {
	return len(r.Duplicates) > 0 && len(r.Unique) == 0
}

// Fingerprint hashes the canonical JSON form of a row, so field order and
// map iteration never change the result. Keys and values are base64 encoded
// first: json.Marshal rewrites invalid UTF-8 to U+FFFD, which would merge
// rows that differ only in non-UTF-8 bytes.
func Fingerprint(fields map[string]string) (string, error) {
	encoded := make(map[string]string, len(fields))
	for k, v := range fields {
		encoded[base64.StdEncoding.EncodeToString([]byte(k))] = base64.StdEncoding.EncodeToString([]byte(v))
	}
	raw, err := json.Marshal(encoded)
	if err != nil {
		return "", fmt.Errorf("marshal row: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize row: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Check fingerprints rows against the batch seen so far and the lookup, then
// records the outcome on logger:
//   - every row duplicate: one report-level error, fatal
//   - some rows duplicate: one item-level error per duplicate, non-fatal
//   - none: nothing
func Check(ctx context.Context, lookup Lookup, rows []Row, payloadName string, logger *lineagedomain.ActionLogger) (Result, error) {
	var result Result
	seen := make(map[string]struct{}, len(rows))

	for _, row := range rows {
		hash, err := Fingerprint(row.Fields)
		if err != nil {
			return Result{}, err
		}

		_, inBatch := seen[hash]
		duplicate := inBatch
		if !duplicate {
			historical, err := lookup.IsDuplicateItem(ctx, hash)
			if err != nil {
				return Result{}, err
			}
			duplicate = historical
		}

		if duplicate {
			result.Duplicates = append(result.Duplicates, row.Index)
			continue
		}
		seen[hash] = struct{}{}
		result.Unique = append(result.Unique, Item{Index: row.Index, TrackingID: row.TrackingID, Hash: hash})
	}

	if logger == nil || len(result.Duplicates) == 0 {
		return result, nil
	}
	if result.AllDuplicates() {
		logger.Error(lineagedomain.LogDetail{
			Kind:    lineagedomain.KindDuplicateSubmission,
			Message: duplicateSubmissionMessage(payloadName),
		})
		return result, nil
	}

	tracking := make(map[int]string, len(rows))
	for _, row := range rows {
		tracking[row.Index] = row.TrackingID
	}
	for _, index := range result.Duplicates {
		logger.ItemError(index, tracking[index], lineagedomain.LogDetail{
			Kind:    lineagedomain.KindDuplicateItem,
			Message: "Duplicate message was detected and removed.",
		})
	}
	return result, nil
}

func duplicateSubmissionMessage(payloadName string) string {
	if payloadName == "" {
		return "Duplicate submission detected."
	}
	return fmt.Sprintf("Duplicate submission detected: %s.", payloadName)
}
