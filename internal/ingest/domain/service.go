package domain

import "context"

type Service interface {
	// Ingest validates, deduplicates and persists a submission, then routes it
	// inline or queues it for processing. A rejected submission returns
	// *ValidationError.
	Ingest(ctx context.Context, req Request) (*Result, error)
}
