package model

import "context"

// Geocoder resolves a free-form location string to coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, location string) (GeoPoint, error)
}

// RunLedger persists pipeline run history and failure detail.
type RunLedger interface {
	Init(ctx context.Context) error
	RecordRun(ctx context.Context, run RunRecord, failures []FailureRecord) error
	LastRun(ctx context.Context) (RunRecord, bool, error)
	Close() error
}
