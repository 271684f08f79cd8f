package metadata

import "context"

// Store is the document store behind the lifecycle manager. Find methods
// return nil without error when no record matches.
type Store interface {
	FindObjectByFile(ctx context.Context, fileID string) (*DigitalObject, error)
	FindObjectByIdentifier(ctx context.Context, identifier string) (*DigitalObject, error)
	ListObjectsByIdentifier(ctx context.Context, identifier string) ([]DigitalObject, error)
	InsertObject(ctx context.Context, obj *DigitalObject) error
	SetObjectEnabled(ctx context.Context, id string, enabled bool) error
	SetObjectFile(ctx context.Context, id, fileID string) error
	SetObjectIdentifier(ctx context.Context, id, identifier string) error
	DeleteObject(ctx context.Context, id string) error

	FindProvenance(ctx context.Context, identifier string) (*Provenance, error)
	InsertProvenance(ctx context.Context, prov *Provenance) error
	SetProvenanceEnabled(ctx context.Context, identifier string, enabled bool) error
	// RekeyProvenance moves provenance of fileID from one identifier to another.
	RekeyProvenance(ctx context.Context, fileID, from, to string) error

	// ListVersions returns the chain of identifier in no particular order.
	ListVersions(ctx context.Context, identifier string) ([]Version, error)
	InsertVersion(ctx context.Context, ver *Version) error
	SupersedeVersion(ctx context.Context, id, name, position string) error
	SetVersionsEnabled(ctx context.Context, identifier string, enabled bool) error
	// RekeyVersions moves versions naming fileID from one identifier to another.
	RekeyVersions(ctx context.Context, fileID, from, to string) error

	FindNetwork(ctx context.Context, code string) (*Network, error)
	UpsertNetwork(ctx context.Context, network Network) error

	ReplaceStreams(ctx context.Context, fileID string, streams []DailyStream) error
	ListStreams(ctx context.Context, fileID string) ([]DailyStream, error)
	DeleteStreams(ctx context.Context, fileID string) (int, error)

	Close() error
}

// Transactor is implemented by stores that can group writes atomically.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(Store) error) error
}
