package email

import "context"

// Store is the document store holding emails. Every failure other than
// ErrNotFound is a *StorageError.
type Store interface {
	// InsertOrReplace stores e, assigning an ID when it has none
	InsertOrReplace(ctx context.Context, e *Email) error

	// FindByID returns ErrNotFound when no email has id
	FindByID(ctx context.Context, id string) (Email, error)

	// FindByIDs returns the emails that exist; unknown ids are skipped
	FindByIDs(ctx context.Context, ids []string) ([]Email, error)

	// List returns matching emails, newest first
	List(ctx context.Context, f Filter) ([]Email, error)

	// BulkUpdate applies every update in one round trip
	BulkUpdate(ctx context.Context, updates []Update) error

	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}
