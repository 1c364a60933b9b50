package interfaces

import (
	"context"

	"github.com/mailbridge/mailbridge/internal/enum"
	"github.com/mailbridge/mailbridge/internal/models"
	"github.com/mailbridge/mailbridge/internal/query"
)

// FlagUpdate describes a mutation applied to a remote message. A nil
// IsRead leaves read state untouched. Label changes are expressed as
// deltas; true-folder backends interpret a single AddLabels entry as
// the move target.
type FlagUpdate struct {
	IsRead       *bool
	AddLabels    []string
	RemoveLabels []string
}

// IDIterator yields message ids lazily. Next returns io.EOF when the
// result set is exhausted. Iterators are single-use and not restartable.
type IDIterator interface {
	Next(ctx context.Context) (string, error)
	Close() error
}

// MailboxAdapter is the provider-neutral contract every mail backend
// implements. Message ids are opaque and stable for the lifetime of the
// message on its backend. Errors are mapped onto the errs sentinels so
// callers never see provider-specific failures.
type MailboxAdapter interface {
	Provider() enum.EmailProvider

	// Folders lists the folders/labels visible on the backend,
	// normalized to the well-known folder namespace where possible.
	Folders(ctx context.Context) ([]models.Folder, error)

	// ListIDs pages through message ids in a folder, newest first.
	// An empty pageToken starts from the top; an empty nextToken in
	// the response means the listing is complete.
	ListIDs(ctx context.Context, folder string, pageToken string, limit int) (ids []string, nextToken string, err error)

	// Fetch retrieves the full message: envelope, flags, bodies and
	// attachment metadata. Returns errs.ErrNotFound for ids that no
	// longer exist remotely.
	Fetch(ctx context.Context, id string) (*models.Message, error)

	// Search evaluates a parsed query remotely and yields matching ids.
	// An empty folder searches the whole mailbox (minus trash and
	// spam); otherwise hits are scoped to that folder. Backends that
	// cannot express a query term return errs.ErrUnsupportedQuery.
	Search(ctx context.Context, q *query.Query, folder string) (IDIterator, error)

	// SetFlags applies read-state and label/folder changes remotely.
	SetFlags(ctx context.Context, id string, update FlagUpdate) error

	// Delete moves the message to the backend's trash.
	Delete(ctx context.Context, id string) error

	// FetchAttachment retrieves attachment content by its metadata.
	FetchAttachment(ctx context.Context, messageID string, attachment *models.Attachment) ([]byte, error)
}

// TokenProvider supplies a live credential for backends that
// authenticate per-request. Implementations refresh expired tokens and
// return errs.ErrAuthExpired when re-authorization is required.
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
}
