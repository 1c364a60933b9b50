package imapbox

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/mailbridge/mailbridge/internal/errs"
)

// mapIMAPError folds go-imap failures into the provider-neutral
// taxonomy. The library reports most failures as plain strings, so
// classification is by message.
func mapIMAPError(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "authentication"),
		strings.Contains(msg, "invalid credentials"),
		strings.Contains(msg, "login failed"):
		return errors.Wrap(errs.ErrAuthExpired, err.Error())
	case strings.Contains(msg, "no such mailbox"),
		strings.Contains(msg, "nonexistent"):
		return errors.Wrap(errs.ErrNotFound, err.Error())
	}
	return errs.AsTransientIO(err)
}
