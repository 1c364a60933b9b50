package gmailbox

import (
	"github.com/pkg/errors"
	"google.golang.org/api/googleapi"

	"github.com/mailbridge/mailbridge/internal/errs"
)

// mapGoogleError folds googleapi failures into the provider-neutral
// taxonomy so callers never branch on HTTP status codes.
func mapGoogleError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return errs.AsTransientIO(err)
	}

	switch {
	case apiErr.Code == 404:
		return errors.Wrap(errs.ErrNotFound, apiErr.Message)
	case apiErr.Code == 401:
		return errors.Wrap(errs.ErrAuthExpired, apiErr.Message)
	case apiErr.Code == 429:
		return errors.Wrap(errs.ErrRateLimited, apiErr.Message)
	case apiErr.Code == 403 && isQuotaError(apiErr):
		return errors.Wrap(errs.ErrRateLimited, apiErr.Message)
	case apiErr.Code == 403:
		return errors.Wrap(errs.ErrAuthExpired, apiErr.Message)
	case apiErr.Code >= 500:
		return errors.Wrap(errs.ErrTransientIO, apiErr.Message)
	}
	return err
}

func isQuotaError(apiErr *googleapi.Error) bool {
	for _, e := range apiErr.Errors {
		switch e.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded":
			return true
		}
	}
	return false
}
