package imapbox

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mailbridge/mailbridge/internal/errs"
)

// IMAP has no server-wide message id, so ids are composite:
// "<mailbox>:<uid>". A folder move reassigns the UID and therefore the
// id; the old entry is purged on the next sync of its folder.
func makeMessageID(mailbox string, uid uint32) string {
	return fmt.Sprintf("%s:%d", mailbox, uid)
}

func parseMessageID(id string) (mailbox string, uid uint32, err error) {
	idx := strings.LastIndex(id, ":")
	if idx <= 0 || idx == len(id)-1 {
		return "", 0, errs.ErrNotFound
	}
	parsed, err := strconv.ParseUint(id[idx+1:], 10, 32)
	if err != nil {
		return "", 0, errs.ErrNotFound
	}
	return id[:idx], uint32(parsed), nil
}

// Page tokens encode the UID floor of the next descending window.
func makePageToken(uid uint32) string {
	return fmt.Sprintf("uid:%d", uid)
}

func parsePageToken(token string) (uint32, error) {
	raw, ok := strings.CutPrefix(token, "uid:")
	if !ok {
		return 0, fmt.Errorf("malformed page token %q", token)
	}
	uid, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("malformed page token %q", token)
	}
	return uint32(uid), nil
}
