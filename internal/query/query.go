// Package query parses the provider-neutral search syntax shared by all
// mail backends: bare words match anywhere, "subject:" and "from:"
// target headers, "is:read"/"is:unread" filter read state and
// "has:attachment" filters attachment presence. Quoted values keep
// their spaces.
package query

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/mailbridge/mailbridge/internal/errs"
)

type Query struct {
	// Text terms match subject, body and sender, ANDed together.
	Text []string

	Subject string
	From    string

	// IsRead is nil when the query does not constrain read state.
	IsRead *bool

	HasAttachment bool
}

// IsEmpty reports whether the query constrains nothing.
func (q *Query) IsEmpty() bool {
	return len(q.Text) == 0 && q.Subject == "" && q.From == "" && q.IsRead == nil && !q.HasAttachment
}

// Parse tokenizes a raw query string. Unknown "key:value" operators are
// rejected with errs.ErrUnsupportedQuery rather than silently treated
// as text, so callers never get quietly wrong results.
func Parse(raw string) (*Query, error) {
	q := &Query{}

	for _, token := range tokenize(raw) {
		key, value, isOperator := splitOperator(token)
		if !isOperator {
			q.Text = append(q.Text, token)
			continue
		}

		switch strings.ToLower(key) {
		case "subject":
			q.Subject = value
		case "from":
			q.From = value
		case "is":
			switch strings.ToLower(value) {
			case "read":
				read := true
				q.IsRead = &read
			case "unread":
				read := false
				q.IsRead = &read
			default:
				return nil, errors.Wrapf(errs.ErrUnsupportedQuery, "unknown state %q", value)
			}
		case "has":
			if !strings.EqualFold(value, "attachment") {
				return nil, errors.Wrapf(errs.ErrUnsupportedQuery, "unknown property %q", value)
			}
			q.HasAttachment = true
		default:
			return nil, errors.Wrapf(errs.ErrUnsupportedQuery, "unknown operator %q", key)
		}
	}

	return q, nil
}

// tokenize splits on whitespace while honoring double quotes, both
// around whole tokens and after an operator colon.
func tokenize(raw string) []string {
	var tokens []string
	var current strings.Builder
	inQuotes := false

	for _, r := range raw {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case r == ' ' || r == '\t' || r == '\n':
			if inQuotes {
				current.WriteRune(r)
			} else if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}
	return tokens
}

func splitOperator(token string) (key, value string, ok bool) {
	idx := strings.Index(token, ":")
	if idx <= 0 || idx == len(token)-1 {
		return "", "", false
	}
	return token[:idx], token[idx+1:], true
}
