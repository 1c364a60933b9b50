package gmailbox

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/opentracing/opentracing-go"

	"github.com/mailbridge/mailbridge/interfaces"
	"github.com/mailbridge/mailbridge/internal/models"
	"github.com/mailbridge/mailbridge/internal/query"
	"github.com/mailbridge/mailbridge/internal/tracing"
)

const searchPageSize = 50

// buildNativeQuery renders the neutral query in Gmail's search syntax.
// Every operator in the neutral syntax has a native Gmail equivalent.
func buildNativeQuery(q *query.Query) string {
	var parts []string
	for _, term := range q.Text {
		parts = append(parts, quoteTerm(term))
	}
	if q.Subject != "" {
		parts = append(parts, "subject:"+quoteTerm(q.Subject))
	}
	if q.From != "" {
		parts = append(parts, "from:"+quoteTerm(q.From))
	}
	if q.IsRead != nil {
		if *q.IsRead {
			parts = append(parts, "is:read")
		} else {
			parts = append(parts, "is:unread")
		}
	}
	if q.HasAttachment {
		parts = append(parts, "has:attachment")
	}
	return strings.Join(parts, " ")
}

func quoteTerm(term string) string {
	if strings.ContainsAny(term, " \t") {
		return fmt.Sprintf("%q", term)
	}
	return term
}

// folderQueryClause scopes a Gmail search to one folder. Archive is the
// absence of every system placement, so it scopes by exclusion.
func folderQueryClause(folder string) string {
	switch folder {
	case "":
		return ""
	case models.FolderArchive:
		return archiveQuery
	case models.FolderInbox:
		return "in:inbox"
	case models.FolderSent:
		return "in:sent"
	case models.FolderDrafts:
		return "in:drafts"
	case models.FolderTrash:
		return "in:trash"
	case models.FolderSpam:
		return "in:spam"
	}
	return "label:" + quoteTerm(folder)
}

func (s *gmailAdapter) Search(ctx context.Context, q *query.Query, folder string) (interfaces.IDIterator, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "gmailAdapter.Search")
	defer span.Finish()
	tracing.TagComponentAdapter(span)
	tracing.TagFolder(span, folder)

	native := buildNativeQuery(q)
	if clause := folderQueryClause(folder); clause != "" {
		native = strings.TrimSpace(native + " " + clause)
	}

	return &searchIterator{
		adapter: s,
		native:  native,
	}, nil
}

// searchIterator pages through Gmail search results one page at a
// time, fetching the next page only when the current one is drained.
type searchIterator struct {
	adapter *gmailAdapter
	native  string

	buffer    []string
	pageToken string
	started   bool
	done      bool
}

func (it *searchIterator) Next(ctx context.Context) (string, error) {
	for len(it.buffer) == 0 {
		if it.done {
			return "", io.EOF
		}
		if err := it.fetchPage(ctx); err != nil {
			return "", err
		}
	}

	id := it.buffer[0]
	it.buffer = it.buffer[1:]
	return id, nil
}

func (it *searchIterator) fetchPage(ctx context.Context) error {
	if err := it.adapter.limiter.Acquire(ctx); err != nil {
		return err
	}

	req := it.adapter.service.Users.Messages.List("me").
		Q(it.native).
		MaxResults(searchPageSize)
	if it.pageToken != "" {
		req = req.PageToken(it.pageToken)
	}

	res, err := req.Context(ctx).Do()
	if err != nil {
		return mapGoogleError(err)
	}

	for _, m := range res.Messages {
		it.buffer = append(it.buffer, m.Id)
	}
	it.started = true
	it.pageToken = res.NextPageToken
	if it.pageToken == "" {
		it.done = true
	}
	return nil
}

func (it *searchIterator) Close() error {
	it.done = true
	it.buffer = nil
	return nil
}
