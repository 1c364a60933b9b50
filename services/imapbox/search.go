package imapbox

import (
	"context"
	"io"
	"sort"

	"github.com/emersion/go-imap"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/mailbridge/mailbridge/interfaces"
	"github.com/mailbridge/mailbridge/internal/errs"
	"github.com/mailbridge/mailbridge/internal/models"
	"github.com/mailbridge/mailbridge/internal/query"
	"github.com/mailbridge/mailbridge/internal/tracing"
)

// buildSearchCriteria translates the neutral query into IMAP SEARCH.
// Attachment filtering has no SEARCH key, so has:attachment is
// rejected as unsupported rather than approximated.
func buildSearchCriteria(q *query.Query) (*imap.SearchCriteria, error) {
	if q.HasAttachment {
		return nil, errors.Wrap(errs.ErrUnsupportedQuery, "attachment search is not expressible in IMAP SEARCH")
	}

	criteria := imap.NewSearchCriteria()
	for _, term := range q.Text {
		criteria.Text = append(criteria.Text, term)
	}
	if q.Subject != "" {
		criteria.Header.Add("Subject", q.Subject)
	}
	if q.From != "" {
		criteria.Header.Add("From", q.From)
	}
	if q.IsRead != nil {
		if *q.IsRead {
			criteria.WithFlags = append(criteria.WithFlags, imap.SeenFlag)
		} else {
			criteria.WithoutFlags = append(criteria.WithoutFlags, imap.SeenFlag)
		}
	}
	return criteria, nil
}

func (s *imapAdapter) Search(ctx context.Context, q *query.Query, folder string) (interfaces.IDIterator, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "imapAdapter.Search")
	defer span.Finish()
	tracing.TagComponentAdapter(span)
	tracing.TagFolder(span, folder)

	criteria, err := buildSearchCriteria(q)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	it := &searchIterator{adapter: s, criteria: criteria}
	if folder != "" {
		it.mailboxes = []string{s.resolveMailbox(folder)}
		it.started = true
	}
	return it, nil
}

// searchIterator runs the criteria folder by folder, searching the
// next mailbox only once the current one's hits are drained. Trash and
// spam are excluded, matching what users expect from mail search.
type searchIterator struct {
	adapter  *imapAdapter
	criteria *imap.SearchCriteria

	mailboxes []string
	buffer    []string
	started   bool
	done      bool
}

func (it *searchIterator) Next(ctx context.Context) (string, error) {
	for len(it.buffer) == 0 {
		if it.done {
			return "", io.EOF
		}
		if err := it.advance(ctx); err != nil {
			return "", err
		}
	}

	id := it.buffer[0]
	it.buffer = it.buffer[1:]
	return id, nil
}

func (it *searchIterator) advance(ctx context.Context) error {
	if !it.started {
		folders, err := it.adapter.Folders(ctx)
		if err != nil {
			return err
		}
		for _, f := range folders {
			if f.Name == models.FolderTrash || f.Name == models.FolderSpam {
				continue
			}
			it.mailboxes = append(it.mailboxes, it.adapter.resolveMailbox(f.Name))
		}
		it.started = true
	}

	if len(it.mailboxes) == 0 {
		it.done = true
		return nil
	}

	mailbox := it.mailboxes[0]
	it.mailboxes = it.mailboxes[1:]

	if err := it.adapter.limiter.Acquire(ctx); err != nil {
		return err
	}

	it.adapter.connMu.Lock()
	defer it.adapter.connMu.Unlock()

	c, err := it.adapter.getClient(ctx)
	if err != nil {
		return err
	}
	if _, err := c.Select(mailbox, true); err != nil {
		return mapIMAPError(err)
	}

	uids, err := c.UidSearch(it.criteria)
	if err != nil {
		return mapIMAPError(err)
	}

	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })
	for _, uid := range uids {
		it.buffer = append(it.buffer, makeMessageID(mailbox, uid))
	}
	return nil
}

func (it *searchIterator) Close() error {
	it.done = true
	it.mailboxes = nil
	it.buffer = nil
	return nil
}
