package imapbox

import (
	"context"
	"sort"
	"sync"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/opentracing/opentracing-go"

	"github.com/mailbridge/mailbridge/interfaces"
	"github.com/mailbridge/mailbridge/internal/enum"
	"github.com/mailbridge/mailbridge/internal/errs"
	"github.com/mailbridge/mailbridge/internal/logger"
	"github.com/mailbridge/mailbridge/internal/models"
	"github.com/mailbridge/mailbridge/internal/ratelimit"
	"github.com/mailbridge/mailbridge/internal/tracing"
)

type Config struct {
	Server   string             `env:"IMAP_SERVER"`
	Port     int                `env:"IMAP_PORT" envDefault:"993"`
	Username string             `env:"IMAP_USERNAME"`
	Password string             `env:"IMAP_PASSWORD"`
	Security enum.EmailSecurity `env:"IMAP_SECURITY" envDefault:"tls"`

	// FolderMap overrides the neutral-name to mailbox mapping for
	// servers with localized or nested special folders.
	FolderMap map[string]string
}

type imapAdapter struct {
	config  *Config
	limiter *ratelimit.Limiter
	log     logger.Logger

	// go-imap clients run one command at a time; the lock spans whole
	// operations including the folder SELECT they depend on.
	connMu sync.Mutex
	conn   *client.Client

	folderPriority []string
}

func NewIMAPAdapter(config *Config, limiter *ratelimit.Limiter, log logger.Logger, folderPriority []string) interfaces.MailboxAdapter {
	return &imapAdapter{
		config:         config,
		limiter:        limiter,
		log:            log,
		folderPriority: folderPriority,
	}
}

func (s *imapAdapter) Provider() enum.EmailProvider {
	return enum.EmailProviderIMAP
}

func (s *imapAdapter) Folders(ctx context.Context) ([]models.Folder, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "imapAdapter.Folders")
	defer span.Finish()
	tracing.TagComponentAdapter(span)

	if err := s.limiter.Acquire(ctx); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	s.connMu.Lock()
	defer s.connMu.Unlock()

	c, err := s.getClient(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	mailboxes := make(chan *imap.MailboxInfo, 20)
	done := make(chan error, 1)
	go func() {
		done <- c.List("", "*", mailboxes)
	}()

	var folders []models.Folder
	for m := range mailboxes {
		if hasAttr(m.Attributes, imap.NoSelectAttr) {
			continue
		}
		name := s.neutralName(m.Name)
		kind := enum.FolderKindCustom
		if _, system := folderToMailboxDefaults[name]; system || name == models.FolderInbox {
			kind = enum.FolderKindSystem
		}
		folders = append(folders, models.Folder{Name: name, Kind: kind})
	}

	if err := <-done; err != nil {
		err = mapIMAPError(err)
		tracing.TraceErr(span, err)
		return nil, err
	}
	return folders, nil
}

// ListIDs pages through a folder newest-UID first. The page token
// carries the UID floor of the next window, so pagination is stable
// against new arrivals.
func (s *imapAdapter) ListIDs(ctx context.Context, folder string, pageToken string, limit int) ([]string, string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "imapAdapter.ListIDs")
	defer span.Finish()
	tracing.TagComponentAdapter(span)
	tracing.TagFolder(span, folder)

	if err := s.limiter.Acquire(ctx); err != nil {
		tracing.TraceErr(span, err)
		return nil, "", err
	}

	s.connMu.Lock()
	defer s.connMu.Unlock()

	c, err := s.getClient(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, "", err
	}

	mailbox := s.resolveMailbox(folder)
	if _, err := c.Select(mailbox, true); err != nil {
		err = mapIMAPError(err)
		tracing.TraceErr(span, err)
		return nil, "", err
	}

	uids, err := c.UidSearch(imap.NewSearchCriteria())
	if err != nil {
		err = mapIMAPError(err)
		tracing.TraceErr(span, err)
		return nil, "", err
	}

	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })

	if pageToken != "" {
		floor, tokErr := parsePageToken(pageToken)
		if tokErr != nil {
			tracing.TraceErr(span, tokErr)
			return nil, "", tokErr
		}
		idx := sort.Search(len(uids), func(i int) bool { return uids[i] < floor })
		uids = uids[idx:]
	}

	page := uids
	nextToken := ""
	if len(uids) > limit {
		page = uids[:limit]
		nextToken = makePageToken(page[len(page)-1])
	}

	ids := make([]string, 0, len(page))
	for _, uid := range page {
		ids = append(ids, makeMessageID(mailbox, uid))
	}
	return ids, nextToken, nil
}

func (s *imapAdapter) Fetch(ctx context.Context, id string) (*models.Message, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "imapAdapter.Fetch")
	defer span.Finish()
	tracing.TagComponentAdapter(span)
	tracing.TagMessageId(span, id)

	mailbox, uid, err := parseMessageID(id)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	s.connMu.Lock()
	defer s.connMu.Unlock()

	raw, flags, internalDate, err := s.fetchRaw(ctx, mailbox, uid)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	m, err := s.mapRawMessage(id, mailbox, flags, internalDate, raw)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return m, nil
}

func (s *imapAdapter) SetFlags(ctx context.Context, id string, update interfaces.FlagUpdate) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "imapAdapter.SetFlags")
	defer span.Finish()
	tracing.TagComponentAdapter(span)
	tracing.TagMessageId(span, id)

	mailbox, uid, err := parseMessageID(id)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	s.connMu.Lock()
	defer s.connMu.Unlock()

	c, err := s.getClient(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	if _, err := c.Select(mailbox, false); err != nil {
		err = mapIMAPError(err)
		tracing.TraceErr(span, err)
		return err
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)

	if update.IsRead != nil {
		var op imap.FlagsOp = imap.RemoveFlags
		if *update.IsRead {
			op = imap.AddFlags
		}
		item := imap.FormatFlagsOp(op, true)
		if err := c.UidStore(seqset, item, []interface{}{imap.SeenFlag}, nil); err != nil {
			err = mapIMAPError(err)
			tracing.TraceErr(span, err)
			return err
		}
	}

	// A single membership means a move: copy to the target mailbox,
	// then expunge from the current one.
	if len(update.AddLabels) > 0 {
		target := s.resolveMailbox(update.AddLabels[0])
		if target != mailbox {
			if err := s.moveLocked(c, seqset, target); err != nil {
				tracing.TraceErr(span, err)
				return err
			}
		}
	}
	return nil
}

func (s *imapAdapter) Delete(ctx context.Context, id string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "imapAdapter.Delete")
	defer span.Finish()
	tracing.TagComponentAdapter(span)
	tracing.TagMessageId(span, id)

	mailbox, uid, err := parseMessageID(id)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	s.connMu.Lock()
	defer s.connMu.Unlock()

	c, err := s.getClient(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	if _, err := c.Select(mailbox, false); err != nil {
		err = mapIMAPError(err)
		tracing.TraceErr(span, err)
		return err
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)

	trash := s.resolveMailbox(models.FolderTrash)
	if mailbox == trash {
		// Already in trash: flag deleted and expunge for real.
		item := imap.FormatFlagsOp(imap.AddFlags, true)
		if err := c.UidStore(seqset, item, []interface{}{imap.DeletedFlag}, nil); err != nil {
			err = mapIMAPError(err)
			tracing.TraceErr(span, err)
			return err
		}
		if err := c.Expunge(nil); err != nil {
			err = mapIMAPError(err)
			tracing.TraceErr(span, err)
			return err
		}
		return nil
	}

	if err := s.moveLocked(c, seqset, trash); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (s *imapAdapter) FetchAttachment(ctx context.Context, messageID string, attachment *models.Attachment) ([]byte, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "imapAdapter.FetchAttachment")
	defer span.Finish()
	tracing.TagComponentAdapter(span)
	tracing.TagMessageId(span, messageID)

	if attachment == nil {
		return nil, errs.ErrNotFound
	}

	mailbox, uid, err := parseMessageID(messageID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	s.connMu.Lock()
	defer s.connMu.Unlock()

	raw, _, _, err := s.fetchRaw(ctx, mailbox, uid)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	data, err := extractAttachment(raw, attachment)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return data, nil
}

// moveLocked copies the message to the destination mailbox, flags the
// original deleted and expunges. Callers hold the connection lock and
// have the source mailbox selected.
func (s *imapAdapter) moveLocked(c *client.Client, seqset *imap.SeqSet, destination string) error {
	if err := c.UidCopy(seqset, destination); err != nil {
		return mapIMAPError(err)
	}
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.UidStore(seqset, item, []interface{}{imap.DeletedFlag}, nil); err != nil {
		return mapIMAPError(err)
	}
	if err := c.Expunge(nil); err != nil {
		return mapIMAPError(err)
	}
	return nil
}

func hasAttr(attrs []string, attr string) bool {
	for _, a := range attrs {
		if a == attr {
			return true
		}
	}
	return false
}
