package imapbox

import (
	"bytes"
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/jhillyerd/enmime"
	"github.com/pkg/errors"

	"github.com/mailbridge/mailbridge/internal/enum"
	"github.com/mailbridge/mailbridge/internal/errs"
	"github.com/mailbridge/mailbridge/internal/models"
)

// Common special-folder spellings across IMAP servers.
var mailboxToFolderDefaults = map[string]string{
	"INBOX":         models.FolderInbox,
	"Sent":          models.FolderSent,
	"Sent Items":    models.FolderSent,
	"Sent Messages": models.FolderSent,
	"Drafts":        models.FolderDrafts,
	"Trash":         models.FolderTrash,
	"Deleted Items": models.FolderTrash,
	"Junk":          models.FolderSpam,
	"Spam":          models.FolderSpam,
	"Archive":       models.FolderArchive,
}

var folderToMailboxDefaults = map[string]string{
	models.FolderInbox:   "INBOX",
	models.FolderSent:    "Sent",
	models.FolderDrafts:  "Drafts",
	models.FolderTrash:   "Trash",
	models.FolderSpam:    "Junk",
	models.FolderArchive: "Archive",
}

// resolveMailbox maps a neutral folder name onto the server's mailbox,
// preferring the configured override.
func (s *imapAdapter) resolveMailbox(folder string) string {
	if s.config.FolderMap != nil {
		if mailbox, ok := s.config.FolderMap[folder]; ok {
			return mailbox
		}
	}
	if mailbox, ok := folderToMailboxDefaults[folder]; ok {
		return mailbox
	}
	return folder
}

func (s *imapAdapter) neutralName(mailbox string) string {
	if s.config.FolderMap != nil {
		for folder, m := range s.config.FolderMap {
			if m == mailbox {
				return folder
			}
		}
	}
	if folder, ok := mailboxToFolderDefaults[mailbox]; ok {
		return folder
	}
	return mailbox
}

// fetchRaw retrieves the full RFC 822 source plus flags for one UID.
// Callers hold the connection lock.
func (s *imapAdapter) fetchRaw(ctx context.Context, mailbox string, uid uint32) ([]byte, []string, time.Time, error) {
	c, err := s.getClient(ctx)
	if err != nil {
		return nil, nil, time.Time{}, err
	}

	if _, err := c.Select(mailbox, true); err != nil {
		return nil, nil, time.Time{}, mapIMAPError(err)
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchFlags, imap.FetchUid, imap.FetchInternalDate}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, messages)
	}()

	var raw []byte
	var flags []string
	var internalDate time.Time
	for msg := range messages {
		flags = msg.Flags
		internalDate = msg.InternalDate
		if body := msg.GetBody(section); body != nil {
			buf := new(bytes.Buffer)
			if _, err := buf.ReadFrom(body); err != nil {
				return nil, nil, time.Time{}, errs.AsTransientIO(err)
			}
			raw = buf.Bytes()
		}
	}

	if err := <-done; err != nil {
		return nil, nil, time.Time{}, mapIMAPError(err)
	}
	if raw == nil {
		return nil, nil, time.Time{}, errs.ErrNotFound
	}
	return raw, flags, internalDate, nil
}

// mapRawMessage parses the RFC 822 source into the neutral model.
func (s *imapAdapter) mapRawMessage(id, mailbox string, flags []string, internalDate time.Time, raw []byte) (*models.Message, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse message")
	}

	folder := s.neutralName(mailbox)
	m := &models.Message{
		ID:       id,
		Provider: enum.EmailProviderIMAP,
		Folder:   folder,
		Labels:   []string{folder},
		Subject:  env.GetHeader("Subject"),
		BodyText: env.Text,
		BodyHTML: env.HTML,
		IsRead:   hasAttr(flags, imap.SeenFlag),
	}

	m.FromAddress = firstAddress(env, "From")
	m.ToAddresses = addressList(env, "To")
	m.CcAddresses = addressList(env, "Cc")
	m.BccAddresses = addressList(env, "Bcc")

	if t, err := env.Date(); err == nil && !t.IsZero() {
		utc := t.UTC()
		m.SentAt = &utc
	} else if !internalDate.IsZero() {
		utc := internalDate.UTC()
		m.SentAt = &utc
	}

	m.RawHeaders = models.JSONMap{}
	for _, key := range env.GetHeaderKeys() {
		m.RawHeaders[key] = env.GetHeader(key)
	}

	for i, part := range env.Attachments {
		m.Attachments = append(m.Attachments, models.Attachment{
			MessageID:   id,
			Filename:    part.FileName,
			ContentType: part.ContentType,
			Size:        int64(len(part.Content)),
			Position:    i,
		})
	}
	m.HasAttachment = len(m.Attachments) > 0

	return m, nil
}

// extractAttachment pulls the attachment content out of the parsed
// source, matching by position first and filename as fallback.
func extractAttachment(raw []byte, attachment *models.Attachment) ([]byte, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse message")
	}

	if attachment.Position >= 0 && attachment.Position < len(env.Attachments) {
		part := env.Attachments[attachment.Position]
		if attachment.Filename == "" || part.FileName == attachment.Filename {
			return part.Content, nil
		}
	}
	for _, part := range env.Attachments {
		if part.FileName == attachment.Filename {
			return part.Content, nil
		}
	}
	return nil, errs.ErrNotFound
}

func firstAddress(env *enmime.Envelope, key string) string {
	addrs, err := env.AddressList(key)
	if err != nil || len(addrs) == 0 {
		return strings.TrimSpace(env.GetHeader(key))
	}
	return addrs[0].Address
}

func addressList(env *enmime.Envelope, key string) []string {
	addrs, err := env.AddressList(key)
	if err != nil {
		if header := strings.TrimSpace(env.GetHeader(key)); header != "" {
			if parsed, perr := mail.ParseAddressList(header); perr == nil {
				addrs = parsed
			} else {
				return []string{header}
			}
		}
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Address)
	}
	return out
}
