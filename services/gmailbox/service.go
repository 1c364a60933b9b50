package gmailbox

import (
	"context"
	"encoding/base64"
	"sync"

	"github.com/opentracing/opentracing-go"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/mailbridge/mailbridge/interfaces"
	"github.com/mailbridge/mailbridge/internal/enum"
	"github.com/mailbridge/mailbridge/internal/errs"
	"github.com/mailbridge/mailbridge/internal/logger"
	"github.com/mailbridge/mailbridge/internal/models"
	"github.com/mailbridge/mailbridge/internal/ratelimit"
	"github.com/mailbridge/mailbridge/internal/tracing"
)

// Gmail system label ids for the well-known folder namespace. Archive
// has no label; it is the absence of INBOX.
var systemLabelToFolder = map[string]string{
	"INBOX": models.FolderInbox,
	"SENT":  models.FolderSent,
	"DRAFT": models.FolderDrafts,
	"TRASH": models.FolderTrash,
	"SPAM":  models.FolderSpam,
}

var folderToSystemLabel = map[string]string{
	models.FolderInbox:  "INBOX",
	models.FolderSent:   "SENT",
	models.FolderDrafts: "DRAFT",
	models.FolderTrash:  "TRASH",
	models.FolderSpam:   "SPAM",
}

const archiveQuery = "-in:inbox -in:sent -in:drafts -in:trash -in:spam"

type gmailAdapter struct {
	service        *gmail.Service
	limiter        *ratelimit.Limiter
	log            logger.Logger
	folderPriority []string

	labelMu     sync.RWMutex
	labelByID   map[string]string // label id -> display name
	labelByName map[string]string // display name -> label id
}

// NewGmailAdapter builds the Gmail-backed adapter on top of an
// authorized token provider.
func NewGmailAdapter(ctx context.Context, provider interfaces.TokenProvider, limiter *ratelimit.Limiter, log logger.Logger, folderPriority []string) (interfaces.MailboxAdapter, error) {
	service, err := gmail.NewService(ctx, option.WithTokenSource(NewTokenSource(ctx, provider)))
	if err != nil {
		return nil, mapGoogleError(err)
	}
	return &gmailAdapter{
		service:        service,
		limiter:        limiter,
		log:            log,
		folderPriority: folderPriority,
	}, nil
}

func (s *gmailAdapter) Provider() enum.EmailProvider {
	return enum.EmailProviderGmail
}

func (s *gmailAdapter) Folders(ctx context.Context) ([]models.Folder, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "gmailAdapter.Folders")
	defer span.Finish()
	tracing.TagComponentAdapter(span)

	if err := s.limiter.Acquire(ctx); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	res, err := s.service.Users.Labels.List("me").Context(ctx).Do()
	if err != nil {
		err = mapGoogleError(err)
		tracing.TraceErr(span, err)
		return nil, err
	}

	byID := make(map[string]string, len(res.Labels))
	byName := make(map[string]string, len(res.Labels))
	folders := []models.Folder{{Name: models.FolderArchive, Kind: enum.FolderKindSystem}}

	for _, l := range res.Labels {
		byID[l.Id] = l.Name
		byName[l.Name] = l.Id

		if folderName, ok := systemLabelToFolder[l.Id]; ok {
			folders = append(folders, models.Folder{Name: folderName, Kind: enum.FolderKindSystem})
			continue
		}
		if l.Type == "user" {
			folders = append(folders, models.Folder{Name: l.Name, Kind: enum.FolderKindCustom})
		}
	}

	s.labelMu.Lock()
	s.labelByID = byID
	s.labelByName = byName
	s.labelMu.Unlock()

	return folders, nil
}

func (s *gmailAdapter) ListIDs(ctx context.Context, folder string, pageToken string, limit int) ([]string, string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "gmailAdapter.ListIDs")
	defer span.Finish()
	tracing.TagComponentAdapter(span)
	tracing.TagFolder(span, folder)

	if err := s.limiter.Acquire(ctx); err != nil {
		tracing.TraceErr(span, err)
		return nil, "", err
	}

	req := s.service.Users.Messages.List("me").MaxResults(int64(limit))
	if folder == models.FolderArchive {
		req = req.Q(archiveQuery)
	} else {
		labelID, err := s.labelIDForFolder(ctx, folder)
		if err != nil {
			tracing.TraceErr(span, err)
			return nil, "", err
		}
		req = req.LabelIds(labelID)
	}
	if pageToken != "" {
		req = req.PageToken(pageToken)
	}

	res, err := req.Context(ctx).Do()
	if err != nil {
		err = mapGoogleError(err)
		tracing.TraceErr(span, err)
		return nil, "", err
	}

	ids := make([]string, 0, len(res.Messages))
	for _, m := range res.Messages {
		ids = append(ids, m.Id)
	}
	return ids, res.NextPageToken, nil
}

func (s *gmailAdapter) Fetch(ctx context.Context, id string) (*models.Message, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "gmailAdapter.Fetch")
	defer span.Finish()
	tracing.TagComponentAdapter(span)
	tracing.TagMessageId(span, id)

	if err := s.limiter.Acquire(ctx); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	msg, err := s.service.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
	if err != nil {
		err = mapGoogleError(err)
		tracing.TraceErr(span, err)
		return nil, err
	}

	return s.mapMessage(msg), nil
}

func (s *gmailAdapter) SetFlags(ctx context.Context, id string, update interfaces.FlagUpdate) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "gmailAdapter.SetFlags")
	defer span.Finish()
	tracing.TagComponentAdapter(span)
	tracing.TagMessageId(span, id)

	req := &gmail.ModifyMessageRequest{}
	if update.IsRead != nil {
		if *update.IsRead {
			req.RemoveLabelIds = append(req.RemoveLabelIds, "UNREAD")
		} else {
			req.AddLabelIds = append(req.AddLabelIds, "UNREAD")
		}
	}

	for _, name := range update.AddLabels {
		// Archiving is expressed purely by removing the old folder.
		if name == models.FolderArchive {
			continue
		}
		labelID, err := s.labelIDForFolder(ctx, name)
		if err != nil {
			tracing.TraceErr(span, err)
			return err
		}
		req.AddLabelIds = append(req.AddLabelIds, labelID)
	}
	for _, name := range update.RemoveLabels {
		if name == models.FolderArchive {
			continue
		}
		labelID, err := s.labelIDForFolder(ctx, name)
		if err != nil {
			tracing.TraceErr(span, err)
			return err
		}
		req.RemoveLabelIds = append(req.RemoveLabelIds, labelID)
	}

	if len(req.AddLabelIds) == 0 && len(req.RemoveLabelIds) == 0 {
		return nil
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	if _, err := s.service.Users.Messages.Modify("me", id, req).Context(ctx).Do(); err != nil {
		err = mapGoogleError(err)
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (s *gmailAdapter) Delete(ctx context.Context, id string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "gmailAdapter.Delete")
	defer span.Finish()
	tracing.TagComponentAdapter(span)
	tracing.TagMessageId(span, id)

	if err := s.limiter.Acquire(ctx); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	if _, err := s.service.Users.Messages.Trash("me", id).Context(ctx).Do(); err != nil {
		err = mapGoogleError(err)
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (s *gmailAdapter) FetchAttachment(ctx context.Context, messageID string, attachment *models.Attachment) ([]byte, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "gmailAdapter.FetchAttachment")
	defer span.Finish()
	tracing.TagComponentAdapter(span)
	tracing.TagMessageId(span, messageID)

	if attachment == nil || attachment.RemoteID == "" {
		return nil, errs.ErrNotFound
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	res, err := s.service.Users.Messages.Attachments.Get("me", messageID, attachment.RemoteID).Context(ctx).Do()
	if err != nil {
		err = mapGoogleError(err)
		tracing.TraceErr(span, err)
		return nil, err
	}

	data, err := base64.URLEncoding.DecodeString(res.Data)
	if err != nil {
		data, err = base64.RawURLEncoding.DecodeString(res.Data)
		if err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
	}
	return data, nil
}

// labelIDForFolder resolves a folder name to the Gmail label id,
// loading the label catalog on first use.
func (s *gmailAdapter) labelIDForFolder(ctx context.Context, folder string) (string, error) {
	if labelID, ok := folderToSystemLabel[folder]; ok {
		return labelID, nil
	}

	s.labelMu.RLock()
	labelID, ok := s.labelByName[folder]
	s.labelMu.RUnlock()
	if ok {
		return labelID, nil
	}

	if _, err := s.Folders(ctx); err != nil {
		return "", err
	}

	s.labelMu.RLock()
	labelID, ok = s.labelByName[folder]
	s.labelMu.RUnlock()
	if !ok {
		return "", errs.ErrNotFound
	}
	return labelID, nil
}

func (s *gmailAdapter) folderNameForLabel(labelID string) string {
	if folder, ok := systemLabelToFolder[labelID]; ok {
		return folder
	}
	s.labelMu.RLock()
	defer s.labelMu.RUnlock()
	if name, ok := s.labelByID[labelID]; ok {
		return name
	}
	return labelID
}
