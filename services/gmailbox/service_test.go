package gmailbox

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	"github.com/mailbridge/mailbridge/internal/errs"
	"github.com/mailbridge/mailbridge/internal/models"
	"github.com/mailbridge/mailbridge/internal/query"
)

func TestBuildNativeQuery(t *testing.T) {
	q, err := query.Parse(`report subject:"quarterly numbers" from:alice@example.com is:unread has:attachment`)
	require.NoError(t, err)

	native := buildNativeQuery(q)

	assert.Equal(t, `report subject:"quarterly numbers" from:alice@example.com is:unread has:attachment`, native)
}

func TestBuildNativeQuery_ReadState(t *testing.T) {
	q, err := query.Parse("is:read")
	require.NoError(t, err)

	assert.Equal(t, "is:read", buildNativeQuery(q))
}

func TestFolderQueryClause(t *testing.T) {
	assert.Equal(t, "", folderQueryClause(""))
	assert.Equal(t, "in:inbox", folderQueryClause(models.FolderInbox))
	assert.Equal(t, "in:trash", folderQueryClause(models.FolderTrash))
	assert.Equal(t, archiveQuery, folderQueryClause(models.FolderArchive))
	assert.Equal(t, `label:"Project X"`, folderQueryClause("Project X"))
	assert.Equal(t, "label:Newsletters", folderQueryClause("Newsletters"))
}

func TestMapMessage(t *testing.T) {
	// Arrange
	adapter := &gmailAdapter{}
	body := base64.URLEncoding.EncodeToString([]byte("hello body"))
	msg := &gmail.Message{
		Id:       "g-123",
		LabelIds: []string{"INBOX", "UNREAD", "IMPORTANT", "CATEGORY_PERSONAL"},
		Payload: &gmail.MessagePart{
			MimeType: "multipart/mixed",
			Headers: []*gmail.MessagePartHeader{
				{Name: "Subject", Value: "Quarterly numbers"},
				{Name: "From", Value: "Alice <alice@example.com>"},
				{Name: "To", Value: "bob@example.com, carol@example.com"},
				{Name: "Date", Value: "Mon, 02 Jun 2025 15:04:05 +0000"},
			},
			Parts: []*gmail.MessagePart{
				{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: body}},
				{
					MimeType: "application/pdf",
					Filename: "report.pdf",
					Body:     &gmail.MessagePartBody{AttachmentId: "att-9", Size: 2048},
				},
			},
		},
	}

	// Act
	m := adapter.mapMessage(msg)

	// Assert
	assert.Equal(t, "g-123", m.ID)
	assert.Equal(t, models.FolderInbox, m.Folder)
	assert.False(t, m.IsRead)
	assert.Equal(t, "Quarterly numbers", m.Subject)
	assert.Equal(t, "alice@example.com", m.FromAddress)
	assert.Equal(t, []string{"bob@example.com", "carol@example.com"}, []string(m.ToAddresses))
	assert.Equal(t, "hello body", m.BodyText)
	require.Len(t, m.Attachments, 1)
	assert.Equal(t, "att-9", m.Attachments[0].RemoteID)
	assert.True(t, m.HasAttachment)
	require.NotNil(t, m.SentAt)
	assert.Equal(t, 2025, m.SentAt.Year())
}

func TestMapMessage_NoLabelsResolvesToArchive(t *testing.T) {
	adapter := &gmailAdapter{}
	msg := &gmail.Message{Id: "g-1", LabelIds: []string{"UNREAD"}}

	m := adapter.mapMessage(msg)

	assert.Equal(t, models.FolderArchive, m.Folder)
}

func TestMapGoogleError(t *testing.T) {
	assert.True(t, errors.Is(mapGoogleError(&googleapi.Error{Code: 404}), errs.ErrNotFound))
	assert.True(t, errors.Is(mapGoogleError(&googleapi.Error{Code: 401}), errs.ErrAuthExpired))
	assert.True(t, errors.Is(mapGoogleError(&googleapi.Error{Code: 429}), errs.ErrRateLimited))
	assert.True(t, errors.Is(mapGoogleError(&googleapi.Error{Code: 503}), errs.ErrTransientIO))

	quota := &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "rateLimitExceeded"}}}
	assert.True(t, errors.Is(mapGoogleError(quota), errs.ErrRateLimited))

	forbidden := &googleapi.Error{Code: 403}
	assert.True(t, errors.Is(mapGoogleError(forbidden), errs.ErrAuthExpired))

	assert.NoError(t, mapGoogleError(nil))
}
