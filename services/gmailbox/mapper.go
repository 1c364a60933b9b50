package gmailbox

import (
	"encoding/base64"
	"net/mail"
	"strings"

	"google.golang.org/api/gmail/v1"

	"github.com/mailbridge/mailbridge/internal/enum"
	"github.com/mailbridge/mailbridge/internal/models"
)

// Gmail system label ids that carry state rather than placement.
var nonFolderLabels = map[string]bool{
	"UNREAD":    true,
	"STARRED":   true,
	"IMPORTANT": true,
}

// mapMessage converts a full-format Gmail message into the neutral
// model. Label ids become folder names; read state comes from the
// UNREAD label; the current folder is resolved from the membership set.
func (s *gmailAdapter) mapMessage(msg *gmail.Message) *models.Message {
	m := &models.Message{
		ID:       msg.Id,
		Provider: enum.EmailProviderGmail,
		IsRead:   true,
	}

	for _, labelID := range msg.LabelIds {
		if labelID == "UNREAD" {
			m.IsRead = false
			continue
		}
		if nonFolderLabels[labelID] || strings.HasPrefix(labelID, "CATEGORY_") {
			continue
		}
		m.Labels = append(m.Labels, s.folderNameForLabel(labelID))
	}
	m.Folder = models.ResolveFolder(m.Labels, s.folderPriority)

	if msg.Payload != nil {
		m.RawHeaders = models.JSONMap{}
		for _, h := range msg.Payload.Headers {
			m.RawHeaders[h.Name] = h.Value
			switch strings.ToLower(h.Name) {
			case "subject":
				m.Subject = h.Value
			case "from":
				m.FromAddress = firstAddress(h.Value)
			case "to":
				m.ToAddresses = addressList(h.Value)
			case "cc":
				m.CcAddresses = addressList(h.Value)
			case "bcc":
				m.BccAddresses = addressList(h.Value)
			case "date":
				if t, err := mail.ParseDate(h.Value); err == nil {
					utc := t.UTC()
					m.SentAt = &utc
				}
			}
		}

		collectParts(m, msg.Payload)
	}

	m.HasAttachment = len(m.Attachments) > 0
	return m
}

// collectParts walks the MIME tree picking body text and attachment
// metadata. Inline parts without filenames count as body, not
// attachments.
func collectParts(m *models.Message, part *gmail.MessagePart) {
	if part == nil {
		return
	}

	if part.Filename != "" && part.Body != nil {
		m.Attachments = append(m.Attachments, models.Attachment{
			MessageID:   m.ID,
			RemoteID:    part.Body.AttachmentId,
			Filename:    part.Filename,
			ContentType: part.MimeType,
			Size:        part.Body.Size,
			Position:    len(m.Attachments),
		})
		return
	}

	switch part.MimeType {
	case "text/plain":
		if m.BodyText == "" {
			m.BodyText = decodeBody(part.Body)
		}
	case "text/html":
		if m.BodyHTML == "" {
			m.BodyHTML = decodeBody(part.Body)
		}
	}

	for _, child := range part.Parts {
		collectParts(m, child)
	}
}

func decodeBody(body *gmail.MessagePartBody) string {
	if body == nil || body.Data == "" {
		return ""
	}
	decoded, err := base64.URLEncoding.DecodeString(body.Data)
	if err != nil {
		decoded, err = base64.RawURLEncoding.DecodeString(body.Data)
		if err != nil {
			return ""
		}
	}
	return string(decoded)
}

func firstAddress(header string) string {
	addrs, err := mail.ParseAddressList(header)
	if err != nil || len(addrs) == 0 {
		return strings.TrimSpace(header)
	}
	return addrs[0].Address
}

func addressList(header string) []string {
	addrs, err := mail.ParseAddressList(header)
	if err != nil {
		return []string{strings.TrimSpace(header)}
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Address)
	}
	return out
}
