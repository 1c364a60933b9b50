package smtp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailbridge/mailbridge/internal/logger"
)

func testService() *Service {
	appLogger := logger.NewAppLogger(&logger.Config{DevMode: true})
	appLogger.InitLogger()
	return NewService(&Config{
		Server: "smtp.example.com", Port: 587,
		FromAddress: "sender@example.com", FromDomain: "example.com",
	}, appLogger)
}

func validMessage() *OutboundMessage {
	return &OutboundMessage{
		From:     "sender@example.com",
		To:       []string{"to@example.com"},
		Subject:  "hello",
		BodyText: "plain body",
	}
}

func TestValidate_RejectsMissingFields(t *testing.T) {
	s := testService()
	ctx := context.Background()

	m := validMessage()
	m.To = nil
	assert.Error(t, s.validate(ctx, m))

	m = validMessage()
	m.Subject = ""
	assert.Error(t, s.validate(ctx, m))

	m = validMessage()
	m.BodyText = ""
	assert.Error(t, s.validate(ctx, m))

	m = validMessage()
	m.From = "not-an-email"
	assert.Error(t, s.validate(ctx, m))
}

func TestValidate_DomainMismatch(t *testing.T) {
	s := testService()
	m := validMessage()
	m.From = "sender@other.org"

	assert.Error(t, s.validate(context.Background(), m))
}

func TestValidate_DefaultsFromAddress(t *testing.T) {
	s := testService()
	m := validMessage()
	m.From = ""

	require.NoError(t, s.validate(context.Background(), m))
	assert.Equal(t, "sender@example.com", m.From)
}

func TestBuildMessage_PlainText(t *testing.T) {
	s := testService()
	m := validMessage()

	buffer, err := s.buildMessage(context.Background(), m)

	require.NoError(t, err)
	raw := buffer.String()
	assert.Contains(t, raw, "Subject: hello")
	assert.Contains(t, raw, "Content-Type: text/plain; charset=UTF-8")
	assert.Contains(t, raw, "plain body")
	assert.Contains(t, raw, "Message-ID: <out_")
}

func TestBuildMessage_MultipartWithAttachment(t *testing.T) {
	s := testService()
	m := validMessage()
	m.BodyHTML = "<p>rich body</p>"
	m.Attachments = []OutboundAttachment{{
		Filename: "report.pdf", ContentType: "application/pdf", Content: []byte("pdfdata"),
	}}

	buffer, err := s.buildMessage(context.Background(), m)

	require.NoError(t, err)
	raw := buffer.String()
	assert.Contains(t, raw, "multipart/mixed; boundary=")
	assert.Contains(t, raw, "text/plain; charset=UTF-8")
	assert.Contains(t, raw, "text/html; charset=UTF-8")
	assert.Contains(t, raw, `attachment; filename="report.pdf"`)
}

func TestAllRecipients(t *testing.T) {
	m := &OutboundMessage{
		To:  []string{"a@example.com"},
		Cc:  []string{"b@example.com"},
		Bcc: []string{"c@example.com"},
	}

	assert.Equal(t, []string{"a@example.com", "b@example.com", "c@example.com"}, m.allRecipients())
}
