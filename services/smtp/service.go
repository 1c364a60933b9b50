// Package smtp sends outbound mail through the account's submission
// server. Sending bypasses the cache entirely; the sent copy shows up
// in SENT on its next sync.
package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"time"

	"github.com/customeros/mailsherpa/mailvalidate"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/mailbridge/mailbridge/internal/enum"
	"github.com/mailbridge/mailbridge/internal/logger"
	"github.com/mailbridge/mailbridge/internal/tracing"
	"github.com/mailbridge/mailbridge/internal/utils"
)

type Config struct {
	Server   string             `env:"SMTP_SERVER"`
	Port     int                `env:"SMTP_PORT" envDefault:"587"`
	Username string             `env:"SMTP_USERNAME"`
	Password string             `env:"SMTP_PASSWORD"`
	Security enum.EmailSecurity `env:"SMTP_SECURITY" envDefault:"startTLS"`

	FromAddress string `env:"SMTP_FROM_ADDRESS"`
	FromDomain  string `env:"SMTP_FROM_DOMAIN"`
}

// OutboundMessage is a message to be submitted.
type OutboundMessage struct {
	From     string
	To       []string
	Cc       []string
	Bcc      []string
	Subject  string
	BodyText string
	BodyHTML string

	Attachments []OutboundAttachment
}

type OutboundAttachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

func (m *OutboundMessage) allRecipients() []string {
	out := make([]string, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	out = append(out, m.To...)
	out = append(out, m.Cc...)
	out = append(out, m.Bcc...)
	return out
}

type Service struct {
	config *Config
	log    logger.Logger
}

func NewService(config *Config, log logger.Logger) *Service {
	return &Service{config: config, log: log}
}

func (s *Service) Send(ctx context.Context, message *OutboundMessage) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "smtpService.Send")
	defer span.Finish()
	tracing.TagComponentService(span)

	if err := s.validate(ctx, message); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	buffer, err := s.buildMessage(ctx, message)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	if err := s.sendToServer(ctx, message.From, message.allRecipients(), buffer); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	s.log.Infof("sent message %q to %d recipients", message.Subject, len(message.allRecipients()))
	return nil
}

func (s *Service) validate(ctx context.Context, message *OutboundMessage) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "smtpService.validate")
	defer span.Finish()
	tracing.TagComponentService(span)

	if message == nil {
		return errors.New("message cannot be nil")
	}
	if message.From == "" {
		message.From = s.config.FromAddress
	}
	if message.From == "" {
		return errors.New("from address is required")
	}

	validation := mailvalidate.ValidateEmailSyntax(message.From)
	if !validation.IsValid {
		return errors.New("from address is not valid")
	}
	if s.config.FromDomain != "" && validation.Domain != s.config.FromDomain {
		return errors.New("from domain does not match configured sending domain")
	}

	if len(message.To) == 0 {
		return errors.New("at least one recipient is required")
	}
	if message.BodyText == "" && message.BodyHTML == "" {
		return errors.New("message must have either text or HTML content")
	}
	if message.Subject == "" {
		return errors.New("message must have a subject")
	}
	return nil
}

func (s *Service) buildMessage(ctx context.Context, message *OutboundMessage) (*bytes.Buffer, error) {
	buffer := bytes.NewBuffer(nil)

	headers := s.buildHeaders(message)

	if message.BodyHTML != "" || len(message.Attachments) > 0 {
		if err := s.buildMultipart(ctx, message, headers, buffer); err != nil {
			return nil, err
		}
		return buffer, nil
	}

	headers["Content-Type"] = "text/plain; charset=UTF-8"
	writeHeaders(headers, buffer)
	buffer.WriteString(message.BodyText)
	return buffer, nil
}

func (s *Service) buildHeaders(message *OutboundMessage) map[string]string {
	headers := map[string]string{
		"From":         message.From,
		"Subject":      message.Subject,
		"Date":         utils.Now().Format(time.RFC1123Z),
		"MIME-Version": "1.0",
		"Message-ID":   fmt.Sprintf("<%s@%s>", utils.GenerateNanoIdWithPrefix("out", 21), s.config.FromDomain),
	}
	if len(message.To) > 0 {
		headers["To"] = joinAddresses(message.To)
	}
	if len(message.Cc) > 0 {
		headers["Cc"] = joinAddresses(message.Cc)
	}
	return headers
}

func (s *Service) buildMultipart(ctx context.Context, message *OutboundMessage, headers map[string]string, buffer *bytes.Buffer) error {
	writer := multipart.NewWriter(buffer)
	headers["Content-Type"] = "multipart/mixed; boundary=" + writer.Boundary()

	writeHeaders(headers, buffer)

	if message.BodyText != "" {
		part, err := writer.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {"text/plain; charset=UTF-8"},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return errors.Wrap(err, "failed to create text part")
		}
		if _, err := part.Write([]byte(message.BodyText)); err != nil {
			return errors.Wrap(err, "failed to write text content")
		}
	}

	if message.BodyHTML != "" {
		part, err := writer.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {"text/html; charset=UTF-8"},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return errors.Wrap(err, "failed to create HTML part")
		}
		if _, err := part.Write([]byte(message.BodyHTML)); err != nil {
			return errors.Wrap(err, "failed to write HTML content")
		}
	}

	for i := range message.Attachments {
		attachment := &message.Attachments[i]
		part, err := writer.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {fmt.Sprintf("%s; name=%q", attachment.ContentType, attachment.Filename)},
			"Content-Disposition":       {fmt.Sprintf("attachment; filename=%q", attachment.Filename)},
			"Content-Transfer-Encoding": {"base64"},
		})
		if err != nil {
			return errors.Wrap(err, "failed to create attachment part")
		}
		if _, err := part.Write(attachment.Content); err != nil {
			return errors.Wrap(err, "failed to write attachment content")
		}
	}

	return writer.Close()
}

func writeHeaders(headers map[string]string, buffer *bytes.Buffer) {
	for k, v := range headers {
		buffer.WriteString(fmt.Sprintf("%s: %s\r\n", k, v))
	}
	buffer.WriteString("\r\n")
}

func joinAddresses(addrs []string) string {
	out := ""
	for i, a := range addrs {
		if i > 0 {
			out += ", "
		}
		out += a
	}
	return out
}

func (s *Service) sendToServer(ctx context.Context, from string, recipients []string, buffer *bytes.Buffer) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "smtpService.sendToServer")
	defer span.Finish()
	tracing.TagComponentService(span)

	addr := fmt.Sprintf("%s:%d", s.config.Server, s.config.Port)
	auth := smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Server)

	switch s.config.Security {
	case enum.EmailSecurityTLS:
		return s.sendWithExplicitTLS(ctx, addr, auth, from, recipients, buffer)
	case enum.EmailSecurityStartTLS:
		return s.sendWithSTARTTLS(ctx, addr, auth, from, recipients, buffer)
	}

	if err := smtp.SendMail(addr, auth, from, recipients, buffer.Bytes()); err != nil {
		return errors.Wrap(err, "failed to send email")
	}
	return nil
}

func (s *Service) sendWithSTARTTLS(ctx context.Context, addr string, auth smtp.Auth, from string, recipients []string, buffer *bytes.Buffer) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "smtpService.sendWithSTARTTLS")
	defer span.Finish()
	tracing.TagComponentService(span)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return errors.Wrap(err, "failed to connect to SMTP server")
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, s.config.Server)
	if err != nil {
		return errors.Wrap(err, "failed to create SMTP client")
	}
	defer client.Close()

	if err = client.StartTLS(&tls.Config{ServerName: s.config.Server}); err != nil {
		return errors.Wrap(err, "failed to start TLS")
	}

	return s.submit(client, auth, from, recipients, buffer)
}

func (s *Service) sendWithExplicitTLS(ctx context.Context, addr string, auth smtp.Auth, from string, recipients []string, buffer *bytes.Buffer) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "smtpService.sendWithExplicitTLS")
	defer span.Finish()
	tracing.TagComponentService(span)

	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: s.config.Server})
	if err != nil {
		return errors.Wrap(err, "failed to connect to SMTP server")
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, s.config.Server)
	if err != nil {
		return errors.Wrap(err, "failed to create SMTP client")
	}
	defer client.Close()

	return s.submit(client, auth, from, recipients, buffer)
}

func (s *Service) submit(client *smtp.Client, auth smtp.Auth, from string, recipients []string, buffer *bytes.Buffer) error {
	if err := client.Auth(auth); err != nil {
		return errors.Wrap(err, "SMTP authentication failed")
	}
	if err := client.Mail(from); err != nil {
		return errors.Wrap(err, "SMTP MAIL command failed")
	}
	for _, recipient := range recipients {
		if err := client.Rcpt(recipient); err != nil {
			return errors.Wrapf(err, "SMTP RCPT command failed for %s", recipient)
		}
	}

	dataWriter, err := client.Data()
	if err != nil {
		return errors.Wrap(err, "SMTP DATA command failed")
	}
	if _, err = dataWriter.Write(buffer.Bytes()); err != nil {
		return errors.Wrap(err, "failed to write email data")
	}
	if err = dataWriter.Close(); err != nil {
		return errors.Wrap(err, "failed to close data writer")
	}

	return client.Quit()
}
