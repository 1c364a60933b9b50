package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mailbridge/mailbridge/internal/tracing"
	"github.com/mailbridge/mailbridge/services/smtp"
)

type sendRequest struct {
	From     string   `json:"from"`
	To       []string `json:"to" binding:"required"`
	Cc       []string `json:"cc"`
	Bcc      []string `json:"bcc"`
	Subject  string   `json:"subject" binding:"required"`
	BodyText string   `json:"bodyText"`
	BodyHTML string   `json:"bodyHtml"`

	Attachments []sendAttachment `json:"attachments"`
}

type sendAttachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	// Content is base64 in the JSON payload.
	Content []byte `json:"content"`
}

// SendEmail submits an outbound message through SMTP.
func SendEmail(smtpService *smtp.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "SendEmail", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		var request sendRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		message := &smtp.OutboundMessage{
			From:     request.From,
			To:       request.To,
			Cc:       request.Cc,
			Bcc:      request.Bcc,
			Subject:  request.Subject,
			BodyText: request.BodyText,
			BodyHTML: request.BodyHTML,
		}
		for _, attachment := range request.Attachments {
			message.Attachments = append(message.Attachments, smtp.OutboundAttachment{
				Filename:    attachment.Filename,
				ContentType: attachment.ContentType,
				Content:     attachment.Content,
			})
		}

		if err := smtpService.Send(ctx, message); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusAccepted, gin.H{"status": "sent", "subject": request.Subject})
	}
}
