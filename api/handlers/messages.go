package handlers

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mailbridge/mailbridge/interfaces"
	"github.com/mailbridge/mailbridge/internal/models"
	"github.com/mailbridge/mailbridge/internal/tracing"
)

const defaultPageSize = 50

// ListMessages returns a folder page from the local store, refreshing
// it first when the staleness policy requires.
func ListMessages(client interfaces.MailClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "ListMessages", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		folder := c.DefaultQuery("folder", models.FolderInbox)
		tracing.TagFolder(span, folder)

		limit := intQuery(c, "limit", defaultPageSize)
		offset := intQuery(c, "offset", 0)

		messages, total, err := client.Messages(ctx, folder, limit, offset)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"messages":   messages,
			"totalCount": total,
		})
	}
}

// GetMessage returns a single message, falling back to the backend on a
// local miss.
func GetMessage(client interfaces.MailClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "GetMessage", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		id := c.Param("id")
		tracing.TagMessageId(span, id)

		message, err := client.Message(ctx, id)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, message)
	}
}

// SearchMessages runs a provider-neutral query and drains up to limit
// results from the lazy iterator.
func SearchMessages(client interfaces.MailClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "SearchMessages", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		rawQuery := c.Query("q")
		if rawQuery == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter q is required"})
			return
		}
		folder := c.Query("folder")
		tracing.TagFolder(span, folder)
		limit := intQuery(c, "limit", defaultPageSize)

		iterator, err := client.Search(ctx, rawQuery, folder)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		defer iterator.Close()

		messages, err := drainIterator(ctx, iterator, limit)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"messages": messages})
	}
}

// MarkRead marks a message read locally; the backend catches up via
// write-behind.
func MarkRead(client interfaces.MailClient) gin.HandlerFunc {
	return setReadHandler("MarkRead", func(ctx *gin.Context, client interfaces.MailClient, id string) error {
		return client.MarkRead(ctx.Request.Context(), id)
	}, client)
}

// MarkUnread marks a message unread locally.
func MarkUnread(client interfaces.MailClient) gin.HandlerFunc {
	return setReadHandler("MarkUnread", func(ctx *gin.Context, client interfaces.MailClient, id string) error {
		return client.MarkUnread(ctx.Request.Context(), id)
	}, client)
}

func setReadHandler(operation string, apply func(*gin.Context, interfaces.MailClient, string) error, client interfaces.MailClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), operation, c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		id := c.Param("id")
		tracing.TagMessageId(span, id)

		c.Request = c.Request.WithContext(ctx)
		if err := apply(c, client, id); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "ok", "id": id})
	}
}

type moveRequest struct {
	Folder string `json:"folder" binding:"required"`
}

// MoveMessage relocates a message to another folder.
func MoveMessage(client interfaces.MailClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "MoveMessage", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		id := c.Param("id")
		tracing.TagMessageId(span, id)

		var request moveRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		tracing.TagFolder(span, request.Folder)

		if err := client.Move(ctx, id, request.Folder); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "moved", "id": id, "folder": request.Folder})
	}
}

// DeleteMessage moves a message to trash.
func DeleteMessage(client interfaces.MailClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "DeleteMessage", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		id := c.Param("id")
		tracing.TagMessageId(span, id)

		if err := client.Delete(ctx, id); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "deleted", "id": id})
	}
}

// PurgeMessage evicts the local copy of a message. The remote copy is
// untouched and reappears on the folder's next sync.
func PurgeMessage(client interfaces.MailClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "PurgeMessage", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		id := c.Param("id")
		tracing.TagMessageId(span, id)

		if err := client.Purge(ctx, id); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "purged", "id": id})
	}
}

// GetAttachment streams an attachment payload.
func GetAttachment(client interfaces.MailClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "GetAttachment", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		messageID := c.Param("id")
		attachmentID := c.Param("attachmentId")
		tracing.TagMessageId(span, messageID)

		data, attachment, err := client.Attachment(ctx, messageID, attachmentID)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}

		contentType := attachment.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		c.Header("Content-Disposition", `attachment; filename="`+attachment.Filename+`"`)
		c.Data(http.StatusOK, contentType, data)
	}
}

func drainIterator(ctx context.Context, iterator interfaces.MessageIterator, limit int) ([]*models.Message, error) {
	messages := make([]*models.Message, 0, limit)
	for len(messages) < limit {
		message, err := iterator.Next(ctx)
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		messages = append(messages, message)
	}
	return messages, nil
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
