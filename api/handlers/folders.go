package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mailbridge/mailbridge/interfaces"
	"github.com/mailbridge/mailbridge/internal/tracing"
)

// ListFolders returns the folder taxonomy reported by the backend.
func ListFolders(client interfaces.MailClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "ListFolders", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		folders, err := client.Folders(ctx)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"folders": folders})
	}
}

// RefreshFolder forces a synchronization pass regardless of staleness.
func RefreshFolder(client interfaces.MailClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "RefreshFolder", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		folder := c.Param("name")
		tracing.TagFolder(span, folder)

		if err := client.Refresh(ctx, folder); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "refreshed", "folder": folder})
	}
}

// InvalidateFolder marks a folder stale so the next read re-syncs it.
// Cached data stays in place.
func InvalidateFolder(client interfaces.MailClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "InvalidateFolder", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		folder := c.Param("name")
		tracing.TagFolder(span, folder)

		if err := client.Invalidate(ctx, folder); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "invalidated", "folder": folder})
	}
}
