package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mailbridge/mailbridge/interfaces"
	"github.com/mailbridge/mailbridge/internal/tracing"
)

// HealthCheck reports process liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// SyncStatus reports per-folder synchronization state.
func SyncStatus(engine interfaces.SyncEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "SyncStatus", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		statuses, err := engine.Status(ctx)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"folders": statuses})
	}
}
