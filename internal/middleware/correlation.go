// Package middleware contains the Gin middleware the demo host mounts in
// front of the signaling endpoints.
package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/livesync/core/internal/logging"
)

// HeaderXCorrelationID is the header key for the correlation ID.
const HeaderXCorrelationID = "X-Correlation-ID"

// Correlation tags every request with a correlation id and, on the
// signaling routes, the container id being joined. Both land in the
// request's context.Context, which is what the logging helpers and the
// websocket upgrade path read their fields from — so every log line
// written while serving the request (or upgrading it into a peer
// connection) carries correlation_id and container_id without the
// handlers threading them by hand.
func Correlation() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader(HeaderXCorrelationID)
		if correlationID == "" {
			correlationID = uuid.NewString()
		}

		// Echo back so a client that didn't send one can still quote it
		// when reporting a problem.
		c.Header(HeaderXCorrelationID, correlationID)

		ctx := context.WithValue(c.Request.Context(), logging.CorrelationIDKey, correlationID)
		if containerID := c.Param("containerId"); containerID != "" {
			ctx = context.WithValue(ctx, logging.ContainerIDKey, containerID)
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}
