package server

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	eventdomain "github.com/smallbiznis/substation/internal/event/domain"
)

// IngestStripeWebhook is deliberately thin: persist the row, enqueue, return.
// Signature verification and classification happen in the worker so the
// processor's delivery timeout is never at risk.
func (s *Server) IngestStripeWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var env struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	headers := make(map[string]string, len(c.Request.Header))
	for name, values := range c.Request.Header {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}

	ev, err := s.eventSvc.Ingest(c.Request.Context(), eventdomain.IngestRequest{
		EventID:     env.ID,
		PayloadType: env.Type,
		Body:        body,
		Headers:     headers,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.log.Debug("notification accepted",
		zap.String("event_id", ev.EventID),
		zap.String("payload_type", ev.PayloadType))
	c.JSON(http.StatusOK, gin.H{"received": true})
}
