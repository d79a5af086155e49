package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	eventdomain "github.com/smallbiznis/substation/internal/event/domain"
)

type eventView struct {
	ID          string         `json:"id"`
	EventID     string         `json:"event_id"`
	PayloadType string         `json:"payload_type"`
	Type        string         `json:"type"`
	Primary     bool           `json:"primary"`
	Status      string         `json:"status"`
	Note        string         `json:"note,omitempty"`
	AccountID   *string        `json:"account_id,omitempty"`
	SourceID    *string        `json:"source_id,omitempty"`
	Info        map[string]any `json:"info,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func renderEvent(ev eventdomain.StripeEvent) eventView {
	out := eventView{
		ID:          ev.ID.String(),
		EventID:     ev.EventID,
		PayloadType: ev.PayloadType,
		Type:        string(ev.Type),
		Primary:     ev.Primary,
		Status:      string(ev.Status),
		Note:        ev.Note,
		AccountID:   ev.AccountID,
		Info:        map[string]any(ev.Info),
		CreatedAt:   ev.CreatedAt,
		UpdatedAt:   ev.UpdatedAt,
	}
	if ev.SourceID != nil {
		src := ev.SourceID.String()
		out.SourceID = &src
	}
	return out
}

func (s *Server) ListEvents(c *gin.Context) {
	var query struct {
		AccountID string `form:"account_id"`
		Status    string `form:"status"`
		Type      string `form:"type"`
		Limit     int    `form:"limit"`
		Offset    int    `form:"offset"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	events, err := s.eventSvc.List(c.Request.Context(), eventdomain.ListQuery{
		AccountID: query.AccountID,
		Status:    eventdomain.Status(query.Status),
		Type:      eventdomain.Type(query.Type),
		Limit:     query.Limit,
		Offset:    query.Offset,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	views := make([]eventView, 0, len(events))
	for _, ev := range events {
		views = append(views, renderEvent(ev))
	}
	c.JSON(http.StatusOK, gin.H{"data": views})
}

func (s *Server) GetEvent(c *gin.Context) {
	id, err := parseLedgerID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid event id"))
		return
	}

	ev, err := s.eventSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": renderEvent(*ev)})
}

func (s *Server) ReplayEvent(c *gin.Context) {
	id, err := parseLedgerID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid event id"))
		return
	}

	clone, err := s.eventSvc.Replay(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": renderEvent(*clone)})
}

func parseLedgerID(raw string) (snowflake.ID, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	return snowflake.ID(id), nil
}
