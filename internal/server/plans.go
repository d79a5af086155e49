package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	plandomain "github.com/smallbiznis/substation/internal/plan/domain"
)

type planRequest struct {
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	DisplayPrice int64   `json:"display_price"`
	PriceID      *string `json:"price_id"`
}

func renderPlan(plan plandomain.Plan) gin.H {
	out := gin.H{
		"id":            plan.ID.String(),
		"name":          plan.Name,
		"type":          string(plan.Type),
		"display_price": plan.DisplayPrice,
	}
	if plan.PriceID != nil {
		out["price_id"] = *plan.PriceID
	}
	return out
}

func (s *Server) CreatePlan(c *gin.Context) {
	var req planRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	plan, err := s.planSvc.Create(c.Request.Context(), plandomain.CreatePlanRequest{
		Name:         req.Name,
		Type:         plandomain.PlanType(req.Type),
		DisplayPrice: req.DisplayPrice,
		PriceID:      req.PriceID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": renderPlan(plan)})
}

func (s *Server) GetPlan(c *gin.Context) {
	plan, err := s.planSvc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": renderPlan(plan)})
}

func (s *Server) UpdatePlan(c *gin.Context) {
	var req planRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	plan, err := s.planSvc.Update(c.Request.Context(), plandomain.UpdatePlanRequest{
		ID:           c.Param("id"),
		Name:         req.Name,
		Type:         plandomain.PlanType(req.Type),
		DisplayPrice: req.DisplayPrice,
		PriceID:      req.PriceID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": renderPlan(plan)})
}

type limitRequest struct {
	Name         string `json:"name"`
	DefaultValue int64  `json:"default_value"`
}

func (s *Server) DefineLimit(c *gin.Context) {
	var req limitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	limit, err := s.planSvc.DefineLimit(c.Request.Context(), req.Name, req.DefaultValue)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"id":            limit.ID.String(),
		"name":          limit.Name,
		"default_value": limit.DefaultValue,
	}})
}

type planLimitRequest struct {
	Value int64 `json:"value"`
}

func (s *Server) SetPlanLimit(c *gin.Context) {
	var req planLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	err := s.planSvc.SetPlanLimit(c.Request.Context(), c.Param("id"), c.Param("name"), req.Value)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"plan_id": c.Param("id"),
		"name":    c.Param("name"),
		"value":   req.Value,
	}})
}
