package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	customerdomain "github.com/smallbiznis/substation/internal/customer/domain"
)

type planView struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	DisplayPrice int64  `json:"display_price"`
}

type subscriptionView struct {
	SubscriptionID    string     `json:"subscription_id"`
	Status            string     `json:"status"`
	PriceID           string     `json:"price_id"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
	CurrentPeriodEnd  *time.Time `json:"current_period_end,omitempty"`
}

type billingStateView struct {
	AccountID        string            `json:"account_id"`
	State            string            `json:"state"`
	Plan             planView          `json:"plan"`
	CurrentPeriodEnd *time.Time        `json:"current_period_end,omitempty"`
	CCInfo           map[string]any    `json:"cc_info,omitempty"`
	Subscription     *subscriptionView `json:"subscription,omitempty"`
}

func renderStateView(view customerdomain.StateView) billingStateView {
	out := billingStateView{
		AccountID: view.Customer.AccountID,
		State:     string(view.State),
		Plan: planView{
			ID:           view.Customer.Plan.ID.String(),
			Name:         view.Customer.Plan.Name,
			Type:         string(view.Customer.Plan.Type),
			DisplayPrice: view.Customer.Plan.DisplayPrice,
		},
		CurrentPeriodEnd: view.Customer.CurrentPeriodEnd,
		CCInfo:           map[string]any(view.Customer.CCInfo),
	}
	if view.Current != nil {
		out.Subscription = &subscriptionView{
			SubscriptionID:    view.Current.SubscriptionID,
			Status:            string(view.Current.Status),
			PriceID:           view.Current.PriceID,
			CancelAtPeriodEnd: view.Current.CancelAtPeriodEnd,
			CurrentPeriodEnd:  view.Current.CurrentPeriodEnd,
		}
	}
	return out
}

func (s *Server) GetBillingState(c *gin.Context) {
	view, err := s.customerSvc.GetState(c.Request.Context(), c.Param("account_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": renderStateView(view)})
}

func (s *Server) GetLimit(c *gin.Context) {
	value, err := s.customerSvc.GetLimit(c.Request.Context(), c.Param("account_id"), c.Param("name"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"name":  c.Param("name"),
		"value": value,
	}})
}

type createSubscriptionRequest struct {
	PaymentMethodID string `json:"payment_method_id"`
}

func (s *Server) CreateSubscription(c *gin.Context) {
	var req createSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	view, err := s.customerSvc.CreateSubscription(c.Request.Context(), customerdomain.CreateSubscriptionRequest{
		AccountID:       c.Param("account_id"),
		PaymentMethodID: req.PaymentMethodID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": renderStateView(view)})
}

func (s *Server) CancelSubscription(c *gin.Context) {
	if err := s.customerSvc.CancelSubscription(c.Request.Context(), c.Param("account_id")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"cancel_requested": true}})
}

func (s *Server) ReactivateSubscription(c *gin.Context) {
	if err := s.customerSvc.ReactivateSubscription(c.Request.Context(), c.Param("account_id")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"reactivated": true}})
}

type replacePaymentMethodRequest struct {
	PaymentMethodID string `json:"payment_method_id"`
}

func (s *Server) ReplacePaymentMethod(c *gin.Context) {
	var req replacePaymentMethodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	err := s.customerSvc.ReplacePaymentMethod(c.Request.Context(), c.Param("account_id"), req.PaymentMethodID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"updated": true}})
}

type accountHookRequest struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Active *bool  `json:"active"`
}

// AccountSaved is the onAccountSaved integration point for the account
// system: ensure the billing profile exists and cascade contact changes.
func (s *Server) AccountSaved(c *gin.Context) {
	var req accountHookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	cust, err := s.customerSvc.EnsureForAccount(c.Request.Context(), customerdomain.Account{
		ID:     req.ID,
		Name:   req.Name,
		Email:  req.Email,
		Active: active,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"account_id": cust.AccountID}})
}

func (s *Server) AccountDeleted(c *gin.Context) {
	var req accountHookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	err := s.customerSvc.OnAccountHardDeleted(c.Request.Context(), customerdomain.Account{ID: req.ID})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"deleted": true}})
}
