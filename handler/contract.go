package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/upshift01/upshift-sub003/middleware"
	"github.com/upshift01/upshift-sub003/model"
	"github.com/upshift01/upshift-sub003/service"
)

type ContractHandler struct {
	contracts *service.ContractService
}

func NewContractHandler(contracts *service.ContractService) *ContractHandler {
	return &ContractHandler{contracts: contracts}
}

type CreateContractRequest struct {
	ContractorID    string                   `json:"contractor_id" binding:"required"`
	Title           string                   `json:"title"`
	PaymentAmount   int64                    `json:"payment_amount" binding:"required"`
	PaymentCurrency string                   `json:"payment_currency" binding:"required"`
	Milestones      []service.MilestoneInput `json:"milestones,omitempty"`
}

type CancelContractRequest struct {
	Reason string `json:"reason"`
}

// currentState fetches the contract for inclusion in error responses, so the
// client always sees the authoritative state alongside a rejected action.
func (h *ContractHandler) currentState(c *gin.Context, contractID, actorID string) any {
	contract, _, err := h.contracts.Get(c.Request.Context(), contractID, actorID)
	if err != nil {
		return nil
	}
	return contract
}

// Create creates a new contract in draft, with the caller as employer.
func (h *ContractHandler) Create(c *gin.Context) {
	var req CreateContractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	contract, milestones, err := h.contracts.Create(c.Request.Context(), &service.CreateContractInput{
		EmployerID:      middleware.GetUserID(c),
		ContractorID:    req.ContractorID,
		Title:           req.Title,
		PaymentAmount:   req.PaymentAmount,
		PaymentCurrency: req.PaymentCurrency,
		Milestones:      req.Milestones,
	})
	if err != nil {
		writeError(c, err, nil)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"contract":   contract,
		"milestones": milestones,
	})
}

// List returns the contracts the caller is a party to.
func (h *ContractHandler) List(c *gin.Context) {
	contracts, err := h.contracts.ListForUser(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		writeError(c, err, nil)
		return
	}
	if contracts == nil {
		contracts = []*model.Contract{}
	}
	c.JSON(http.StatusOK, gin.H{"contracts": contracts})
}

// Get returns a single contract with its milestones.
func (h *ContractHandler) Get(c *gin.Context) {
	contract, milestones, err := h.contracts.Get(c.Request.Context(), c.Param("id"), middleware.GetUserID(c))
	if err != nil {
		writeError(c, err, nil)
		return
	}
	if milestones == nil {
		milestones = []*model.Milestone{}
	}
	c.JSON(http.StatusOK, gin.H{
		"contract":   contract,
		"milestones": milestones,
	})
}

// Sign records the caller's signature on the contract.
func (h *ContractHandler) Sign(c *gin.Context) {
	actorID := middleware.GetUserID(c)
	contract, err := h.contracts.Sign(c.Request.Context(), c.Param("id"), actorID)
	if err != nil {
		writeError(c, err, h.currentState(c, c.Param("id"), actorID))
		return
	}
	c.JSON(http.StatusOK, gin.H{"contract": contract})
}

// Complete marks the contract completed.
func (h *ContractHandler) Complete(c *gin.Context) {
	actorID := middleware.GetUserID(c)
	contract, err := h.contracts.Complete(c.Request.Context(), c.Param("id"), actorID)
	if err != nil {
		writeError(c, err, h.currentState(c, c.Param("id"), actorID))
		return
	}
	c.JSON(http.StatusOK, gin.H{"contract": contract})
}

// Cancel moves the contract to cancelled. A non-empty reason is required.
func (h *ContractHandler) Cancel(c *gin.Context) {
	var req CancelContractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	actorID := middleware.GetUserID(c)
	contract, err := h.contracts.Cancel(c.Request.Context(), c.Param("id"), actorID, req.Reason)
	if err != nil {
		writeError(c, err, h.currentState(c, c.Param("id"), actorID))
		return
	}
	c.JSON(http.StatusOK, gin.H{"contract": contract})
}

// Pay opens a checkout session for a contract paid as a whole.
func (h *ContractHandler) Pay(c *gin.Context) {
	actorID := middleware.GetUserID(c)
	result, err := h.contracts.Pay(c.Request.Context(), c.Param("id"), actorID)
	if err != nil {
		writeError(c, err, h.currentState(c, c.Param("id"), actorID))
		return
	}
	c.JSON(http.StatusOK, result)
}
