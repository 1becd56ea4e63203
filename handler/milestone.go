package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/upshift01/upshift-sub003/middleware"
	"github.com/upshift01/upshift-sub003/service"
)

type MilestoneHandler struct {
	milestones *service.MilestoneService
	contracts  *service.ContractService
	// storage is nil when no blob storage is configured; deliverable
	// endpoints then report 503.
	storage *service.DeliverableStorage
}

func NewMilestoneHandler(milestones *service.MilestoneService, contracts *service.ContractService, storage *service.DeliverableStorage) *MilestoneHandler {
	return &MilestoneHandler{
		milestones: milestones,
		contracts:  contracts,
		storage:    storage,
	}
}

type SubmitMilestoneRequest struct {
	Notes string `json:"notes"`
}

// milestoneState fetches the milestone for inclusion in error responses.
func (h *MilestoneHandler) milestoneState(c *gin.Context, actorID string) any {
	_, milestones, err := h.contracts.Get(c.Request.Context(), c.Param("id"), actorID)
	if err != nil {
		return nil
	}
	for _, m := range milestones {
		if m.ID == c.Param("mid") {
			return m
		}
	}
	return nil
}

// Submit hands the milestone to the employer for review.
func (h *MilestoneHandler) Submit(c *gin.Context) {
	var req SubmitMilestoneRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
	}

	actorID := middleware.GetUserID(c)
	milestone, err := h.milestones.Submit(c.Request.Context(), c.Param("id"), c.Param("mid"), actorID, req.Notes)
	if err != nil {
		writeError(c, err, h.milestoneState(c, actorID))
		return
	}
	c.JSON(http.StatusOK, gin.H{"milestone": milestone})
}

// Approve accepts a submitted milestone.
func (h *MilestoneHandler) Approve(c *gin.Context) {
	actorID := middleware.GetUserID(c)
	milestone, err := h.milestones.Approve(c.Request.Context(), c.Param("id"), c.Param("mid"), actorID)
	if err != nil {
		writeError(c, err, h.milestoneState(c, actorID))
		return
	}
	c.JSON(http.StatusOK, gin.H{"milestone": milestone})
}

// Reject sends a submitted milestone back to in_progress.
func (h *MilestoneHandler) Reject(c *gin.Context) {
	actorID := middleware.GetUserID(c)
	milestone, err := h.milestones.Reject(c.Request.Context(), c.Param("id"), c.Param("mid"), actorID)
	if err != nil {
		writeError(c, err, h.milestoneState(c, actorID))
		return
	}
	c.JSON(http.StatusOK, gin.H{"milestone": milestone})
}

// Pay opens (or returns the existing) checkout session for an approved
// milestone. The response carries the redirect URL the payer must visit; the
// milestone becomes paid only after the provider confirms.
func (h *MilestoneHandler) Pay(c *gin.Context) {
	actorID := middleware.GetUserID(c)
	result, err := h.milestones.Pay(c.Request.Context(), c.Param("id"), c.Param("mid"), actorID)
	if err != nil {
		writeError(c, err, h.milestoneState(c, actorID))
		return
	}
	c.JSON(http.StatusOK, result)
}

// UploadDeliverable stores a deliverable file for the milestone.
func (h *MilestoneHandler) UploadDeliverable(c *gin.Context) {
	if h.storage == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Deliverable storage is not configured"})
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	actorID := middleware.GetUserID(c)
	objectName := h.storage.ObjectName(c.Param("id"), c.Param("mid"), header.Filename)

	if err := h.storage.Upload(c.Request.Context(), objectName, file, header.Size, contentType); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to upload file: " + err.Error()})
		return
	}

	milestone, err := h.milestones.AttachDeliverable(c.Request.Context(), c.Param("id"), c.Param("mid"), actorID, objectName, header.Filename)
	if err != nil {
		// The milestone rejected the attachment; don't leave the orphan
		// object behind.
		_ = h.storage.Delete(c.Request.Context(), objectName)
		writeError(c, err, h.milestoneState(c, actorID))
		return
	}

	c.JSON(http.StatusOK, gin.H{"milestone": milestone})
}

// GetDeliverable returns a presigned download URL for the milestone's
// deliverable, visible to both parties.
func (h *MilestoneHandler) GetDeliverable(c *gin.Context) {
	if h.storage == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Deliverable storage is not configured"})
		return
	}

	actorID := middleware.GetUserID(c)
	_, milestones, err := h.contracts.Get(c.Request.Context(), c.Param("id"), actorID)
	if err != nil {
		writeError(c, err, nil)
		return
	}

	for _, m := range milestones {
		if m.ID != c.Param("mid") {
			continue
		}
		if m.DeliverableObject == "" {
			c.JSON(http.StatusNotFound, gin.H{"error": "Milestone has no deliverable"})
			return
		}
		url, err := h.storage.PresignedURL(c.Request.Context(), m.DeliverableObject)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate URL: " + err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"filename": m.DeliverableName,
			"url":      url,
		})
		return
	}

	c.JSON(http.StatusNotFound, gin.H{"error": "Milestone not found"})
}
