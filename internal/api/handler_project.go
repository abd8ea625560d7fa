package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"freelancehub/internal/model"
	"freelancehub/internal/repository"
	"freelancehub/internal/service"
	"freelancehub/internal/transition"
)

type ProjectHandler struct {
	svc    *service.Marketplace
	logger *zap.Logger
}

func NewProjectHandler(svc *service.Marketplace, logger *zap.Logger) *ProjectHandler {
	return &ProjectHandler{svc: svc, logger: logger}
}

// CreateProject POST /projects
func (h *ProjectHandler) CreateProject(c *gin.Context) {
	var req transition.CreateProject
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	actor, _ := ActorFrom(c)
	p, err := h.svc.CreateProject(c.Request.Context(), actor, req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// GetProject GET /projects/:id
func (h *ProjectHandler) GetProject(c *gin.Context) {
	p, err := h.svc.GetProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// GetBudget GET /projects/:id/budget
func (h *ProjectHandler) GetBudget(c *gin.Context) {
	p, err := h.svc.GetProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, p.MilestoneBudgetReport())
}

// ListProjects GET /projects?status=open&client_id=&participant=&limit=50
func (h *ProjectHandler) ListProjects(c *gin.Context) {
	f := repository.ProjectFilter{
		Status:      model.ProjectStatus(c.Query("status")),
		ClientID:    c.Query("client_id"),
		Participant: c.Query("participant"),
	}
	if f.Status != "" && !f.Status.Valid() {
		badRequest(c, "unknown status")
		return
	}
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			badRequest(c, "invalid limit")
			return
		}
		f.Limit = limit
	}

	projects, err := h.svc.ListProjects(c.Request.Context(), f)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if projects == nil {
		projects = []model.Project{}
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects, "count": len(projects)})
}

// SubmitBid POST /projects/:id/bids
func (h *ProjectHandler) SubmitBid(c *gin.Context) {
	var cmd transition.SubmitBid
	if err := c.ShouldBindJSON(&cmd); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	h.transition(c, cmd)
}

// AcceptBid POST /projects/:id/bids/:bid_id/accept
func (h *ProjectHandler) AcceptBid(c *gin.Context) {
	h.transition(c, transition.AcceptBid{BidID: c.Param("bid_id")})
}

// RejectBid POST /projects/:id/bids/:bid_id/reject
func (h *ProjectHandler) RejectBid(c *gin.Context) {
	h.transition(c, transition.RejectBid{BidID: c.Param("bid_id")})
}

// WithdrawBid POST /projects/:id/bids/:bid_id/withdraw
func (h *ProjectHandler) WithdrawBid(c *gin.Context) {
	h.transition(c, transition.WithdrawBid{BidID: c.Param("bid_id")})
}

// AddMilestone POST /projects/:id/milestones
func (h *ProjectHandler) AddMilestone(c *gin.Context) {
	var cmd transition.AddMilestone
	if err := c.ShouldBindJSON(&cmd); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	h.transition(c, cmd)
}

// CompleteMilestone POST /projects/:id/milestones/:milestone_id/complete
func (h *ProjectHandler) CompleteMilestone(c *gin.Context) {
	h.transition(c, transition.CompleteMilestone{MilestoneID: c.Param("milestone_id")})
}

// ApproveMilestone POST /projects/:id/milestones/:milestone_id/approve
func (h *ProjectHandler) ApproveMilestone(c *gin.Context) {
	h.transition(c, transition.ApproveMilestone{MilestoneID: c.Param("milestone_id")})
}

// CompleteProject POST /projects/:id/complete
func (h *ProjectHandler) CompleteProject(c *gin.Context) {
	h.transition(c, transition.CompleteProject{})
}

// CancelProject POST /projects/:id/cancel
func (h *ProjectHandler) CancelProject(c *gin.Context) {
	h.transition(c, transition.CancelProject{})
}

func (h *ProjectHandler) transition(c *gin.Context, cmd transition.Command) {
	actor, _ := ActorFrom(c)
	p, err := h.svc.AttemptWithRetry(c.Request.Context(), actor, c.Param("id"), cmd)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
