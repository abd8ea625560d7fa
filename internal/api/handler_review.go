package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"freelancehub/internal/model"
	"freelancehub/internal/service"
)

type ReviewHandler struct {
	svc    *service.Marketplace
	logger *zap.Logger
}

func NewReviewHandler(svc *service.Marketplace, logger *zap.Logger) *ReviewHandler {
	return &ReviewHandler{svc: svc, logger: logger}
}

// SubmitReview POST /projects/:id/reviews
func (h *ReviewHandler) SubmitReview(c *gin.Context) {
	var req struct {
		Rating  int    `json:"rating"`
		Comment string `json:"comment"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	actor, _ := ActorFrom(c)
	r, err := h.svc.SubmitReview(c.Request.Context(), actor, c.Param("id"), req.Rating, req.Comment)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

// RespondToReview POST /reviews/:id/response
func (h *ReviewHandler) RespondToReview(c *gin.Context) {
	var req struct {
		Response string `json:"response"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	actor, _ := ActorFrom(c)
	r, err := h.svc.RespondToReview(c.Request.Context(), actor, c.Param("id"), req.Response)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// ListReviews GET /freelancers/:id/reviews
func (h *ReviewHandler) ListReviews(c *gin.Context) {
	reviews, err := h.svc.ListReviews(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if reviews == nil {
		reviews = []model.Review{}
	}
	c.JSON(http.StatusOK, gin.H{"reviews": reviews, "count": len(reviews)})
}

// GetRating GET /freelancers/:id/rating
func (h *ReviewHandler) GetRating(c *gin.Context) {
	r, err := h.svc.AverageRating(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"freelancer_id": c.Param("id"), "rating": r})
}
