package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"freelancehub/internal/fanout"
	"freelancehub/internal/service"
	"freelancehub/pkg/otel"
	"freelancehub/pkg/rbac"
)

type RouterDeps struct {
	Service        *service.Marketplace
	Hub            *fanout.Hub
	Outbox         OutboxAdmin // nil 时不注册管理接口（非 postgres 存储没有 outbox）
	JWTSecret      string
	AllowedOrigins []string
	// Ready 检查依赖是否可用，nil 视为总是就绪
	Ready  func(ctx context.Context) error
	Logger *zap.Logger
}

func NewRouter(d RouterDeps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otel.GinMiddleware())
	r.Use(TraceMiddleware())
	r.Use(MetricsMiddleware())
	r.Use(AccessLog(d.Logger))
	r.Use(cors.New(corsConfig(d.AllowedOrigins)))

	// Health endpoints
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/readyz", func(c *gin.Context) {
		if d.Ready != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
			defer cancel()
			if err := d.Ready(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	projects := NewProjectHandler(d.Service, d.Logger)
	reviews := NewReviewHandler(d.Service, d.Logger)
	ws := NewWSHandler(d.Hub, d.Service, d.AllowedOrigins, d.Logger)

	auth := r.Group("/")
	auth.Use(AuthMiddleware(d.JWTSecret))
	{
		read := auth.Group("/", RequirePermission(rbac.PermissionReadProject))
		read.GET("/projects", projects.ListProjects)
		read.GET("/projects/:id", projects.GetProject)
		read.GET("/projects/:id/budget", projects.GetBudget)
		read.GET("/freelancers/:id/reviews", reviews.ListReviews)
		read.GET("/freelancers/:id/rating", reviews.GetRating)

		auth.POST("/projects", RequirePermission(rbac.PermissionCreateProject), projects.CreateProject)

		tr := auth.Group("/projects/:id", RequirePermission(rbac.PermissionTransition))
		tr.POST("/bids", projects.SubmitBid)
		tr.POST("/bids/:bid_id/accept", projects.AcceptBid)
		tr.POST("/bids/:bid_id/reject", projects.RejectBid)
		tr.POST("/bids/:bid_id/withdraw", projects.WithdrawBid)
		tr.POST("/milestones", projects.AddMilestone)
		tr.POST("/milestones/:milestone_id/complete", projects.CompleteMilestone)
		tr.POST("/milestones/:milestone_id/approve", projects.ApproveMilestone)
		tr.POST("/complete", projects.CompleteProject)
		tr.POST("/cancel", projects.CancelProject)

		auth.POST("/projects/:id/reviews", RequirePermission(rbac.PermissionWriteReview), reviews.SubmitReview)
		auth.POST("/reviews/:id/response", RequirePermission(rbac.PermissionRespondReview), reviews.RespondToReview)

		observe := auth.Group("/ws", RequirePermission(rbac.PermissionObserve))
		observe.GET("/projects/:id", ws.ObserveProject)
		observe.GET("/me", ws.ObserveUser)

		if d.Outbox != nil {
			admin := NewAdminHandler(d.Outbox, d.Logger)
			adm := auth.Group("/admin/outbox", RequirePermission(rbac.PermissionAdminOutbox))
			adm.POST("/replay", admin.ReplayOutboxEvent)
			adm.POST("/requeue", admin.RequeueOutboxEvent)
			adm.POST("/replay-failed", admin.ReplayFailedEvents)
		}
	}
	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowHeaders = append(cfg.AllowHeaders, "Authorization", "X-Trace-ID")
	cfg.ExposeHeaders = []string{"X-Trace-ID"}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}
