package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/terrainiq/dashcam-server/internal/config"
	"github.com/terrainiq/dashcam-server/internal/middleware"
	"github.com/terrainiq/dashcam-server/internal/repository"
	"github.com/terrainiq/dashcam-server/internal/services/storage"
	"github.com/terrainiq/dashcam-server/internal/services/upload"
)

// Dependencies are the services the HTTP surface is built on.
type Dependencies struct {
	Tracker *upload.Tracker
	Disk    *storage.Disk
	Catalog repository.Catalog
	// Events is optional.
	Events EventSource
	// RateLimiter is optional.
	RateLimiter *middleware.RateLimiter
}

// NewRouter wires every route of the upload server.
func NewRouter(cfg *config.Config, deps Dependencies) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORS(cfg.AllowedOrigins))
	if deps.RateLimiter != nil {
		router.Use(deps.RateLimiter.Middleware())
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	heartbeat := NewHeartbeatHandler()
	router.POST("/heartbeat", heartbeat.Heartbeat)

	authHandler := NewAuthHandler(cfg)
	router.POST("/auth/token", authHandler.Token)

	uploads := NewUploadHandler(deps.Tracker, cfg.PublicURL)
	protected := router.Group("/")
	protected.Use(middleware.Auth(cfg))
	{
		protected.POST("/upload/register", uploads.Register)
		protected.POST("/upload/chunk/:upload_id", uploads.Chunk)
		protected.POST("/upload/complete/:upload_id", uploads.Complete)
		protected.GET("/upload/status/:upload_id", uploads.Status)
		protected.GET("/uploads", uploads.List)
	}

	recordings := NewRecordingHandler(deps.Catalog, deps.Events)
	router.GET("/api/recordings", recordings.List)
	router.GET("/api/events", recordings.Events)

	videos := NewStaticHandler(deps.Disk, storage.VideosDir)
	router.GET("/videos/*filepath", videos.Serve)
	router.HEAD("/videos/*filepath", videos.Serve)
	data := NewStaticHandler(deps.Disk, storage.DataDir)
	router.GET("/data/*filepath", data.Serve)
	router.HEAD("/data/*filepath", data.Serve)

	return router
}
