package server

import (
	"fmt"
	"time"

	ratelimit "github.com/JGLTechnologies/gin-rate-limit"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/techagentng/citizenchat/models"
)

func (s *Server) setupRouter() *gin.Engine {
	binding.Validator = models.GinValidator{}

	r := gin.New()

	// LoggerWithFormatter middleware will write the logs to gin.DefaultWriter
	// By default gin.DefaultWriter = os.Stdout
	r.Use(gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
			param.ClientIP,
			param.TimeStamp.Format(time.RFC1123),
			param.Method,
			param.Path,
			param.Request.Proto,
			param.StatusCode,
			param.Latency,
			param.Request.UserAgent(),
			param.ErrorMessage,
		)
	}))
	r.Use(gin.Recovery())

	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:     []string{"Origin", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if s.Config.AccessControlAllowOrigin != "" {
		corsConfig.AllowOrigins = []string{s.Config.AccessControlAllowOrigin}
	} else {
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowCredentials = false
	}
	r.Use(cors.New(corsConfig))
	r.MaxMultipartMemory = 32 << 20

	s.defineRoutes(r)
	return r
}

func (s *Server) defineRoutes(router *gin.Engine) {
	gatherer := s.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	reportLimit := s.Config.ReportRateLimit
	if reportLimit == 0 {
		reportLimit = 5
	}
	store := ratelimit.InMemoryStore(&ratelimit.InMemoryOptions{
		Rate:  time.Minute,
		Limit: reportLimit,
	})
	limitReports := limitRateForReports(store)

	apirouter := router.Group("/api/v1")
	apirouter.GET("/ws", s.handleWebSocket())

	authorized := apirouter.Group("/")
	authorized.Use(s.Authorize())

	authorized.POST("/conversations", s.handleCreateConversation())
	authorized.GET("/conversations", s.handleGetChatList())
	authorized.GET("/conversations/:id/messages", s.handleGetMessages())
	authorized.POST("/conversations/:id/messages", s.handleSendMessage())
	authorized.POST("/conversations/:id/read", s.handleMarkRead())

	authorized.GET("/messages/unread/count", s.handleGetUnreadCount())
	authorized.PUT("/messages/:id", s.handleEditMessage())
	authorized.DELETE("/messages/:id", s.handleDeleteMessage())
	authorized.POST("/messages/:id/report", limitReports, s.handleReportMessage())

	authorized.POST("/users/:id/block", s.handleBlockUser())
	authorized.DELETE("/users/:id/block", s.handleUnblockUser())
	authorized.POST("/users/:id/archive", s.handleArchiveChat())
	authorized.DELETE("/users/:id/archive", s.handleUnarchiveChat())
	authorized.GET("/users/online", s.handleGetOnlineUsers())

	authorized.POST("/attachments", s.handleUploadAttachment())
	authorized.POST("/notifications/device-token", s.handleRegisterDeviceToken())
}
