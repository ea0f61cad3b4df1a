package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/techagentng/citizenchat/config"
	"github.com/techagentng/citizenchat/db"
	"github.com/techagentng/citizenchat/realtime"
	"github.com/techagentng/citizenchat/services"
)

// Server holds the dependencies of the http and socket handlers.
type Server struct {
	Config              *config.Config
	Hub                 *realtime.Hub
	UserRepository      db.UserRepository
	ChatService         services.ChatService
	RelationshipService services.RelationshipService
	AttachmentService   services.AttachmentService
	// Gatherer backs /metrics. prometheus.DefaultGatherer when nil.
	Gatherer prometheus.Gatherer
}

// Start serves until SIGINT or SIGTERM, then drains in-flight requests.
func (s *Server) Start() {
	r := s.setupRouter()

	PORT := fmt.Sprintf(":%d", s.Config.Port)
	if PORT == ":0" {
		PORT = ":8080"
	}
	srv := &http.Server{
		Addr:    PORT,
		Handler: r,
	}
	go func() {
		log.Printf("Server started on %s\n", PORT)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	log.Println("Server exiting")
}
