package main

import (
	"context"
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/techagentng/citizenchat/config"
	"github.com/techagentng/citizenchat/db"
	"github.com/techagentng/citizenchat/realtime"
	"github.com/techagentng/citizenchat/server"
	"github.com/techagentng/citizenchat/services"
)

func main() {
	conf, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	gormDB := db.GetDB(conf)
	userRepo := db.NewUserRepo(gormDB)
	conversationRepo := db.NewConversationRepo(gormDB)
	messageRepo := db.NewMessageRepo(gormDB)
	relationshipRepo := db.NewRelationshipRepo(gormDB)

	hub := realtime.NewHub(realtime.HubOptions{
		Store:          userRepo,
		SweepInterval:  conf.TypingSweepInterval,
		PersistTimeout: conf.PersistTimeout,
		Metrics:        realtime.NewMetrics(prometheus.DefaultRegisterer),
	})
	hub.Start()
	defer hub.Stop()

	var notifier services.Notifier = services.NoopNotifier{}
	if conf.FirebaseCredentialsFile != "" {
		client, err := services.InitMessaging(context.Background(), conf.FirebaseCredentialsFile)
		if err != nil {
			log.Fatalf("error initializing Firebase: %v", err)
		}
		notifier = services.NewNotificationService(client, userRepo)
	} else {
		log.Println("push notifications disabled: no firebase credentials configured")
	}

	var uploader services.ObjectUploader
	if conf.AWSBucket != "" {
		client, err := services.NewS3Client(context.Background(), conf)
		if err != nil {
			log.Fatalf("error creating S3 client: %v", err)
		}
		uploader = client
	}

	relationshipService := services.NewRelationshipService(relationshipRepo, userRepo, conf)
	chatService := services.NewChatService(conversationRepo, messageRepo, userRepo, relationshipService, hub, notifier, conf)
	attachmentService := services.NewAttachmentService(uploader, conf)

	s := &server.Server{
		Config:              conf,
		Hub:                 hub,
		UserRepository:      userRepo,
		ChatService:         chatService,
		RelationshipService: relationshipService,
		AttachmentService:   attachmentService,
	}
	s.Start()
}
