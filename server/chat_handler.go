package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	errs "github.com/techagentng/citizenchat/errors"
	"github.com/techagentng/citizenchat/models"
	"github.com/techagentng/citizenchat/server/response"
)

type historyQuery struct {
	Before string `form:"before" json:"before" binding:"omitempty,uuid"`
	After  string `form:"after" json:"after" binding:"omitempty,uuid"`
	Limit  int    `form:"limit" json:"limit" binding:"omitempty,min=1"`
}

// decode reads a json body into v, trims its conform tagged fields and
// validates it. An empty body decodes to the zero value when optional is true.
func decode(c *gin.Context, v interface{}, optional bool) error {
	if err := json.NewDecoder(c.Request.Body).Decode(v); err != nil {
		if !(optional && err == io.EOF) {
			return errs.InvalidInput("invalid request body")
		}
	}
	return models.ValidateStruct(v)
}

func currentUser(c *gin.Context) (uint, bool) {
	userID, ok := userIDFromContext(c)
	if !ok {
		response.JSON(c, "", http.StatusUnauthorized, nil, errs.New("Unauthorized", http.StatusUnauthorized))
	}
	return userID, ok
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.JSON(c, "", http.StatusBadRequest, nil, errs.InvalidInput("invalid "+name))
		return uuid.Nil, false
	}
	return id, true
}

func userParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		response.JSON(c, "", http.StatusBadRequest, nil, errs.InvalidInput("invalid user id"))
		return 0, false
	}
	return uint(id), true
}

func optionalUUID(s string) *uuid.UUID {
	if s == "" {
		return nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil
	}
	return &id
}

func (s *Server) handleCreateConversation() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		var req models.CreateConversationRequest
		if err := decode(c, &req, false); err != nil {
			response.Error(c, err)
			return
		}

		conv, created, err := s.ChatService.CreateConversation(c.Request.Context(), userID, req.RecipientID)
		if err != nil {
			response.Error(c, err)
			return
		}
		if created {
			response.JSON(c, "Conversation created", http.StatusCreated, conv, nil)
			return
		}
		response.JSON(c, "Conversation found", http.StatusOK, conv, nil)
	}
}

func (s *Server) handleGetChatList() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		archived, err := strconv.ParseBool(c.DefaultQuery("archived", "false"))
		if err != nil {
			response.Error(c, errs.InvalidInput("archived must be true or false"))
			return
		}

		items, err := s.ChatService.ChatList(c.Request.Context(), userID, archived)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, "Chats retrieved successfully", http.StatusOK, items, nil)
	}
}

func (s *Server) handleGetMessages() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		conversationID, ok := uuidParam(c, "id")
		if !ok {
			return
		}
		var q historyQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			response.Error(c, models.ValidationError(err))
			return
		}

		page, err := s.ChatService.History(c.Request.Context(), userID, conversationID, optionalUUID(q.Before), optionalUUID(q.After), q.Limit)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, "Messages retrieved successfully", http.StatusOK, page, nil)
	}
}

func (s *Server) handleSendMessage() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		conversationID, ok := uuidParam(c, "id")
		if !ok {
			return
		}
		var body models.SendMessageBody
		if err := decode(c, &body, false); err != nil {
			response.Error(c, err)
			return
		}

		msg, err := s.ChatService.SendMessage(c.Request.Context(), userID, models.SendMessageRequest{
			ConversationID: conversationID,
			Content:        body.Content,
			Type:           body.Type,
			Metadata:       body.Metadata,
		})
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, "Message sent", http.StatusCreated, msg, nil)
	}
}

func (s *Server) handleMarkRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		conversationID, ok := uuidParam(c, "id")
		if !ok {
			return
		}
		var req models.MarkReadRequest
		if err := decode(c, &req, true); err != nil {
			response.Error(c, err)
			return
		}

		result, err := s.ChatService.MarkRead(c.Request.Context(), userID, conversationID, optionalUUID(req.LastReadMessageID))
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, "Messages marked as read", http.StatusOK, result, nil)
	}
}

func (s *Server) handleGetUnreadCount() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		total, err := s.ChatService.UnreadTotal(c.Request.Context(), userID)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, "", http.StatusOK, gin.H{"count": total}, nil)
	}
}

func (s *Server) handleEditMessage() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		messageID, ok := uuidParam(c, "id")
		if !ok {
			return
		}
		var req models.EditMessageRequest
		if err := decode(c, &req, false); err != nil {
			response.Error(c, err)
			return
		}

		msg, err := s.ChatService.EditMessage(c.Request.Context(), userID, messageID, req.Content)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, "Message updated", http.StatusOK, msg, nil)
	}
}

func (s *Server) handleDeleteMessage() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		messageID, ok := uuidParam(c, "id")
		if !ok {
			return
		}

		msg, err := s.ChatService.DeleteMessage(c.Request.Context(), userID, messageID)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, "Message deleted", http.StatusOK, msg, nil)
	}
}

func (s *Server) handleReportMessage() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		messageID, ok := uuidParam(c, "id")
		if !ok {
			return
		}
		var req models.ReportMessageRequest
		if err := decode(c, &req, false); err != nil {
			response.Error(c, err)
			return
		}

		report, err := s.ChatService.ReportMessage(c.Request.Context(), userID, messageID, req.Reason)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, "Message reported", http.StatusCreated, report, nil)
	}
}

// relationHandler wraps the block and archive mutators, which all take the
// acting user and the target user from the path.
func (s *Server) relationHandler(message string, action func(c *gin.Context, userID, targetID uint) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		targetID, ok := userParam(c)
		if !ok {
			return
		}
		if err := action(c, userID, targetID); err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, message, http.StatusOK, gin.H{"user_id": targetID}, nil)
	}
}

func (s *Server) handleBlockUser() gin.HandlerFunc {
	return s.relationHandler("User blocked", func(c *gin.Context, userID, targetID uint) error {
		return s.RelationshipService.Block(c.Request.Context(), userID, targetID)
	})
}

func (s *Server) handleUnblockUser() gin.HandlerFunc {
	return s.relationHandler("User unblocked", func(c *gin.Context, userID, targetID uint) error {
		return s.RelationshipService.Unblock(c.Request.Context(), userID, targetID)
	})
}

func (s *Server) handleArchiveChat() gin.HandlerFunc {
	return s.relationHandler("Chat archived", func(c *gin.Context, userID, targetID uint) error {
		return s.RelationshipService.Archive(c.Request.Context(), userID, targetID)
	})
}

func (s *Server) handleUnarchiveChat() gin.HandlerFunc {
	return s.relationHandler("Chat unarchived", func(c *gin.Context, userID, targetID uint) error {
		return s.RelationshipService.Unarchive(c.Request.Context(), userID, targetID)
	})
}

// handleGetOnlineUsers returns the presence of the users listed in ?ids=1,2,
// or every online user when ids is absent.
func (s *Server) handleGetOnlineUsers() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Query("ids")
		if raw == "" {
			response.JSON(c, "Successfully fetched online users", http.StatusOK, gin.H{"user_ids": s.Hub.OnlineUsers()}, nil)
			return
		}

		presence := make(map[string]bool)
		for _, part := range strings.Split(raw, ",") {
			id, err := strconv.ParseUint(strings.TrimSpace(part), 10, 64)
			if err != nil {
				response.JSON(c, "", http.StatusBadRequest, nil, errs.InvalidInput("ids must be a comma separated list of user ids"))
				return
			}
			presence[strconv.FormatUint(id, 10)] = s.Hub.IsOnline(uint(id))
		}
		response.JSON(c, "Successfully fetched online users", http.StatusOK, gin.H{"presence": presence}, nil)
	}
}

func (s *Server) handleUploadAttachment() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		fileHeader, err := c.FormFile("file")
		if err != nil {
			response.JSON(c, "", http.StatusBadRequest, nil, errs.InvalidInput("file is required"))
			return
		}
		file, err := fileHeader.Open()
		if err != nil {
			response.JSON(c, "", http.StatusBadRequest, nil, errs.InvalidInput("could not open file"))
			return
		}
		defer file.Close()

		att, err := s.AttachmentService.Upload(c.Request.Context(), userID, fileHeader.Filename, file)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, "File uploaded successfully", http.StatusCreated, gin.H{
			"attachment": att,
			"metadata":   att.Metadata(),
		}, nil)
	}
}

func (s *Server) handleRegisterDeviceToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		var req models.DeviceTokenRequest
		if err := decode(c, &req, false); err != nil {
			response.Error(c, err)
			return
		}

		token := &models.DeviceToken{UserID: userID, Token: req.Token, Platform: req.Platform}
		if err := s.UserRepository.SaveDeviceToken(c.Request.Context(), token); err != nil {
			response.Error(c, errs.Internal("could not save device token", err))
			return
		}
		response.JSON(c, "Device token registered", http.StatusOK, nil, nil)
	}
}
