package controllers

import (
	"net/http"

	"chat-sync/config"
	"chat-sync/engine"
	"chat-sync/middlewares"
	"chat-sync/models"
	"chat-sync/repository"
	"chat-sync/services"
	"chat-sync/utils"

	"github.com/gin-gonic/gin"
)

// conversationFromQuery 根据 peer_id / group_id 构造会话（两者必须恰好一个）
func conversationFromQuery(c *gin.Context, selfID string) (engine.Conversation, bool) {
	peerID := c.Query("peer_id")
	groupID := c.Query("group_id")

	if (peerID == "") == (groupID == "") {
		utils.RespondError(c, http.StatusBadRequest, "Exactly one of peer_id and group_id is required")
		return engine.Conversation{}, false
	}

	if groupID != "" {
		var group models.Group
		if err := config.DB.Where("group_id = ?", groupID).First(&group).Error; err != nil {
			utils.RespondError(c, http.StatusNotFound, "Group not found")
			return engine.Conversation{}, false
		}
		var member models.GroupMember
		if err := config.DB.Where("group_id = ? AND user_id = ?", groupID, selfID).First(&member).Error; err != nil {
			utils.RespondError(c, http.StatusForbidden, "You are not a member of this group")
			return engine.Conversation{}, false
		}
		return engine.NewGroup(selfID, engine.Group{ID: group.GroupID, Name: group.GroupName}), true
	}

	var peer models.User
	if err := config.DB.Where("id = ?", peerID).First(&peer).Error; err != nil {
		utils.RespondError(c, http.StatusNotFound, "Peer not found")
		return engine.Conversation{}, false
	}
	return engine.NewDirect(selfID, engine.Profile{ID: peer.ID, Username: peer.Username}), true
}

// 获取会话的消息列表
func GetMessages(c *gin.Context) {
	userInfo, ok := middlewares.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	conv, ok := conversationFromQuery(c, userInfo.ID)
	if !ok {
		return
	}

	msgs, err := repository.NewMessages(config.DB).History(c.Request.Context(), conv)
	if err != nil {
		config.Logger.Error().Err(err).Msg("failed to fetch messages")
		utils.RespondError(c, http.StatusInternalServerError, "Failed to fetch messages")
		return
	}
	utils.RespondSuccess(c, msgs, gin.H{"channel": conv.Key()})
}

// 发送消息：入库后通过推送中心广播插入事件
func SendMessage(c *gin.Context) {
	userInfo, ok := middlewares.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	var input struct {
		ClientID string `json:"client_id"`
		PeerID   string `json:"peer_id"`
		GroupID  string `json:"group_id"`
		Content  string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if (input.PeerID == "") == (input.GroupID == "") {
		utils.RespondError(c, http.StatusBadRequest, "Exactly one of peer_id and group_id is required")
		return
	}

	if input.GroupID != "" {
		var member models.GroupMember
		if err := config.DB.Where("group_id = ? AND user_id = ?", input.GroupID, userInfo.ID).First(&member).Error; err != nil {
			utils.RespondError(c, http.StatusForbidden, "You are not a member of this group")
			return
		}
	} else {
		var peer models.User
		if err := config.DB.Where("id = ?", input.PeerID).First(&peer).Error; err != nil {
			utils.RespondError(c, http.StatusNotFound, "Peer not found")
			return
		}
	}

	stored, err := repository.NewMessages(config.DB).Insert(c.Request.Context(), engine.Message{
		ClientID:   input.ClientID,
		SenderID:   userInfo.ID,
		ReceiverID: input.PeerID,
		GroupID:    input.GroupID,
		Content:    input.Content,
	})
	if err != nil {
		config.Logger.Error().Err(err).Msg("failed to store message")
		utils.RespondError(c, http.StatusInternalServerError, "Failed to send message")
		return
	}

	services.PushHub.Publish(models.Message{
		MessageID:  stored.ID,
		ClientID:   stored.ClientID,
		SenderID:   stored.SenderID,
		ReceiverID: stored.ReceiverID,
		GroupID:    stored.GroupID,
		Content:    stored.Content,
		CreatedAt:  stored.CreatedAt,
	})

	utils.RespondSuccess(c, stored, nil)
}
