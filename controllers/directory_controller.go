package controllers

import (
	"net/http"

	"chat-sync/config"
	"chat-sync/middlewares"
	"chat-sync/models"
	"chat-sync/services"
	"chat-sync/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// GetDirectory 返回可聊天对象：其他用户列表 + 自己所在的群组
func GetDirectory(c *gin.Context) {
	userInfo, ok := middlewares.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	var users []models.User
	if err := config.DB.Where("id <> ?", userInfo.ID).Find(&users).Error; err != nil {
		config.Logger.Error().Err(err).Msg("failed to fetch users")
		utils.RespondError(c, http.StatusInternalServerError, "Failed to fetch directory")
		return
	}

	var groups []models.Group
	err := config.DB.
		Joins("JOIN group_members ON group_members.group_id = groups.group_id").
		Where("group_members.user_id = ?", userInfo.ID).
		Find(&groups).Error
	if err != nil {
		config.Logger.Error().Err(err).Msg("failed to fetch groups")
		utils.RespondError(c, http.StatusInternalServerError, "Failed to fetch directory")
		return
	}

	profiles := make([]gin.H, 0, len(users))
	for _, u := range users {
		profiles = append(profiles, gin.H{
			"id":       u.ID,
			"username": u.Username,
			"channel":  services.GenerateConversationID(userInfo.ID, u.ID),
		})
	}

	groupList := make([]gin.H, 0, len(groups))
	for _, g := range groups {
		groupList = append(groupList, gin.H{
			"group_id":   g.GroupID,
			"group_name": g.GroupName,
			"channel":    services.GenerateGroupConversationID(g.GroupID),
		})
	}

	utils.RespondSuccess(c, gin.H{"profiles": profiles, "groups": groupList}, nil)
}

// CreateGroup 创建群组，创建者自动入群
func CreateGroup(c *gin.Context) {
	userInfo, ok := middlewares.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	var input struct {
		GroupName string   `json:"group_name" binding:"required"`
		MemberIDs []string `json:"member_ids"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	group := models.Group{
		GroupID:   uuid.NewString(),
		GroupName: input.GroupName,
		OwnerID:   userInfo.ID,
	}
	if err := config.DB.Create(&group).Error; err != nil {
		config.Logger.Error().Err(err).Msg("failed to create group")
		utils.RespondError(c, http.StatusInternalServerError, "Failed to create group")
		return
	}

	members := append([]string{userInfo.ID}, input.MemberIDs...)
	for _, memberID := range members {
		member := models.GroupMember{GroupID: group.GroupID, UserID: memberID}
		if err := config.DB.Create(&member).Error; err != nil {
			config.Logger.Warn().Err(err).Str("user_id", memberID).Msg("failed to add group member")
		}
	}

	utils.RespondSuccess(c, gin.H{
		"group_id": group.GroupID,
		"channel":  services.GenerateGroupConversationID(group.GroupID),
	}, nil)
}
