package services

import (
	"fmt"
	"sort"
)

// GenerateConversationID 生成私聊会话ID
func GenerateConversationID(userID1, userID2 string) string {
	userIDs := []string{userID1, userID2}
	sort.Strings(userIDs) // 确保顺序一致
	return fmt.Sprintf("%s_%s", userIDs[0], userIDs[1])
}

// GenerateGroupConversationID 生成群聊会话ID
func GenerateGroupConversationID(groupID string) string {
	return fmt.Sprintf("group_%s", groupID)
}
