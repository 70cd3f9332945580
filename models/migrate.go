package models

import (
	"chat-sync/config"
	"log"
)

// Migrate 自动迁移所有表结构
func Migrate() {
	err := config.DB.AutoMigrate(
		&User{},
		&Group{},
		&GroupMember{},
		&Message{},
	)
	if err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
}
