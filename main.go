package main

import (
	"log"

	"chat-sync/config"
	"chat-sync/models"
	"chat-sync/routes"
	"chat-sync/services"
)

func main() {
	// 初始化数据库
	config.InitDB()
	// 自动迁移
	models.Migrate()
	// 推送中心
	go services.PushHub.Run()
	// 注册路由
	r := routes.RegisterRoutes()

	// 启动服务
	if err := r.Run(":8082"); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
