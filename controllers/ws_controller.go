package controllers

import (
	"chat-sync/services"

	"github.com/gin-gonic/gin"
)

func WSController(ctx *gin.Context) {
	services.HandleWebSocket(ctx)
}
