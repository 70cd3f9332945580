package routes

import (
	"chat-sync/controllers"
	"chat-sync/middlewares"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// RegisterRoutes 注册所有路由
func RegisterRoutes() *gin.Engine {
	r := gin.Default()

	corsConfig := cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}
	r.Use(cors.New(corsConfig))

	// 推送通道（token 在查询参数里校验）
	r.GET("/ws", controllers.WSController)

	api := r.Group("/api")

	// 公开接口
	public := api.Group("")
	public.POST("/register", controllers.Register)
	public.POST("/login", controllers.Login)

	// 需要登录的接口
	protected := api.Group("")
	protected.Use(middlewares.TokenAuthMiddleware())
	protected.GET("/userinfo", controllers.GetUserInfo)
	protected.GET("/directory", controllers.GetDirectory)
	protected.GET("/messages", controllers.GetMessages)
	protected.POST("/messages", controllers.SendMessage)
	protected.POST("/groups", controllers.CreateGroup)

	return r
}
