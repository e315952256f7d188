package server

import (
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"github.com/levachev/communiverse/internal/handlers"
	"github.com/levachev/communiverse/internal/middleware"
	"github.com/levachev/communiverse/pkg/auth"
)

func APIEndpoints(
	r *gin.Engine,
	jwtMgr *auth.JWTManager,
	rdb *redis.Client,
	authH *handlers.AuthHandler,
	roomH *handlers.RoomHandler,
	userH *handlers.UserHandler,
	messageH *handlers.MessageHandler,
	wsH *handlers.WebSocketHandler,
) {
	// Auth endpoints
	authGroup := r.Group("/auth")
	{
		authGroup.POST("/register", authH.Register)
		authGroup.POST("/login", authH.Login)
		authGroup.POST("/logout", authH.Logout)
	}

	// API endpoints
	api := r.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(jwtMgr, rdb))
	{
		rooms := api.Group("/rooms")
		{
			rooms.POST("", roomH.CreateRoom)
			rooms.GET("", roomH.ListRooms)
			rooms.GET("/:id", roomH.GetRoom)
			rooms.POST("/:id/join", roomH.JoinRoom)
			rooms.POST("/:id/leave", roomH.LeaveRoom)
			rooms.GET("/:id/members", roomH.GetRoomMembers)
			rooms.POST("/:id/archive", roomH.ArchiveRoom)
			rooms.DELETE("/:id", roomH.DeleteRoom)
			rooms.GET("/:id/messages", messageH.GetMessages)
			rooms.POST("/:id/messages", messageH.PostMessage)
		}

		api.GET("/archives/:id", roomH.GetArchive)

		users := api.Group("/users")
		{
			users.GET("/me", userH.GetMe)
			users.PATCH("/me", userH.UpdateMe)
			users.PUT("/me/status", userH.SetStatus)
			users.GET("/me/wallet", userH.GetWallet)
			users.GET("", userH.ListUsers)
			users.GET("/:id", userH.GetUser)
			users.POST("/:id/follow", userH.Follow)
			users.POST("/:id/gift", userH.GiftCoins)
		}
	}

	// WebSocket endpoint: токен идет query-параметром
	wsGroup := r.Group("/ws")
	wsGroup.Use(middleware.WSAuthMiddleware(jwtMgr, rdb))
	{
		wsGroup.GET("", wsH.HandleWebSocket)
	}
}
