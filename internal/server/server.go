package server

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/levachev/communiverse/internal/chatlog"
	"github.com/levachev/communiverse/internal/config"
	"github.com/levachev/communiverse/internal/database"
	"github.com/levachev/communiverse/internal/handlers"
	"github.com/levachev/communiverse/internal/membership"
	"github.com/levachev/communiverse/internal/presence"
	"github.com/levachev/communiverse/internal/session"
	"github.com/levachev/communiverse/internal/telemetry"
	ws "github.com/levachev/communiverse/internal/websocket"
	"github.com/levachev/communiverse/pkg/auth"
)

type Server struct {
	cfg    *config.Config
	Router *gin.Engine
	DB     *database.Database
	Redis  *redis.Client

	hub    *ws.Hub
	bridge *presence.Bridge

	cancel context.CancelFunc
}

func New(cfg *config.Config) (*Server, error) {
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is not set")
	}

	db := &database.Database{}
	if err := db.Connect(cfg.DatabaseURL); err != nil {
		return nil, err
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(redisOpts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}

	jwtMgr := auth.NewJWTManager(cfg.JWTSecret, cfg.TokenTTL)

	// Ядро: вещатель ростеров, CAS-менеджер членства, чатлог и
	// координатор сессий
	broadcaster := presence.NewBroadcaster(db)
	bridge := presence.NewBridge(rdb, broadcaster, cfg.InstanceID)
	notifier := &presence.Notifier{Local: broadcaster, Bridge: bridge}
	manager := membership.NewManager(db, notifier)
	chat := chatlog.NewService(db)
	recorder := telemetry.NewRecorder(db)

	var coordOpts []session.Option
	if !cfg.SingleRoomPerSession {
		coordOpts = append(coordOpts, session.WithMultiRoom())
	}
	coordinator := session.NewCoordinator(manager, coordOpts...)

	hub := ws.NewHub()
	hub.SetHooks(ws.NewRelay(hub, broadcaster, chat))
	hub.SetDisconnectFunc(coordinator.Disconnect)

	authH := handlers.NewAuthHandler(db, jwtMgr, rdb)
	roomH := handlers.NewRoomHandler(db, manager, chat, recorder)
	userH := handlers.NewUserHandler(db, recorder, hub)
	messageH := handlers.NewMessageHandler(db, chat)
	wsMsgH := handlers.NewWSMessageHandler(db, coordinator, chat, cfg.SingleRoomPerSession)
	wsH := handlers.NewWebSocketHandler(hub, wsMsgH)

	router := gin.Default()
	APIEndpoints(router, jwtMgr, rdb, authH, roomH, userH, messageH, wsH)

	return &Server{
		cfg:    cfg,
		Router: router,
		DB:     db,
		Redis:  rdb,
		hub:    hub,
		bridge: bridge,
	}, nil
}

func (s *Server) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	go s.hub.Run()
	go s.bridge.Run(ctx)

	log.Info().Str("module", "server").Str("port", s.cfg.Port).Str("instance", s.cfg.InstanceID).Msg("server starting")
	return s.Router.Run(":" + s.cfg.Port)
}

func (s *Server) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.hub.Stop()
}
