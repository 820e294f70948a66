package server

import (
	"context"
	"net/http"
	"time"

	"CoralPlay/config"
	"CoralPlay/core/controller"
	"CoralPlay/core/event"
	"CoralPlay/core/queue"
	"CoralPlay/core/stream"
	"CoralPlay/core/transition"
	"CoralPlay/logger"

	"github.com/gorilla/mux"
)

// Server 本地控制接口：REST命令 + WebSocket事件推送
type Server struct {
	cfg    *config.Config
	ctrl   *controller.Controller
	queue  *queue.Manager
	client *stream.Client
	trans  *transition.Engine
	bus    *event.Bus

	router *mux.Router
	http   *http.Server
}

// NewServer 创建控制接口服务
func NewServer(cfg *config.Config, ctrl *controller.Controller, q *queue.Manager,
	client *stream.Client, trans *transition.Engine, bus *event.Bus) *Server {
	s := &Server{
		cfg:    cfg,
		ctrl:   ctrl,
		queue:  q,
		client: client,
		trans:  trans,
		bus:    bus,
		router: mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes 注册所有路由
func (s *Server) setupRoutes() {
	s.router.Use(corsMiddleware)

	api := s.router.PathPrefix("/api").Subrouter()

	// 播放控制
	api.HandleFunc("/player/status", s.handleStatus).Methods("GET", "OPTIONS")
	api.HandleFunc("/player/play", s.handlePlay).Methods("POST", "OPTIONS")
	api.HandleFunc("/player/pause", s.handlePause).Methods("POST", "OPTIONS")
	api.HandleFunc("/player/stop", s.handleStop).Methods("POST", "OPTIONS")
	api.HandleFunc("/player/seek", s.handleSeek).Methods("POST", "OPTIONS")
	api.HandleFunc("/player/volume", s.handleVolume).Methods("POST", "OPTIONS")
	api.HandleFunc("/player/mute", s.handleMute).Methods("POST", "OPTIONS")
	api.HandleFunc("/player/rate", s.handleRate).Methods("POST", "OPTIONS")
	api.HandleFunc("/player/eq", s.handleEQ).Methods("POST", "OPTIONS")
	api.HandleFunc("/player/analyser", s.handleAnalyser).Methods("GET", "OPTIONS")
	api.HandleFunc("/player/transition", s.handleTransitionState).Methods("GET", "OPTIONS")

	// 队列管理
	api.HandleFunc("/queue", s.handleGetQueue).Methods("GET", "OPTIONS")
	api.HandleFunc("/queue", s.handleSetQueue).Methods("POST", "OPTIONS")
	api.HandleFunc("/queue", s.handleClearQueue).Methods("DELETE", "OPTIONS")
	api.HandleFunc("/queue/add", s.handleAddToQueue).Methods("POST", "OPTIONS")
	api.HandleFunc("/queue/move", s.handleMoveTrack).Methods("POST", "OPTIONS")
	api.HandleFunc("/queue/next", s.handleNext).Methods("POST", "OPTIONS")
	api.HandleFunc("/queue/previous", s.handlePrevious).Methods("POST", "OPTIONS")
	api.HandleFunc("/queue/skip", s.handleSkipTo).Methods("POST", "OPTIONS")
	api.HandleFunc("/queue/repeat", s.handleRepeatMode).Methods("POST", "OPTIONS")
	api.HandleFunc("/queue/shuffle", s.handleShuffleMode).Methods("POST", "OPTIONS")
	api.HandleFunc("/queue/history", s.handleHistory).Methods("GET", "OPTIONS")
	api.HandleFunc("/queue/export", s.handleExportQueue).Methods("GET", "OPTIONS")
	api.HandleFunc("/queue/import", s.handleImportQueue).Methods("POST", "OPTIONS")
	api.HandleFunc("/queue/{index:[0-9]+}", s.handleRemoveFromQueue).Methods("DELETE", "OPTIONS")

	// 目录检索（经弹性流客户端）
	api.HandleFunc("/search", s.handleSearch).Methods("GET", "OPTIONS")
	api.HandleFunc("/tracks/{id}", s.handleTrackDetail).Methods("GET", "OPTIONS")
	api.HandleFunc("/tracks/{id}/lyrics", s.handleLyrics).Methods("GET", "OPTIONS")
	api.HandleFunc("/tracks/{id}/like", s.handleLikeTrack).Methods("POST", "OPTIONS")
	api.HandleFunc("/albums/{id}", s.handleAlbum).Methods("GET", "OPTIONS")

	// 流客户端观测
	api.HandleFunc("/stream/stats", s.handleStreamStats).Methods("GET", "OPTIONS")

	// 事件推送
	s.router.HandleFunc("/ws/events", s.handleEventFeed)
}

// corsMiddleware 允许本机前端跨域访问
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start 启动HTTP服务（阻塞直到关闭）
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // WebSocket连接不设写超时
	}

	logger.Info("控制接口启动", logger.String("addr", s.cfg.ListenAddr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown 优雅关闭HTTP服务
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
