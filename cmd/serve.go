package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"CoralPlay/cache"
	"CoralPlay/config"
	"CoralPlay/core/controller"
	"CoralPlay/core/engine"
	"CoralPlay/core/event"
	"CoralPlay/core/library"
	"CoralPlay/core/provider"
	"CoralPlay/core/queue"
	"CoralPlay/core/stream"
	"CoralPlay/core/transition"
	"CoralPlay/db"
	"CoralPlay/logger"
	"CoralPlay/repository"
	"CoralPlay/server"
	"CoralPlay/storage"

	"github.com/spf13/cobra"
)

// 快照按播放器实例区分，单机部署用固定ID
const defaultPlayerID = "default"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动播放守护进程",
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// restorePosition 恢复上次会话的曲内进度：保存的曲目仍是队列当前曲目时
// 加载并定位到保存点，不自动开始播放
func restorePosition(ctx context.Context, q *queue.Manager, ctrl *controller.Controller) {
	trackID, pos, err := q.SavedPosition(ctx)
	if err != nil {
		logger.Warn("播放进度读取失败", logger.ErrorField(err))
		return
	}
	cur := q.CurrentTrack()
	if trackID == "" || pos <= 0 || cur == nil || cur.ID != trackID {
		return
	}

	if err := ctrl.Load(ctx, *cur); err != nil {
		return
	}
	if err := ctrl.Seek(pos); err != nil {
		logger.Warn("播放进度定位失败", logger.ErrorField(err))
		return
	}
	logger.Info("恢复播放进度",
		logger.String("trackId", trackID),
		logger.Float64("position", pos))
}

func runServe() {
	cfg := config.Load()

	logger.InitLogger(logger.Config{
		Level:      logger.LogLevel(cfg.LogLevel),
		OutputPath: cfg.LogOutput,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     7,
		Compress:   true,
	})
	defer logger.Sync()

	bus := event.NewBus()

	// 目录服务：配置了本地曲库目录则走本地，否则走远程目录API
	var prov provider.Provider
	var lib *library.Library
	if cfg.LibraryDir != "" {
		var err error
		lib, err = library.New(cfg.LibraryDir)
		if err != nil {
			logger.Fatal("本地曲库初始化失败", logger.ErrorField(err))
		}
		if cfg.LibraryWatch {
			if err := lib.Watch(); err != nil {
				logger.Warn("本地曲库监听启动失败", logger.ErrorField(err))
			}
		}
		prov = lib
	} else {
		session := provider.NewSession(cfg.SessionToken)
		prov = provider.NewHTTPClient(cfg.ProviderBaseURL, cfg.ProviderTimeout, session)
	}

	client := stream.NewClient(prov, cfg.Retry, cfg.Breaker, bus)

	// 音频对象缓存（可选）
	var store *storage.AudioStore
	if cfg.MinioEndpoint != "" {
		var err error
		store, err = storage.NewAudioStore(cfg)
		if err != nil {
			logger.Warn("MinIO不可用，跳过音频对象缓存", logger.ErrorField(err))
			store = nil
		}
	}

	fetcher := controller.NewAudioFetcher(client, store, cfg.DefaultQuality)
	eng := engine.NewEngine(cfg, bus, fetcher, nil)
	if err := eng.Initialize(); err != nil {
		logger.Fatal("播放引擎初始化失败", logger.ErrorField(err))
	}
	defer eng.Close()

	trans := transition.New(eng, cfg, bus)
	ctrl := controller.New(eng, client, bus)
	q := queue.NewManager(cfg, bus, ctrl, trans)
	defer q.Close()

	// 队列快照（可选，Redis不可用时只是不持久化）
	if err := cache.ConnectRedis(cfg); err != nil {
		logger.Warn("Redis不可用，队列快照不会持久化", logger.ErrorField(err))
	} else {
		defer cache.CloseRedis()
		q.SetSnapshotStore(cache.NewQueueCache(cache.RedisClient), defaultPlayerID)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := q.RestoreSnapshot(ctx); err != nil {
			logger.Warn("队列快照恢复失败", logger.ErrorField(err))
		}
		restorePosition(ctx, q, ctrl)
		cancel()
	}

	// 播放历史（可选，MySQL不可用时只是不记录）
	if err := db.ConnectGormDB(cfg); err != nil {
		logger.Warn("MySQL不可用，播放历史不会记录", logger.ErrorField(err))
	} else {
		defer db.CloseGormDB()
		repo, err := repository.NewHistoryRepository(db.GormDB)
		if err != nil {
			logger.Warn("播放历史表迁移失败", logger.ErrorField(err))
		} else {
			q.SetHistoryRecorder(repo)
		}
	}

	srv := server.NewServer(cfg, ctrl, q, client, trans, bus)

	// 优雅退出
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		logger.Info("收到退出信号，开始关闭")
		if lib != nil {
			lib.Close()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("HTTP服务关闭失败", logger.ErrorField(err))
		}
	}()

	if err := srv.Start(); err != nil {
		logger.Fatal("控制接口启动失败", logger.ErrorField(err))
	}
	logger.Info("播放守护进程已退出")
}
