package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"TextTune/config"
	"TextTune/core/audio"
	"TextTune/core/auth"
	"TextTune/core/generation"
	"TextTune/core/translate"
	"TextTune/db"
	"TextTune/logger"
	"TextTune/repository"
	"TextTune/storage"

	"github.com/gorilla/mux"
)

// Start initializes and starts the HTTP server.
func Start() {
	cfg := config.Load()

	logger.InitLogger(logger.Config{
		Level:      logger.LogLevel(cfg.LogLevel),
		OutputPath: cfg.LogPath,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	})
	defer logger.Sync()

	auth.SetSecret(cfg.JWTSecret)

	// Connect to the database
	if err := db.ConnectDB(cfg); err != nil {
		logger.Fatal("Failed to connect to database", logger.ErrorField(err))
	}
	defer db.DB.Close()

	// Initialize database schema
	if err := db.InitDB(); err != nil {
		logger.Fatal("Failed to initialize database", logger.ErrorField(err))
	}

	jobRepo := repository.NewSQLiteJobRepository(db.DB)
	trackRepo := repository.NewSQLiteTrackRepository(db.DB)
	userRepo := repository.NewSQLiteUserRepository(db.DB)
	playlistRepo := repository.NewSQLitePlaylistRepository(db.DB)

	// 队列不跨进程，上次运行残留的任务全部判定失败
	if swept, err := jobRepo.FailInterrupted(time.Now().UTC(), "server restarted while job was pending"); err != nil {
		logger.Fatal("Failed to sweep interrupted jobs", logger.ErrorField(err))
	} else if swept > 0 {
		logger.Warn("swept interrupted jobs from previous run", logger.Int64("count", swept))
	}

	// Connect to Redis (optional progress cache)
	if cfg.RedisEnabled {
		if err := db.ConnectRedis(cfg); err != nil {
			logger.Warn("Redis unavailable, progress cache disabled", logger.ErrorField(err))
		} else {
			defer db.CloseRedis()
			logger.Info("Successfully connected to Redis")
		}
	}

	// Optional MinIO archive for rendered audio
	archive, err := storage.NewArchive(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize audio archive", logger.ErrorField(err))
	}

	ensureDirExists(cfg.StorageDir)
	ensureDirExists(cfg.AudioDir)

	// Content policy with optional hot-reloaded denylist file
	policy := generation.NewPolicyFilter()
	if cfg.PolicyDenylistPath != "" {
		if err := policy.LoadFile(cfg.PolicyDenylistPath); err != nil {
			logger.Fatal("Failed to load policy denylist", logger.ErrorField(err))
		}
		if err := policy.Watch(cfg.PolicyDenylistPath); err != nil {
			logger.Warn("denylist hot reload unavailable", logger.ErrorField(err))
		}
	}
	defer policy.Close()

	backend := audio.NewBackendFromConfig(cfg)
	logger.Info("render backend selected", logger.String("backend", backend.Name()))

	scheduler := generation.NewScheduler(generation.SchedulerOptions{
		Jobs:          jobRepo,
		Tracks:        trackRepo,
		Backend:       backend,
		Archive:       archive,
		AudioDir:      cfg.AudioDir,
		RenderTimeout: time.Duration(cfg.RenderTimeoutSeconds) * time.Second,
		Capacity:      cfg.RenderConcurrency,
	})
	hub := NewProgressHub()
	scheduler.AddNotifier(hub)
	scheduler.Start()

	translator := translate.NewTranslator(cfg)

	// 初始化处理器
	apiHandler := NewAPIHandler(jobRepo, trackRepo, userRepo, playlistRepo,
		scheduler, policy, translator, backend, archive, hub, cfg)

	router := newRouter(apiHandler, cfg)

	// 设置服务器超时
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 15 * time.Minute, // 音频流式传输可能较慢
		IdleTimeout:  120 * time.Second,
	}

	// 创建一个通道来接收操作系统信号
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// 在goroutine中启动服务器
	go func() {
		logger.Info("Server starting", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", logger.ErrorField(err))
		}
	}()

	// 等待中断信号
	<-stop
	logger.Info("Shutting down server...")

	// 先停HTTP再停调度器，避免关停期间还接收新任务
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", logger.ErrorField(err))
	}

	schedCtx, schedCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer schedCancel()
	if err := scheduler.Stop(schedCtx); err != nil {
		logger.Error("Scheduler shutdown incomplete", logger.ErrorField(err))
	}

	logger.Info("Server stopped")
}

// newRouter wires all HTTP routes. Split from Start so handler tests can run
// against the same route table.
func newRouter(apiHandler *APIHandler, cfg *config.Config) *mux.Router {
	// 使用 gorilla/mux 创建路由器
	router := mux.NewRouter()

	// 添加 CORS 中间件
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", cfg.AllowOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, HEAD")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Range")
			w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range")
			w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	// 用户认证相关的API端点
	router.HandleFunc("/v1/auth/register", apiHandler.RegisterHandler).Methods(http.MethodPost)
	router.HandleFunc("/v1/auth/login", apiHandler.LoginHandler).Methods(http.MethodPost)
	router.HandleFunc("/v1/auth/dev-login", apiHandler.DevLoginHandler).Methods(http.MethodPost)
	router.HandleFunc("/v1/auth/me", apiHandler.AuthMiddleware(apiHandler.MeHandler)).Methods(http.MethodGet)

	// 生成任务相关的API端点
	router.HandleFunc("/v1/generations", apiHandler.AuthMiddleware(apiHandler.CreateGenerationHandler)).Methods(http.MethodPost)
	router.HandleFunc("/v1/generations/{jobId}", apiHandler.AuthMiddleware(apiHandler.GetGenerationHandler)).Methods(http.MethodGet)

	// 音频库相关的API端点
	router.HandleFunc("/v1/library", apiHandler.AuthMiddleware(apiHandler.GetLibraryHandler)).Methods(http.MethodGet)
	router.HandleFunc("/v1/tracks/{trackId}", apiHandler.AuthMiddleware(apiHandler.GetTrackHandler)).Methods(http.MethodGet)
	router.HandleFunc("/v1/library/{trackId}", apiHandler.AuthMiddleware(apiHandler.DeleteTrackHandler)).Methods(http.MethodDelete)
	router.HandleFunc("/v1/stream/{trackId}", apiHandler.AuthMiddleware(apiHandler.StreamHandler)).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/v1/download/{trackId}", apiHandler.AuthMiddleware(apiHandler.DownloadHandler)).Methods(http.MethodGet)

	// 播放列表相关的API端点
	router.HandleFunc("/v1/playlists", apiHandler.AuthMiddleware(apiHandler.CreatePlaylistHandler)).Methods(http.MethodPost)
	router.HandleFunc("/v1/playlists", apiHandler.AuthMiddleware(apiHandler.ListPlaylistsHandler)).Methods(http.MethodGet)
	router.HandleFunc("/v1/playlists/{playlistId}", apiHandler.AuthMiddleware(apiHandler.GetPlaylistHandler)).Methods(http.MethodGet)
	router.HandleFunc("/v1/playlists/{playlistId}", apiHandler.AuthMiddleware(apiHandler.DeletePlaylistHandler)).Methods(http.MethodDelete)
	router.HandleFunc("/v1/playlists/{playlistId}/tracks", apiHandler.AuthMiddleware(apiHandler.AddPlaylistTrackHandler)).Methods(http.MethodPost)
	router.HandleFunc("/v1/playlists/{playlistId}/tracks/{trackId}", apiHandler.AuthMiddleware(apiHandler.RemovePlaylistTrackHandler)).Methods(http.MethodDelete)

	// 进度推送WebSocket
	router.HandleFunc("/v1/ws/progress", apiHandler.AuthMiddleware(apiHandler.WSProgressHandler)).Methods(http.MethodGet)

	router.HandleFunc("/v1/health", apiHandler.HealthHandler).Methods(http.MethodGet)

	// Frontend UI serving
	router.PathPrefix("/").Handler(spaFileServer(cfg.WebAppDir))

	return router
}

func ensureDirExists(path string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Info("Creating directory", logger.String("path", path))
		if err := os.MkdirAll(path, 0755); err != nil {
			logger.Fatal("Failed to create directory", logger.String("path", path), logger.ErrorField(err))
		}
	} else if err != nil {
		logger.Fatal("Failed to check directory", logger.String("path", path), logger.ErrorField(err))
	}
}

// HealthHandler 健康检查，带上队列深度便于观察积压
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"backend":    h.backend.Name(),
		"queued":     h.scheduler.QueueDepth(),
		"active":     h.scheduler.ActiveCount(),
		"redisCache": db.RedisClient != nil,
	})
}
