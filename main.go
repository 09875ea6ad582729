package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"grok-chatbot/config"
	"grok-chatbot/handlers"
	"grok-chatbot/logger"
	"grok-chatbot/middleware"
	"grok-chatbot/migrations"
	"grok-chatbot/repository"
	"grok-chatbot/services"
	"grok-chatbot/workflows"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// The logger is not configured yet.
		fallback, _ := logger.New("dev")
		fallback.Fatal("failed to load config", "error", err)
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to PostgreSQL for app data
	db, err := repository.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to connect to database", "error", err)
	}
	defer db.Close()
	log.Info("connected to PostgreSQL database")

	if err := repository.RunMigrations(cfg.DatabaseURL, migrations.FS, log); err != nil {
		log.Fatal("failed to run migrations", "error", err)
	}

	// Initialize Grok service
	if !cfg.Grok.Configured() {
		log.Warn("XAI_API_URL or XAI_API_KEY not set, every reply will be the fallback text")
	}
	grokService := services.NewGrokService(cfg.Grok, nil, log)
	titler := services.NewTitler(grokService, log)

	// Initialize workflows
	repo := repository.NewChatRepository(db)
	chatWorkflows := workflows.NewChatWorkflows(repo, grokService, titler, log)

	// Initialize DBOS context for durable workflows
	dbosCtx, err := dbos.NewDBOSContext(context.Background(), dbos.Config{
		DatabaseURL: cfg.DatabaseURL,
		AppName:     "grok-chatbot",
	})
	if err != nil {
		log.Fatal("failed to initialize DBOS", "error", err)
	}

	// Register workflows with DBOS (MUST be before Launch)
	workflows.Register(dbosCtx, chatWorkflows)

	// Launch DBOS (starts workflow recovery)
	if err := dbos.Launch(dbosCtx); err != nil {
		log.Fatal("failed to launch DBOS", "error", err)
	}
	defer dbos.Shutdown(dbosCtx, 5*time.Second)
	log.Info("DBOS initialized, durable workflows enabled")

	// Initialize handlers
	chatHandler := handlers.NewChatHandler(workflows.NewService(dbosCtx, chatWorkflows, repo, log), log)

	// Setup Gin router
	if cfg.LogMode == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestTrace(log))
	router.Use(middleware.CORS(cfg.AllowedOrigins))

	// API routes
	chatHandler.RegisterRoutes(router.Group("/api"))

	// Health check
	router.GET("/health", handlers.Health)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped", "error", err)
	}
}
