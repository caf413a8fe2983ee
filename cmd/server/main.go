package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"caseintake-backend/ai"
	"caseintake-backend/config"
	"caseintake-backend/handlers"
	"caseintake-backend/repository"
	"caseintake-backend/service"
	"caseintake-backend/storage"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	gin.SetMode(cfg.GinMode)

	ctx := context.Background()

	// Initialize database connections
	db, err := initPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to initialize Postgres:", err)
	}
	defer db.Close()

	// Initialize storage
	fileStorage, err := storage.NewStorage(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	log.Printf("Storage initialized (%s)", cfg.Storage.Type)

	// Initialize repositories
	draftRepo := repository.NewDraftRepository(db)
	planRepo := repository.NewCasePlanRepository(db)
	fileRepo := repository.NewFileRepository(db)

	fields, err := service.LoadFieldMap(cfg.Intake.FieldsFile)
	if err != nil {
		log.Fatalf("Failed to load field vocabulary: %v", err)
	}

	opts := []service.IntakeServiceOption{
		service.IntakeWithDraftPersister(draftRepo),
		service.IntakeWithCasePlanStore(planRepo),
		service.IntakeWithFieldMap(fields),
		service.IntakeWithLocale(cfg.Intake.Locale),
		service.IntakeWithRequestTimeout(cfg.Intake.RequestTimeout),
		service.IntakeWithAutosaveInterval(cfg.Intake.AutosaveInterval),
		service.IntakeWithSessionLimits(cfg.Intake.MaxSessions, cfg.Intake.SessionIdleTTL),
	}

	// Initialize AI client
	aiClient, err := ai.NewClient(ctx, cfg.AI)
	if err != nil {
		// the form keeps working without an assistant
		log.Printf("Warning: AI client disabled: %v", err)
	} else {
		defer aiClient.Close()
		opts = append(opts, service.IntakeWithAIClient(aiClient))
		log.Printf("AI client initialized (%s)", aiClient.Name())
	}

	intakeService := service.NewIntakeService(opts...)

	evictCtx, stopEviction := context.WithCancel(ctx)
	defer stopEviction()
	go intakeService.RunEviction(evictCtx, time.Minute)

	// Initialize handlers
	intakeHandler := handlers.NewIntakeHandler(intakeService)
	fileHandler := handlers.NewFileHandler(intakeService, fileRepo, fileStorage)

	// Setup Gin router
	r := gin.Default()

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	api := r.Group("/api")
	intakeHandler.RegisterRoutes(api)
	fileHandler.RegisterRoutes(api)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Warning: Server shutdown: %v", err)
	}
	stopEviction()
	// flush pending autosaves before the pool closes
	if err := intakeService.Close(shutdownCtx); err != nil {
		log.Printf("Warning: Failed to save drafts on shutdown: %v", err)
	}
}

func initPostgres(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if err := repository.CreateSchema(ctx, pool); err != nil {
		log.Printf("Warning: %v", err)
	}

	log.Println("Postgres connection established")
	return pool, nil
}
