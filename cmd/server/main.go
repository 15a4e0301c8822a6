package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"

	"github.com/rpattn/staffsync/internal/collector"
	"github.com/rpattn/staffsync/internal/config"
	"github.com/rpattn/staffsync/internal/db"
	"github.com/rpattn/staffsync/internal/detector"
	"github.com/rpattn/staffsync/internal/matcher"
	"github.com/rpattn/staffsync/internal/middleware"
	"github.com/rpattn/staffsync/internal/payroll"
	"github.com/rpattn/staffsync/internal/reconstructor"
	"github.com/rpattn/staffsync/internal/repository"
	"github.com/rpattn/staffsync/internal/syncapi"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Setup database connection
	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer conn.Close()

	// Run migrations
	if err := db.RunMigrations(cfg.Database, "./migrations"); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// External payroll client; missing credentials are the one fatal
	// startup condition.
	payrollClient, err := payroll.NewClient(cfg.Payroll)
	if err != nil {
		log.Fatalf("Failed to configure payroll client: %v", err)
	}

	// Create repositories
	snapshotRepo := repository.NewSnapshotRepository(conn.Pool)
	changeRepo := repository.NewChangeRepository(conn.Pool)
	timelineRepo := repository.NewTimelineRepository(conn.Pool)
	stateRepo := repository.NewStateRepository(conn.Pool)
	staffRepo := repository.NewStaffRepository(conn.Pool)
	runRepo := repository.NewRunRepository(conn.Pool)

	// Create pipeline services
	detectorService := detector.NewService(changeRepo, timelineRepo)
	collectorService := collector.NewService(
		payrollClient, snapshotRepo, runRepo, detectorService,
		collector.WithCallTimeout(cfg.CallTimeout),
	)
	reconstructorService, err := reconstructor.NewService(
		snapshotRepo, timelineRepo, stateRepo, runRepo,
		reconstructor.WithWorkers(cfg.Workers),
	)
	if err != nil {
		log.Fatalf("Failed to initialize reconstructor: %v", err)
	}
	matcherService := matcher.NewService(staffRepo)

	handler := syncapi.NewHandler(
		collectorService, reconstructorService, matcherService,
		snapshotRepo, runRepo,
	)

	// Setup CORS for the admin frontend
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000"},
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	mux := http.NewServeMux()
	mux.Handle("/sync/", corsHandler.Handler(middleware.LoggingMiddleware(handler)))

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting sync server on %s", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
