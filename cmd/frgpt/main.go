// FRGPT query orchestrator server - plans analytical queries into task DAGs,
// executes them against worker agents, and serves results over HTTP.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql
	"github.com/joho/godotenv"
	_ "modernc.org/sqlite" // sqlite driver for database/sql

	"github.com/aj002fr/frgpt/pkg/api"
	"github.com/aj002fr/frgpt/pkg/artifact"
	"github.com/aj002fr/frgpt/pkg/config"
	"github.com/aj002fr/frgpt/pkg/engine"
	"github.com/aj002fr/frgpt/pkg/planner"
	"github.com/aj002fr/frgpt/pkg/store"
	"github.com/aj002fr/frgpt/pkg/tools"
	"github.com/aj002fr/frgpt/pkg/workers"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: Could not load %s file: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	ginMode := getEnv("GIN_MODE", "release")
	gin.SetMode(ginMode)

	log.Printf("Starting FRGPT orchestrator")
	log.Printf("HTTP Port: %s", httpPort)
	log.Printf("Config Directory: %s", *configDir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		log.Fatalf("Failed to initialize configuration: %v", err)
	}

	if err := os.MkdirAll(cfg.Engine.Workspace, 0o755); err != nil {
		log.Fatalf("Failed to create workspace directory: %v", err)
	}

	storeClient, err := store.NewClient(ctx, store.Config{
		Driver: cfg.Store.Driver,
		Path:   cfg.Store.Path,
		DSN:    cfg.Store.DSN,
	})
	if err != nil {
		log.Fatalf("Failed to open task store: %v", err)
	}
	defer func() {
		if err := storeClient.Close(); err != nil {
			log.Printf("Error closing task store: %v", err)
		}
	}()
	log.Println("✓ Task store ready")

	bus := artifact.NewBus(cfg.Engine.Workspace)
	log.Println("✓ Artifact bus ready")

	agents, err := cfg.AgentRegistry()
	if err != nil {
		log.Fatalf("Failed to build agent registry: %v", err)
	}

	registry, marketDB, err := registerWorkers(cfg)
	if err != nil {
		log.Fatalf("Failed to register workers: %v", err)
	}
	defer func() {
		if err := marketDB.Close(); err != nil {
			log.Printf("Error closing market database: %v", err)
		}
	}()
	loader := tools.NewLoader(registry, agents)
	log.Println("✓ Workers registered")

	collaborator := buildCollaborator(cfg)

	eng := engine.New(cfg, agents, storeClient, bus, loader, collaborator)

	router := gin.Default()
	api.NewServer(eng, storeClient, agents, cfg.Stats()).RegisterRoutes(router)

	server := &http.Server{
		Addr:              ":" + httpPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("HTTP server listening on :%s", httpPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutdown signal received, draining in-flight runs")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error during HTTP shutdown: %v", err)
	}
	log.Println("Server stopped")
}

// registerWorkers opens the market database and registers every reference
// worker's tools.
func registerWorkers(cfg *config.Config) (*tools.Registry, *sql.DB, error) {
	var (
		marketDB *sql.DB
		err      error
	)
	switch cfg.MarketData.Driver {
	case "postgres":
		marketDB, err = sql.Open("pgx", cfg.MarketData.DSN)
	default:
		marketDB, err = sql.Open("sqlite", cfg.MarketData.Path)
	}
	if err != nil {
		return nil, nil, err
	}

	registry := tools.NewRegistry()
	if err := workers.NewMarketData(marketDB, cfg.MarketData.Driver).RegisterTools(registry); err != nil {
		return nil, nil, err
	}
	if err := workers.NewHistorical(marketDB, cfg.MarketData.Driver).RegisterTools(registry); err != nil {
		return nil, nil, err
	}
	if err := workers.NewPredictions(cfg.Predictions.BaseURL, nil).RegisterTools(registry); err != nil {
		return nil, nil, err
	}
	return registry, marketDB, nil
}

// buildCollaborator constructs the LLM collaborator when enabled and an API
// key is present; otherwise the engine runs with the deterministic fallback.
func buildCollaborator(cfg *config.Config) planner.Collaborator {
	if !cfg.LLM.Enabled() {
		log.Println("LLM collaborator disabled by configuration")
		return nil
	}
	apiKey := os.Getenv(cfg.LLM.APIKeyEnv)
	if apiKey == "" {
		log.Printf("Warning: %s is not set, planning falls back to single-task plans", cfg.LLM.APIKeyEnv)
		return nil
	}
	collaborator, err := planner.NewAnthropicCollaborator(planner.AnthropicConfig{
		APIKey:      apiKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	})
	if err != nil {
		log.Printf("Warning: failed to build LLM collaborator: %v", err)
		return nil
	}
	log.Printf("✓ LLM collaborator ready (model: %s)", cfg.LLM.Model)
	return collaborator
}
