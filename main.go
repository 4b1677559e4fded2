package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/agentarena/orchestrator/api"
	"github.com/agentarena/orchestrator/backend"
	"github.com/agentarena/orchestrator/browser"
	"github.com/agentarena/orchestrator/config"
	"github.com/agentarena/orchestrator/dispatch"
	"github.com/agentarena/orchestrator/fingerprint"
	"github.com/agentarena/orchestrator/policy"
	"github.com/agentarena/orchestrator/pricing"
	"github.com/agentarena/orchestrator/store"
)

func main() {
	cfg := config.Load()

	log.Printf("Starting orchestrator...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("Database: %s", cfg.DatabaseURL)
	log.Printf("Browser provider: %s (tier %s)", cfg.BrowserAPIURL, cfg.BrowserTier)

	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer db.Close()

	browserClient := browser.NewClient(cfg.BrowserAPIURL, cfg.BrowserAPIKey, cfg.BrowserProjectID, cfg.BrowserTimeout)

	stagehand := backend.NewStagehand(cfg.OpenAIAPIKey)
	defer stagehand.Close()
	backends := backend.NewRegistry(
		stagehand,
		backend.NewDelegate("browser-use", cfg.BrowserUseURL, cfg.AgentTimeout),
		backend.NewDelegate("skyvern", cfg.SkyvernURL, cfg.AgentTimeout),
	)

	ctx := context.Background()
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}

	dispatcher := dispatch.New(db, browserClient, backends, pricing.Tier(cfg.BrowserTier), cfg.AgentTimeout)
	fingerprints := fingerprint.NewService(cfg.FingerprintSecret)

	h := api.NewHandler(db, browserClient, dispatcher, fingerprints, policyEngine, cfg)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	h.RegisterRoutes(e)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	log.Printf("API started on port %d", cfg.HTTPPort)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down orchestrator...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server gracefully: %v", err)
	}

	log.Println("Orchestrator stopped")
}
