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

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/openpostops/postgate/internal/api"
	"github.com/openpostops/postgate/internal/budget"
	"github.com/openpostops/postgate/internal/config"
	"github.com/openpostops/postgate/internal/ledger"
	"github.com/openpostops/postgate/internal/llm"
	"github.com/openpostops/postgate/internal/middleware"
	"github.com/openpostops/postgate/internal/postcheck"
	"github.com/openpostops/postgate/internal/publisher"
	"github.com/openpostops/postgate/internal/ratectl"
	"github.com/openpostops/postgate/internal/safety"
	"github.com/openpostops/postgate/pkg/cache"
	"github.com/openpostops/postgate/pkg/models"
)

// stdoutPoster is the default Poster when no network credentials are
// wired in: it logs what would have been published. Deployments replace
// it with a real network client at this single injection point.
type stdoutPoster struct{}

func (stdoutPoster) Post(ctx context.Context, plan models.PostPlan) (string, error) {
	switch plan.Kind {
	case models.KindThread:
		log.Printf("poster: would publish thread with %d segments (goal %q)", len(plan.Segments), plan.Goal)
	default:
		log.Printf("poster: would publish single post (%d chars)", len(plan.Text))
	}
	return fmt.Sprintf("dry-%d", time.Now().UnixNano()), nil
}

func main() {
	fmt.Println("==============================================")
	fmt.Println("  Postgate - Publishing Governance Pipeline")
	fmt.Println("==============================================")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	fmt.Printf("Starting server on port %s...\n", cfg.Port)

	// Usage ledger. Unavailable ledger degrades to counter-only
	// accounting; rate telemetry is then served as unavailable.
	var led *ledger.Ledger
	if l, err := ledger.New(cfg.DSN()); err != nil {
		log.Printf("WARNING: Ledger unavailable (%v). Spend accounting is counter-only.", err)
	} else {
		led = l
		defer led.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := led.Migrate(ctx); err != nil {
			cancel()
			log.Fatalf("Failed to run ledger migrations: %v", err)
		}
		cancel()
		log.Printf("Ledger connected at %s and migrations applied.", cfg.RedactedDSN())
	}

	// Resilient cache. An empty address silently runs fallback-only.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	store := cache.New(ctx, cfg.RedisAddr, cfg.RedisPassword)
	cancel()
	defer store.Close()

	// Governance components.
	var recorder budget.Recorder
	if led != nil {
		recorder = led
	}
	guard := budget.NewGuard(store, recorder, cfg.DailyCostLimitUSD, cfg.CacheKeyPrefix,
		cfg.CostTrackerEnabled, cfg.CostTrackerStrict)

	validator, err := postcheck.NewValidator(cfg.ThreadForceSegments, cfg.ThreadDelimiter, cfg.NumberingPattern)
	if err != nil {
		log.Fatalf("Failed to build validator: %v", err)
	}

	controller := ratectl.NewController(ratectl.Limits{
		PostsPerHourMin:      cfg.PostsPerHourMin,
		PostsPerHourMax:      cfg.PostsPerHourMax,
		RepliesPerDayMin:     cfg.RepliesPerDayMin,
		RepliesPerDayMax:     cfg.RepliesPerDayMax,
		HardMaxPostsPerHour:  cfg.HardMaxPostsPerHour,
		HardMaxRepliesPerDay: cfg.HardMaxRepliesPerDay,
	})
	var gatherer *ratectl.Gatherer
	if led != nil {
		gatherer = ratectl.NewGatherer(led, guard)
	}

	var attributions publisher.AttributionStore
	if led != nil {
		attributions = led
	}
	facade := publisher.New(validator, guard, safety.Mode(cfg.FactCheckMode), stdoutPoster{}, attributions)

	var generator *llm.Client
	if cfg.OpenAIKey != "" {
		generator = llm.NewClient(cfg.OpenAIKey, cfg.OpenAIModel, guard)
		log.Printf("LLM generation enabled (model %s).", cfg.OpenAIModel)
	} else {
		log.Println("OPENAI_API_KEY not set. Draft generation endpoint disabled.")
	}

	handlers := api.NewHandlers(facade, guard, store, controller, gatherer, led, generator)

	// Router.
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logging())

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Admin-Key"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/health", handlers.HealthCheck)

	// Publish surface used by the external scheduler.
	publish := r.Group("/v1")
	publish.Use(middleware.RateLimit(store, 30, time.Minute))
	publish.POST("/publish", handlers.Publish)

	// Management API (fail-secure: disabled without an admin key).
	v1 := r.Group("/api/v1")
	if cfg.AdminAPIKey != "" {
		v1.Use(middleware.APIKeyAuth(cfg.AdminAPIKey))
		log.Println("Management API authentication enabled.")
	} else {
		log.Println("WARNING: POSTGATE_ADMIN_API_KEY not set. Management API is disabled (fail-secure).")
		v1.Use(func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "management API disabled: POSTGATE_ADMIN_API_KEY not configured"})
		})
	}
	{
		v1.GET("/budget/status", handlers.BudgetStatus)
		v1.GET("/rate/targets", handlers.RateTargets)
		v1.GET("/usage/recent", handlers.RecentUsage)
		v1.POST("/generate", handlers.Generate)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("Postgate is ready on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	log.Println("Server exited.")
}
