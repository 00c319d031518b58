package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"stayguard/internal/config"
	httphandler "stayguard/internal/http"
	"stayguard/internal/ingest"
	"stayguard/internal/llm"
	"stayguard/internal/ratelimit"
	"stayguard/internal/repo"
	"stayguard/internal/takeaway"
)

func main() {
	var (
		ingestData = flag.Bool("ingest", false, "Load sample data into the database and exit")
		port       = flag.String("port", "", "Port to run the server on (overrides PORT)")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if *port != "" {
		cfg.Server.Port = *port
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := repo.NewDB(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure schema")
	}

	opinions := repo.NewOpinionStore(db)
	takeaways := repo.NewTakeawayStore(db)
	accommodations := repo.NewAccommodationStore(db)

	if *ingestData {
		log.Info().Msg("Loading sample data...")
		loader := ingest.NewLoader(opinions, accommodations)
		if err := loader.GenerateSampleData(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to load sample data")
		}
		return
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		// The per-IP limiter fails open without Redis; keep serving.
		log.Warn().Err(err).Msg("Redis unavailable, inbound rate limiting disabled")
		rdb = nil
	}

	generator, err := buildGenerator(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize generation provider")
	}
	if generator == nil {
		log.Warn().Str("provider", cfg.LLM.Provider).Msg("No provider API key set, takeaway endpoint will answer 503")
	}

	limiter := ratelimit.NewTokenBucket(cfg.Takeaways.RateLimitTokens, cfg.Takeaways.RateLimitWindow)

	svc := takeaway.NewService(opinions, takeaways, accommodations, limiter, generator, takeaway.Options{
		RadiusMeters:    cfg.Takeaways.RadiusMeters,
		OpinionLimit:    int32(cfg.Takeaways.OpinionLimit),
		PromptCharLimit: cfg.Takeaways.PromptCharLimit,
		MaxRetries:      cfg.Takeaways.MaxRetries,
		RetryBaseDelay:  cfg.Takeaways.RetryBaseDelay,
	})

	router := httphandler.NewRouter(rdb)
	router.RegisterTakeawayRoutes(httphandler.NewTakeawayHandler(svc))
	router.RegisterHealthRoutes()

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("Starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	log.Info().Msg("Server stopped")
}

// buildGenerator wires the configured provider. A missing API key yields a
// nil generator rather than a startup failure so the rest of the API keeps
// working.
func buildGenerator(ctx context.Context, cfg *config.Config) (llm.TextGenerator, error) {
	if cfg.ProviderKey() == "" {
		return nil, nil
	}
	switch cfg.LLM.Provider {
	case "openai":
		return llm.NewOpenAIClient(cfg.LLM.OpenAIAPIKey, cfg.LLM.Model)
	default:
		return llm.NewGeminiClient(ctx, cfg.LLM.GeminiAPIKey, cfg.LLM.Model)
	}
}
