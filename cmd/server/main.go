package main

import (
	"context"
	"os"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	chartsynth "github.com/lumaviz/chartsynth"
	"github.com/lumaviz/chartsynth/internal/catalog"
	"github.com/lumaviz/chartsynth/internal/diff"
	"github.com/lumaviz/chartsynth/internal/gateway"
	"github.com/lumaviz/chartsynth/internal/httpapi"
	"github.com/lumaviz/chartsynth/internal/logger"
	"github.com/lumaviz/chartsynth/internal/orchestrator"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	ctx := context.Background()

	log, err := logger.New(os.Getenv("APP_ENV"))
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg := chartsynth.DefaultConfig()
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		cfg, err = chartsynth.LoadConfig(path)
		if err != nil {
			log.Fatal("failed to load config", "path", path, "error", err.Error())
		}
	}

	if os.Getenv("GEMINI_API_KEY") == "" {
		log.Fatal("GEMINI_API_KEY environment variable not set")
	}

	g, err := genkit.Init(ctx,
		genkit.WithPlugins(&googlegenai.GoogleAI{}),
		genkit.WithDefaultModel(cfg.Model),
	)
	if err != nil {
		log.Fatal("genkit initialization failed", "error", err.Error())
	}

	// Postgres when DATABASE_URL is set, in-memory otherwise.
	var store chartsynth.Gateway
	var jobs chartsynth.JobStore
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err != nil {
			log.Fatal("failed to connect to database", "error", err.Error())
		}
		if err := gateway.AutoMigrate(db); err != nil {
			log.Fatal("database migration failed", "error", err.Error())
		}
		store = gateway.NewGormGateway(db, log)
		jobs = gateway.NewGormJobStore(db, log)
		log.Info("using postgres persistence")
	} else {
		store = gateway.NewMemoryGateway()
		jobs = gateway.NewMemoryJobStore()
		log.Warn("DATABASE_URL not set, using in-memory persistence")
	}

	cat := catalog.New(g, store)

	pipeline, err := chartsynth.New(ctx,
		chartsynth.WithConfig(cfg),
		chartsynth.WithOrchestrator(orchestrator.New(g, cat, cfg.Model, cfg.CatalogSubset, log)),
		chartsynth.WithDiffEngine(diff.New(log)),
		chartsynth.WithGateway(store),
		chartsynth.WithJobStore(jobs),
		chartsynth.WithLogger(log),
	)
	if err != nil {
		log.Fatal("failed to build pipeline", "error", err.Error())
	}
	defer pipeline.Close()

	router := httpapi.NewRouter(httpapi.RouterConfig{
		ChartHandler: httpapi.NewChartHandler(pipeline, log),
	})

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	log.Info("server listening", "addr", addr)
	if err := router.Run(addr); err != nil {
		log.Fatal("server stopped", "error", err.Error())
	}
}
