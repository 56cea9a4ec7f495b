package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"popgraph/config"
	"popgraph/dag"
	"popgraph/db"
	"popgraph/dna"
	"popgraph/handlers"
	"popgraph/logger"
	"popgraph/metrics"
	"popgraph/persistence"
	"popgraph/repository"
	"popgraph/routers"
)

func main() {
	// Load config
	path := os.Getenv("POPGRAPH_CONFIG")
	if path == "" {
		path = "config/config.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Println("Config file error:", err)
		os.Exit(1)
	}

	if err := logger.InitLogger(cfg.Log.AppLogFile, cfg.Log.Level); err != nil {
		fmt.Println("Failed to initialize logger:", err)
		os.Exit(1)
	}
	defer logger.Logger.Sync()

	logger.Logger.Info("Starting lineage server...", zap.String("backend", cfg.Storage.Backend))

	repo, closeRepo, err := openRepository(cfg)
	if err != nil {
		logger.Logger.Fatal("Failed to open repository", zap.Error(err))
	}
	defer closeRepo()

	codec, err := persistence.NewJSONCodec[dna.Strand](cfg.Storage.Compression)
	if err != nil {
		logger.Logger.Fatal("Failed to create payload codec", zap.Error(err))
	}
	defer codec.Close()

	store := persistence.NewStore[dna.Strand](repo, codec)
	m := metrics.New()

	graphCfg := dag.Config[dna.Strand]{
		RootID:         cfg.Graph.RootID,
		DefaultBranch:  cfg.Graph.DefaultBranch,
		Sparsity:       cfg.Graph.Sparsity,
		Transition:     dna.Mutate,
		RequiredParams: dna.RequiredParams,
		Hooks:          []dag.Hook[dna.Strand]{store, metrics.Hook[dna.Strand](m)},
	}

	// Resume the stored graph, or seed a new one
	g, err := store.Load(graphCfg)
	if errors.Is(err, persistence.ErrEmpty) {
		logger.Logger.Info("Repository is empty, creating new graph", zap.String("root_id", cfg.Graph.RootID))
		g, err = dag.New(dna.Strand(cfg.Graph.RootStrand), graphCfg)
		if err == nil {
			err = store.Sync(g)
		}
	}
	if err != nil {
		logger.Logger.Fatal("Failed to initialize graph", zap.Error(err))
	}

	// Initialize HTTP handlers
	h := handlers.NewHandler(g, store, m)

	// Setup router
	r := mux.NewRouter()
	routers.RegisterRoutes(r, h)
	routers.RegisterMetrics(r, m)

	// HTTP Server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	// Start server in goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Logger.Error("Server stopped", zap.Error(err))
		}
	}()

	logger.Logger.Info("Server running on port", zap.Int("port", cfg.Server.Port))

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logger.Logger.Info("Shutdown signal received, exiting...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Logger.Error("Graceful shutdown failed", zap.Error(err))
	}
}

// openRepository connects the configured storage backend.
func openRepository(cfg *config.Config) (repository.NodeRepositoryInterface, func(), error) {
	switch cfg.Storage.Backend {
	case config.BackendRedis:
		repo := repository.NewRedisRepository(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			repository.WithPrefix(cfg.Redis.Prefix))
		if err := repo.Ping(); err != nil {
			repo.Close()
			return nil, nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Redis.Addr, err)
		}
		return repo, func() { repo.Close() }, nil

	case config.BackendMemory:
		return repository.NewMemoryRepository(), func() {}, nil

	default:
		ldb, err := db.NewLevelDB(cfg.LevelDB.Path)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewNodeRepository(ldb), func() { ldb.Close() }, nil
	}
}
