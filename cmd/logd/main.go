// Copyright 2025 Certen Protocol
//
// logd wires configuration, transport, local storage, and the sync
// controllers into a running process with explicit construction and
// graceful shutdown (signal.Notify + context.WithCancel + a blocking
// Shutdown).

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/certen/logchain/pkg/config"
	"github.com/certen/logchain/pkg/dblog"
	"github.com/certen/logchain/pkg/identity"
	"github.com/certen/logchain/pkg/storage"
	"github.com/certen/logchain/pkg/syncctl"
	"github.com/certen/logchain/pkg/transport"
)

// HealthStatus is the process's aggregate liveness view, recomputed
// whenever a component reports in.
type HealthStatus struct {
	PersonalSyncOK bool
	StorageOK      bool
	lastError      error
}

func (h *HealthStatus) SetPersonalSyncOK(ok bool) { h.PersonalSyncOK = ok }
func (h *HealthStatus) SetStorageOK(ok bool)      { h.StorageOK = ok }
func (h *HealthStatus) SetError(err error)        { h.lastError = err }

func (h *HealthStatus) Healthy() bool {
	return h.PersonalSyncOK && h.StorageOK
}

type staticTokenProvider struct{ token string }

func (s staticTokenProvider) Token() (string, error) { return s.token, nil }

func main() {
	configPath := flag.String("config", "", "optional YAML config file overlaying env vars")
	healthAddr := flag.String("health-addr", ":8091", "address to serve /healthz and /metrics on")
	flag.Parse()

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		log.Fatalf("logd: load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("logd: invalid config: %v", err)
	}

	logger := log.New(os.Stderr, "[logd] ", log.LstdFlags)
	health := &HealthStatus{}

	owner, err := loadOrGenerateIdentity(cfg.IdentityKeyPath)
	if err != nil {
		log.Fatalf("logd: load identity: %v", err)
	}
	logger.Printf("owner address=%s", owner.Address())

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("logd: create data dir: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := dblog.OpenWithLogger(ctx, cfg.ResolvedDBLogPath(), logger)
	if err != nil {
		log.Fatalf("logd: open dblog store: %v", err)
	}
	defer store.Close()

	backend, closeBackend, err := openStorageBackend(ctx, cfg)
	if err != nil {
		log.Fatalf("logd: open storage backend: %v", err)
	}
	defer closeBackend()
	health.SetStorageOK(true)

	auth := staticTokenProvider{token: cfg.StaticAuthToken}
	httpClient := transport.NewHTTPClient(cfg.APIBaseURL, auth)

	syncCfg := &syncctl.Config{
		PollInterval: cfg.PollInterval,
		Logger:       logger,
		OnEntryApplied: func(tables []string) {
			logger.Printf("applied entry, tables affected: %v", tables)
		},
		OnSyncStateChanged: func(s syncctl.State) {
			logger.Printf("sync state -> %s", s)
		},
	}

	personal := syncctl.NewPersonalController(httpClient, store, backend, "app", owner, syncCfg)
	if err := personal.Initialize(ctx); err != nil {
		log.Fatalf("logd: initialize personal controller: %v", err)
	}
	health.SetPersonalSyncOK(true)

	if _, err := personal.Sync(ctx); err != nil {
		logger.Printf("initial sync failed (will retry on the background loop): %v", err)
		health.SetError(err)
	}

	loop := syncctl.NewLoop(cfg.PollInterval, personal.Sync, logger)
	loop.Start(ctx)
	defer loop.Stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if health.Healthy() {
			w.WriteHeader(http.StatusOK)
			fmt.Fprintln(w, "ok")
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintln(w, "unhealthy")
	})
	healthServer := &http.Server{Addr: *healthAddr, Handler: mux}
	go func() {
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("health server stopped: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Printf("shutting down")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	defer shutdownCancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("health server shutdown: %v", err)
	}
}

// loadOrGenerateIdentity loads a hex-encoded secp256k1 private key from
// path, generating and persisting a new one (0600) if absent.
func loadOrGenerateIdentity(path string) (*identity.PrivateKey, error) {
	if path == "" {
		return identity.GenerateKey()
	}
	raw, err := os.ReadFile(path)
	if err == nil {
		return identity.PrivateKeyFromHex(string(raw))
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read identity key: %w", err)
	}

	key, err := identity.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate identity key: %w", err)
	}
	if err := os.WriteFile(path, []byte(key.Hex()), 0o600); err != nil {
		return nil, fmt.Errorf("persist identity key: %w", err)
	}
	return key, nil
}

func openStorageBackend(ctx context.Context, cfg *config.Config) (storage.Backend, func(), error) {
	switch cfg.StorageBackend {
	case config.BackendPostgres:
		pg, err := storage.OpenPostgresBackend(ctx, cfg.DatabaseURL, 25, 5)
		if err != nil {
			return nil, nil, err
		}
		return pg, func() { pg.Close() }, nil
	default:
		if err := os.MkdirAll(cfg.KVDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create kv dir: %w", err)
		}
		db, err := dbm.NewGoLevelDB("logchain", cfg.KVDir)
		if err != nil {
			return nil, nil, fmt.Errorf("open goleveldb: %w", err)
		}
		backend := storage.NewCometBFTBackend(db)
		return backend, func() { db.Close() }, nil
	}
}
