package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clawncil/clawncil/internal/api"
	"github.com/clawncil/clawncil/internal/config"
	"github.com/clawncil/clawncil/internal/eventbus"
	"github.com/clawncil/clawncil/internal/gateway"
	"github.com/clawncil/clawncil/internal/lifecycle"
	"github.com/clawncil/clawncil/internal/state"
	"github.com/clawncil/clawncil/internal/tasks"
	"github.com/clawncil/clawncil/internal/web"
	"github.com/clawncil/clawncil/internal/workspace"
)

func main() {
	cfg := config.Load()
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("create data dir: %v", err)
	}

	db, err := state.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	store := state.NewStore(db)
	bus := eventbus.NewBus(db)
	manager := tasks.NewManager(db, bus)

	ws := workspace.NewStore(cfg.WorkspaceDir, cfg.ProjectName)
	if err := ws.EnsureRoot(); err != nil {
		log.Fatalf("prepare workspace: %v", err)
	}

	gw := gateway.New(cfg.GatewayURL, cfg.GatewayToken, cfg.DefaultModel)
	orch := lifecycle.New(store, ws, gw, bus)

	// Finish any agent creations interrupted before their artifacts landed.
	if err := orch.RecoverPending(context.Background()); err != nil {
		log.Printf("pending agent recovery: %v", err)
	}

	apiServer := &api.Server{
		Store:        store,
		Tasks:        manager,
		Bus:          bus,
		Orchestrator: orch,
		StartedAt:    time.Now().UTC(),
		Info: api.DiagnosticsInfo{
			HTTPAddr:     cfg.HTTPAddr,
			DataDir:      cfg.DataDir,
			DBPath:       cfg.DBPath,
			WorkspaceDir: cfg.WorkspaceDir,
			WebDir:       cfg.WebDir,
			GatewayURL:   cfg.GatewayURL,
			DefaultModel: cfg.DefaultModel,
		},
	}
	webServer := &web.Server{Dir: cfg.WebDir}

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer.Handler())
	mux.Handle("/", webServer.Handler())

	listener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}

	serverCtx, serverCancel := context.WithCancel(context.Background())
	httpServer := &http.Server{
		Handler:           loggingMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return serverCtx
		},
	}

	go func() {
		log.Printf("clawncild listening on %s", listener.Addr())
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	serverCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
	_ = httpServer.Close()
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}
