package service

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/rs/cors"
)

// Status is the body served on /healthz.
type Status struct {
	Running    bool   `json:"running"`
	Runs       int    `json:"runs"`
	LastRunID  string `json:"lastRunId,omitempty"`
	LastResult string `json:"lastResult,omitempty"`
}

type HealthzServer struct {
	status func() Status
	log    log.Logger

	mu     sync.Mutex
	server *http.Server
}

func (h *HealthzServer) Start(ctx context.Context, addr string) error {
	hdlr := http.NewServeMux()
	hdlr.HandleFunc("/healthz", h.Handle)
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
	})
	return serve(ctx, &h.mu, &h.server, c.Handler(hdlr), addr)
}

func (h *HealthzServer) Shutdown(ctx context.Context) error {
	return shutdown(ctx, &h.mu, &h.server)
}

func (h *HealthzServer) Handle(w http.ResponseWriter, r *http.Request) {
	if h.log != nil {
		h.log.Debug("Received health check request", "path", r.URL.Path)
	}
	st := Status{Running: true}
	if h.status != nil {
		st = h.status()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(st); err != nil && h.log != nil {
		h.log.Warn("Failed to write health response", "err", err)
	}
}

func serve(ctx context.Context, mu *sync.Mutex, dst **http.Server, handler http.Handler, addr string) error {
	server := &http.Server{
		Handler:     handler,
		Addr:        addr,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	mu.Lock()
	*dst = server
	mu.Unlock()
	return server.ListenAndServe()
}

func shutdown(ctx context.Context, mu *sync.Mutex, src **http.Server) error {
	mu.Lock()
	server := *src
	mu.Unlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}
