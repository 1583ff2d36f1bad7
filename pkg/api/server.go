// Package api serves the operator status endpoint: process health, channel
// and session counts over REST, live system events over WebSocket. It is
// read-only: the bot is driven through chat, not HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/miniware/assistbot/pkg/bus"
	"github.com/miniware/assistbot/pkg/channels"
	"github.com/miniware/assistbot/pkg/flow"
	"github.com/miniware/assistbot/pkg/logger"
	"github.com/miniware/assistbot/pkg/scheduler"
)

// Server is the status HTTP server.
type Server struct {
	addr     string
	botName  string
	manager  *channels.Manager
	sessions *flow.Store
	cron     *scheduler.CronService

	hub       *wsHub
	startTime time.Time
	server    *http.Server
}

// NewServer creates a status server bound to addr.
func NewServer(addr, botName string, mgr *channels.Manager, sessions *flow.Store, cron *scheduler.CronService, mb *bus.MessageBus) *Server {
	s := &Server{
		addr:      addr,
		botName:   botName,
		manager:   mgr,
		sessions:  sessions,
		cron:      cron,
		startTime: time.Now(),
	}
	s.hub = newWSHub(mb.SubscribeSystem("api"))
	return s
}

// Start begins serving. It returns once the listener goroutine is running.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/ws", s.hub.handleWS)

	s.server = &http.Server{Addr: s.addr, Handler: mux}
	go s.hub.run(ctx)
	go func() {
		logger.InfoCF("api", "Status server listening", map[string]interface{}{"addr": s.addr})
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF("api", "Status server error", map[string]interface{}{"error": err.Error()})
		}
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintln(w, `{"status":"ok"}`)
}

type statusResponse struct {
	Bot      string   `json:"bot"`
	Uptime   string   `json:"uptime"`
	Channels []string `json:"channels"`
	Sessions int      `json:"sessions"`
	Topics   []string `json:"topics"`
	Memory   uint64   `json:"memory_bytes"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	resp := statusResponse{
		Bot:      s.botName,
		Uptime:   time.Since(s.startTime).Round(time.Second).String(),
		Channels: s.manager.Names(),
		Sessions: s.sessions.Count(),
		Memory:   mem.Alloc,
	}
	if s.cron != nil {
		resp.Topics = s.cron.Topics()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.WarnCF("api", "Status encode failed", map[string]interface{}{"error": err.Error()})
	}
}
