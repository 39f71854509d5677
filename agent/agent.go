// Package agent runs child processes on behalf of remote clients, forwarding
// their standard streams over a WebSocket. It is the network face of the
// redproc engine: one connection, one child, full stream fidelity.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Agent is an HTTP server exposing the exec endpoint. It binds loopback by
// default; anyone who can reach the socket can run processes through it.
type Agent struct {
	logger *zap.Logger
	log    *zap.SugaredLogger

	listenAddr string

	httpServer *http.Server
	execServer *ExecServer
}

// Option configures an Agent.
type Option func(a *Agent)

// WithListenAddr sets the address the HTTP server listens on.
func WithListenAddr(s string) Option {
	return func(a *Agent) {
		a.listenAddr = s
	}
}

// WithLogger replaces the default development logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Agent) {
		a.logger = l
	}
}

// WithLogLevel raises the minimum level of the agent's logger.
func WithLogLevel(l zapcore.Level) Option {
	return func(a *Agent) {
		a.logger = a.logger.WithOptions(zap.IncreaseLevel(l))
	}
}

// New constructs an agent.
func New(opts ...Option) (*Agent, error) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	a := &Agent{
		logger:     logger,
		listenAddr: "127.0.0.1:8090",
	}
	for _, o := range opts {
		o(a)
	}
	a.logger = a.logger.Named("agent")
	a.log = a.logger.Sugar()
	a.execServer = NewExecServer(a.logger)
	return a, nil
}

// Run serves until Stop is called.
func (a *Agent) Run() error {
	router := httprouter.New()
	router.Handler(http.MethodGet, "/v1/exec", a.execServer)
	router.HandlerFunc(http.MethodGet, "/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	listener, err := net.Listen("tcp", a.listenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.listenAddr, err)
	}
	a.log.Infow("agent listening", "Addr", listener.Addr().String())

	a.httpServer = &http.Server{Handler: router}
	if err := a.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the HTTP server down. Exec sessions run on hijacked WebSocket
// connections, which the shutdown neither closes nor waits for.
func (a *Agent) Stop() error {
	if a.httpServer == nil {
		return nil
	}
	return a.httpServer.Shutdown(context.Background())
}
