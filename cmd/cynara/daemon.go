// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/lukaszwojciechowski/cynara/lib/clock"
	"github.com/lukaszwojciechowski/cynara/lib/engine"
	"github.com/lukaszwojciechowski/cynara/lib/schema"
	"github.com/lukaszwojciechowski/cynara/lib/service"
	"github.com/lukaszwojciechowski/cynara/lib/storage"
)

// adminSocketMode restricts the admin socket to its owner and group.
const adminSocketMode = 0o660

// daemonConfig holds everything newDaemon needs. Storage must already
// be loaded.
type daemonConfig struct {
	Storage *storage.Storage
	Plugins *engine.Plugins
	Clock   clock.Clock
	Logger  *slog.Logger

	// AgentTimeout bounds each agent request; zero waits forever.
	AgentTimeout time.Duration

	ClientSocket string
	AdminSocket  string
	AgentSocket  string
}

// Daemon is the running service: the engine loop, the state it owns,
// and the socket servers that post into it.
type Daemon struct {
	logic     *engine.Logic
	loop      *engine.Loop
	agents    *agentHub
	clock     clock.Clock
	logger    *slog.Logger
	startedAt time.Time

	clientServer *service.SocketServer
	adminServer  *service.SocketServer
	agentServer  *service.SocketServer

	ready chan struct{}
}

func newDaemon(cfg daemonConfig) *Daemon {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	loop := engine.NewLoop(engine.DefaultInboxSize, logger)
	agents := newAgentHub(loop, cfg.Clock, cfg.AgentTimeout, logger.With("component", "agents"))
	logic := engine.NewLogic(engine.Config{
		Storage: cfg.Storage,
		Plugins: cfg.Plugins,
		Channel: agents,
		Logger:  logger.With("component", "engine"),
	})
	agents.logic = logic

	daemon := &Daemon{
		logic:     logic,
		loop:      loop,
		agents:    agents,
		clock:     cfg.Clock,
		logger:    logger,
		startedAt: cfg.Clock.Now(),
		ready:     make(chan struct{}),
	}

	daemon.clientServer = service.NewSocketServer(cfg.ClientSocket, logger.With("socket", "client"))
	daemon.clientServer.SetErrorClassifier(classifyError)
	daemon.registerClientActions(daemon.clientServer)

	daemon.adminServer = service.NewSocketServer(cfg.AdminSocket, logger.With("socket", "admin"))
	daemon.adminServer.SetMode(adminSocketMode)
	daemon.adminServer.SetErrorClassifier(classifyError)
	daemon.registerAdminActions(daemon.adminServer)

	daemon.agentServer = service.NewSocketServer(cfg.AgentSocket, logger.With("socket", "agent"))
	daemon.agentServer.SetErrorClassifier(classifyError)
	daemon.agentServer.HandleStream(schema.ActionAgent, agents.handleAgent)

	return daemon
}

// Ready is closed once every socket is listening.
func (d *Daemon) Ready() <-chan struct{} {
	return d.ready
}

// Run serves until ctx is cancelled or a socket server fails, then
// drains the servers and stops the loop.
func (d *Daemon) Run(ctx context.Context) error {
	loopCtx, stopLoop := context.WithCancel(context.Background())
	go d.loop.Run(loopCtx)
	defer func() {
		stopLoop()
		<-d.loop.Done()
	}()

	serveCtx, stopServing := context.WithCancel(ctx)
	defer stopServing()

	servers := []*service.SocketServer{d.clientServer, d.adminServer, d.agentServer}
	errs := make(chan error, len(servers))
	for _, server := range servers {
		go func() {
			errs <- server.Serve(serveCtx)
		}()
	}
	go func() {
		for _, server := range servers {
			select {
			case <-server.Ready():
			case <-serveCtx.Done():
				return
			}
		}
		d.logger.Info("cynara ready")
		close(d.ready)
	}()

	var firstErr error
	for range servers {
		if err := <-errs; err != nil && firstErr == nil {
			firstErr = err
			stopServing()
		}
	}
	return firstErr
}
