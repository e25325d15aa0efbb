// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/lukaszwojciechowski/cynara/lib/client"
	"github.com/lukaszwojciechowski/cynara/lib/process"
	"github.com/lukaszwojciechowski/cynara/lib/service"
	"github.com/lukaszwojciechowski/cynara/lib/version"
)

// agentSocketVariable overrides the default agent socket path.
const agentSocketVariable = "CYNARA_AGENT_SOCKET"

const defaultAgentSocket = "/run/cynara/cynara-agent.socket"

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

func run(args []string) error {
	var (
		socketPath  string
		agentType   string
		showVersion bool
	)
	defaultSocket := os.Getenv(agentSocketVariable)
	if defaultSocket == "" {
		defaultSocket = defaultAgentSocket
	}
	flags := pflag.NewFlagSet("cynara-agent-prompt", pflag.ContinueOnError)
	flags.StringVar(&socketPath, "socket", defaultSocket, "agent socket path (env "+agentSocketVariable+")")
	flags.StringVar(&agentType, "agent-type", "prompt", "agent type to answer for")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Printf("cynara-agent-prompt %s\n", version.Full())
		return nil
	}

	stdinFd := int(os.Stdin.Fd())
	if !term.IsTerminal(stdinFd) {
		return fmt.Errorf("standard input is not a terminal")
	}
	logger := service.NewLogger(slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := client.RegisterAgent(ctx, socketPath, agentType)
	if err != nil {
		return err
	}
	defer conn.Close()
	logger.Info("registered agent", "agent_type", agentType, "socket", socketPath)

	oldState, err := term.MakeRaw(stdinFd)
	if err != nil {
		return fmt.Errorf("entering raw mode: %w", err)
	}
	defer term.Restore(stdinFd, oldState)

	requests, receiveErr := receiveRequests(conn)
	p := newPrompter(conn, os.Stdout, "\r\n")
	err = p.run(ctx, requests, readKeys(os.Stdin))
	if errors.Is(err, errDaemonClosed) {
		err = fmt.Errorf("%w: %v", err, <-receiveErr)
	}
	return err
}

// receiveRequests forwards frames from conn until it fails. The error
// is sent on the second channel after the first is closed.
func receiveRequests(conn *client.AgentConn) (<-chan client.AgentRequest, <-chan error) {
	requests := make(chan client.AgentRequest)
	errs := make(chan error, 1)
	go func() {
		defer close(requests)
		for {
			request, err := conn.Receive()
			if err != nil {
				errs <- err
				return
			}
			requests <- request
		}
	}()
	return requests, errs
}

// readKeys delivers single bytes from r. The channel closes when r
// fails.
func readKeys(r io.Reader) <-chan byte {
	keys := make(chan byte)
	go func() {
		defer close(keys)
		buffer := make([]byte, 1)
		for {
			if _, err := r.Read(buffer); err != nil {
				return
			}
			keys <- buffer[0]
		}
	}()
	return keys
}
