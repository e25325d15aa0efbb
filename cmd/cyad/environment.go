// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/lukaszwojciechowski/cynara/lib/client"
	"github.com/lukaszwojciechowski/cynara/lib/policy"
	"github.com/lukaszwojciechowski/cynara/lib/schema"
	"github.com/lukaszwojciechowski/cynara/lib/service"
)

// adminSocketVariable overrides the default admin socket path.
const adminSocketVariable = "CYNARA_ADMIN_SOCKET"

const defaultAdminSocket = "/run/cynara/cynara-admin.socket"

// callTimeout bounds each admin call.
const callTimeout = 30 * time.Second

// environment is what commands read from and write to. Tests replace
// its streams.
type environment struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func newEnvironment() *environment {
	return &environment{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
}

// connection holds the --socket flag shared by every command.
type connection struct {
	socket string
}

func (c *connection) addFlags(flagSet *pflag.FlagSet) {
	socket := os.Getenv(adminSocketVariable)
	if socket == "" {
		socket = defaultAdminSocket
	}
	flagSet.StringVar(&c.socket, "socket", socket, "admin socket path (env "+adminSocketVariable+")")
}

func (c *connection) admin() *client.Admin {
	return client.NewAdmin(c.socket)
}

func callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), callTimeout)
}

// describeError turns daemon errors into messages for an operator.
func describeError(err error) error {
	var serviceErr *service.ServiceError
	if !errors.As(err, &serviceErr) {
		return err
	}
	switch serviceErr.Code {
	case schema.CodeBusy:
		return fmt.Errorf("service unavailable: %s", serviceErr.Message)
	case schema.CodeCorrupt:
		return fmt.Errorf("policy database corrupt: %s", serviceErr.Message)
	default:
		return errors.New(serviceErr.Message)
	}
}

// typeResolver parses policy types, asking the daemon for plugin names
// the first time a name is not predefined.
type typeResolver struct {
	admin   *client.Admin
	plugins map[string]policy.Type
}

func newTypeResolver(admin *client.Admin) *typeResolver {
	return &typeResolver{admin: admin}
}

func (r *typeResolver) resolve(ctx context.Context, text string) (policy.Type, error) {
	parsed, err := policy.ParseType(text)
	if err == nil {
		return parsed, nil
	}
	if r.plugins == nil {
		descriptions, err := r.admin.Descriptions(ctx)
		if err != nil {
			return 0, fmt.Errorf("resolving type %q: %w", text, describeError(err))
		}
		r.plugins = make(map[string]policy.Type, len(descriptions))
		for _, description := range descriptions {
			r.plugins[strings.ToLower(description.Name)] = policy.Type(description.Type)
		}
	}
	if resolved, ok := r.plugins[strings.ToLower(strings.TrimSpace(text))]; ok {
		return resolved, nil
	}
	return 0, fmt.Errorf("%w: %q", policy.ErrInvalidType, text)
}
