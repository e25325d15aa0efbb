// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"fmt"

	"github.com/lukaszwojciechowski/cynara/lib/policy"
	"github.com/lukaszwojciechowski/cynara/lib/schema"
	"github.com/lukaszwojciechowski/cynara/lib/service"
)

// Client talks to the client socket.
type Client struct {
	service *service.ServiceClient
}

// New returns a client for the client socket at socketPath. No
// connection is made until the first call.
func New(socketPath string) *Client {
	return &Client{service: service.NewServiceClient(socketPath)}
}

// Check asks for a decision on key. The daemon evaluates it without
// consulting agents: a plugin policy on the path yields DENY. Use a
// [Session] when an agent may need to answer.
func (c *Client) Check(ctx context.Context, key policy.Key) (policy.Decision, error) {
	request := schema.CheckRequest{Client: key.Client, User: key.User, Privilege: key.Privilege}
	var response schema.CheckResponse
	if err := c.service.Call(ctx, schema.ActionCheck, request, &response); err != nil {
		return policy.Decision{}, fmt.Errorf("checking %s: %w", key, err)
	}
	return decisionFromWire(response.Type, response.Metadata, response.Failure), nil
}

// Status returns daemon health.
func (c *Client) Status(ctx context.Context) (schema.StatusResponse, error) {
	var status schema.StatusResponse
	err := c.service.Call(ctx, schema.ActionStatus, nil, &status)
	return status, err
}

// OpenSession opens a session stream.
func (c *Client) OpenSession(ctx context.Context) (*Session, error) {
	stream, err := c.service.OpenStream(ctx, schema.ActionSession, nil)
	if err != nil {
		return nil, err
	}
	var ack schema.SessionAck
	if err := stream.DecodeAck(&ack); err != nil {
		stream.Close()
		return nil, fmt.Errorf("decoding session acknowledgement: %w", err)
	}
	return newSession(stream, ack.Session), nil
}

func decisionFromWire(resultType uint16, metadata, failure string) policy.Decision {
	return policy.Decision{
		Result:  policy.Result{Type: policy.Type(resultType), Metadata: metadata},
		Failure: policy.ParseFailure(failure),
	}
}
