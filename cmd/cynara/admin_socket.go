// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/lukaszwojciechowski/cynara/lib/codec"
	"github.com/lukaszwojciechowski/cynara/lib/engine"
	"github.com/lukaszwojciechowski/cynara/lib/policy"
	"github.com/lukaszwojciechowski/cynara/lib/schema"
	"github.com/lukaszwojciechowski/cynara/lib/service"
	"github.com/lukaszwojciechowski/cynara/lib/storage"
)

// errInvalidRequest marks requests that could not be decoded.
var errInvalidRequest = errors.New("invalid request")

func decodeRequest(raw []byte, target any) error {
	if err := codec.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("%w: %w", errInvalidRequest, err)
	}
	return nil
}

// classifyError maps engine and storage errors to response codes.
func classifyError(err error) string {
	switch {
	case errors.Is(err, storage.ErrStorageBusy):
		return schema.CodeBusy
	case errors.Is(err, storage.ErrStorageCorrupt):
		return schema.CodeCorrupt
	case errors.Is(err, storage.ErrBucketNotFound):
		return schema.CodeNotFound
	case errors.Is(err, errInvalidRequest),
		errors.Is(err, policy.ErrInvalidKey),
		errors.Is(err, policy.ErrInvalidType),
		errors.Is(err, storage.ErrDefaultBucket),
		errors.Is(err, storage.ErrBucketInUse),
		errors.Is(err, storage.ErrInvalidBucketID),
		errors.Is(err, storage.ErrInvalidPolicy),
		errors.Is(err, storage.ErrInvalidSnapshot):
		return schema.CodeInvalid
	default:
		return schema.CodeInternal
	}
}

func (d *Daemon) registerAdminActions(server *service.SocketServer) {
	server.Handle(schema.ActionSetBucket, d.handleSetBucket)
	server.Handle(schema.ActionDeleteBucket, d.handleDeleteBucket)
	server.Handle(schema.ActionSetPolicies, d.handleSetPolicies)
	server.Handle(schema.ActionErase, d.handleErase)
	server.Handle(schema.ActionListPolicies, d.handleListPolicies)
	server.Handle(schema.ActionAdminCheck, d.handleAdminCheck)
	server.Handle(schema.ActionDescriptions, d.handleDescriptions)
	server.Handle(schema.ActionExport, d.handleExport)
	server.Handle(schema.ActionImport, d.handleImport)
	server.Handle(schema.ActionStatus, d.handleStatus)
}

// mutate runs an admin mutation on the loop and logs its outcome.
func (d *Daemon) mutate(ctx context.Context, action string, apply func() error) (any, error) {
	_, err := engine.Call(ctx, d.loop, func() (struct{}, error) {
		return struct{}{}, apply()
	})
	if err != nil {
		return nil, err
	}
	attrs := []any{"action", action}
	if peer, ok := service.PeerFromContext(ctx); ok {
		attrs = append(attrs, "pid", peer.PID, "uid", peer.UID)
	}
	d.logger.Info("policy database changed", attrs...)
	return nil, nil
}

func (d *Daemon) handleSetBucket(ctx context.Context, raw []byte) (any, error) {
	var request schema.SetBucketRequest
	if err := decodeRequest(raw, &request); err != nil {
		return nil, err
	}
	result := policy.Result{Type: policy.Type(request.Type), Metadata: request.Metadata}
	return d.mutate(ctx, schema.ActionSetBucket, func() error {
		return d.logic.SetBucket(ctx, request.Bucket, result)
	})
}

func (d *Daemon) handleDeleteBucket(ctx context.Context, raw []byte) (any, error) {
	var request schema.DeleteBucketRequest
	if err := decodeRequest(raw, &request); err != nil {
		return nil, err
	}
	return d.mutate(ctx, schema.ActionDeleteBucket, func() error {
		return d.logic.DeleteBucket(ctx, request.Bucket)
	})
}

func (d *Daemon) handleSetPolicies(ctx context.Context, raw []byte) (any, error) {
	var request schema.SetPoliciesRequest
	if err := decodeRequest(raw, &request); err != nil {
		return nil, err
	}
	batch := storage.Batch{
		Set:    entriesFromWire(request.Set),
		Remove: entriesFromWire(request.Remove),
	}
	return d.mutate(ctx, schema.ActionSetPolicies, func() error {
		return d.logic.SetPolicies(ctx, batch)
	})
}

func (d *Daemon) handleErase(ctx context.Context, raw []byte) (any, error) {
	var request schema.EraseRequest
	if err := decodeRequest(raw, &request); err != nil {
		return nil, err
	}
	filter := policy.NewKey(request.Filter.Client, request.Filter.User, request.Filter.Privilege)
	removed, err := engine.Call(ctx, d.loop, func() (int, error) {
		return d.logic.Erase(ctx, request.Bucket, request.Recursive, filter)
	})
	if err != nil {
		return nil, err
	}
	d.logger.Info("policy database changed", "action", schema.ActionErase, "removed", removed)
	return schema.EraseResponse{Removed: removed}, nil
}

func (d *Daemon) handleListPolicies(ctx context.Context, raw []byte) (any, error) {
	var request schema.ListPoliciesRequest
	if err := decodeRequest(raw, &request); err != nil {
		return nil, err
	}
	filter := policy.NewKey(request.Filter.Client, request.Filter.User, request.Filter.Privilege)
	policies, err := engine.Call(ctx, d.loop, func() ([]policy.Policy, error) {
		return d.logic.ListPolicies(request.Bucket, filter)
	})
	if err != nil {
		return nil, err
	}
	entries := make([]schema.PolicyEntry, 0, len(policies))
	for _, stored := range policies {
		entries = append(entries, schema.PolicyEntry{
			Bucket:    request.Bucket,
			Client:    stored.Key.Client,
			User:      stored.Key.User,
			Privilege: stored.Key.Privilege,
			Type:      uint16(stored.Result.Type),
			Metadata:  stored.Result.Metadata,
		})
	}
	return schema.ListPoliciesResponse{Policies: entries}, nil
}

func (d *Daemon) handleAdminCheck(ctx context.Context, raw []byte) (any, error) {
	var request schema.AdminCheckRequest
	if err := decodeRequest(raw, &request); err != nil {
		return nil, err
	}
	key := policy.NewKey(request.Client, request.User, request.Privilege)
	decision, err := engine.Call(ctx, d.loop, func() (policy.Decision, error) {
		return d.logic.AdminCheck(request.Bucket, request.Recursive, key)
	})
	if err != nil {
		return nil, err
	}
	return checkResponse(decision), nil
}

func (d *Daemon) handleDescriptions(ctx context.Context, _ []byte) (any, error) {
	descriptions := d.logic.Plugins().Descriptions()
	response := schema.DescriptionsResponse{Descriptions: make([]schema.Description, 0, len(descriptions))}
	for _, description := range descriptions {
		response.Descriptions = append(response.Descriptions, schema.Description{
			Type: uint16(description.Type),
			Name: description.Name,
		})
	}
	return response, nil
}

func (d *Daemon) handleExport(ctx context.Context, _ []byte) (any, error) {
	snapshot, err := engine.Call(ctx, d.loop, d.logic.Export)
	if err != nil {
		return nil, err
	}
	return schema.SnapshotMessage{Snapshot: snapshot}, nil
}

func (d *Daemon) handleImport(ctx context.Context, raw []byte) (any, error) {
	var request schema.SnapshotMessage
	if err := decodeRequest(raw, &request); err != nil {
		return nil, err
	}
	return d.mutate(ctx, schema.ActionImport, func() error {
		return d.logic.Import(ctx, request.Snapshot)
	})
}

func entriesFromWire(entries []schema.PolicyEntry) []storage.Entry {
	converted := make([]storage.Entry, 0, len(entries))
	for _, entry := range entries {
		converted = append(converted, storage.Entry{
			Bucket: entry.Bucket,
			Key:    policy.NewKey(entry.Client, entry.User, entry.Privilege),
			Result: policy.Result{Type: policy.Type(entry.Type), Metadata: entry.Metadata},
		})
	}
	return converted
}
