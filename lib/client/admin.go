// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"

	"github.com/lukaszwojciechowski/cynara/lib/policy"
	"github.com/lukaszwojciechowski/cynara/lib/schema"
	"github.com/lukaszwojciechowski/cynara/lib/service"
)

// Admin talks to the admin socket. Errors from the daemon are
// *service.ServiceError values; their Code is one of the schema.Code
// constants.
type Admin struct {
	service *service.ServiceClient
}

// NewAdmin returns an admin client for the socket at socketPath.
func NewAdmin(socketPath string) *Admin {
	return &Admin{service: service.NewServiceClient(socketPath)}
}

// SocketPath returns the admin socket path.
func (a *Admin) SocketPath() string {
	return a.service.SocketPath()
}

// SetBucket creates bucket or replaces its default result.
func (a *Admin) SetBucket(ctx context.Context, bucket string, defaultResult policy.Result) error {
	return a.service.Call(ctx, schema.ActionSetBucket, schema.SetBucketRequest{
		Bucket:   bucket,
		Type:     uint16(defaultResult.Type),
		Metadata: defaultResult.Metadata,
	}, nil)
}

// DeleteBucket removes bucket and every policy redirecting to it.
func (a *Admin) DeleteBucket(ctx context.Context, bucket string) error {
	return a.service.Call(ctx, schema.ActionDeleteBucket, schema.DeleteBucketRequest{Bucket: bucket}, nil)
}

// SetPolicies inserts set and removes remove in one mutation.
func (a *Admin) SetPolicies(ctx context.Context, set, remove []schema.PolicyEntry) error {
	return a.service.Call(ctx, schema.ActionSetPolicies, schema.SetPoliciesRequest{Set: set, Remove: remove}, nil)
}

// Erase removes the policies of bucket matching filter, following
// bucket links when recursive is set. It returns the number removed.
func (a *Admin) Erase(ctx context.Context, bucket string, recursive bool, filter policy.Key) (int, error) {
	var response schema.EraseResponse
	err := a.service.Call(ctx, schema.ActionErase, schema.EraseRequest{
		Bucket:    bucket,
		Recursive: recursive,
		Filter:    filterToWire(filter),
	}, &response)
	return response.Removed, err
}

// ListPolicies returns the policies of bucket matching filter.
func (a *Admin) ListPolicies(ctx context.Context, bucket string, filter policy.Key) ([]schema.PolicyEntry, error) {
	var response schema.ListPoliciesResponse
	err := a.service.Call(ctx, schema.ActionListPolicies, schema.ListPoliciesRequest{
		Bucket: bucket,
		Filter: filterToWire(filter),
	}, &response)
	return response.Policies, err
}

// Check evaluates key starting at bucket without consulting agents or
// the cache.
func (a *Admin) Check(ctx context.Context, bucket string, recursive bool, key policy.Key) (policy.Decision, error) {
	var response schema.CheckResponse
	err := a.service.Call(ctx, schema.ActionAdminCheck, schema.AdminCheckRequest{
		Bucket:    bucket,
		Recursive: recursive,
		Client:    key.Client,
		User:      key.User,
		Privilege: key.Privilege,
	}, &response)
	if err != nil {
		return policy.Decision{}, err
	}
	return decisionFromWire(response.Type, response.Metadata, response.Failure), nil
}

// Descriptions lists the predefined and plugin policy types.
func (a *Admin) Descriptions(ctx context.Context) ([]schema.Description, error) {
	var response schema.DescriptionsResponse
	err := a.service.Call(ctx, schema.ActionDescriptions, nil, &response)
	return response.Descriptions, err
}

// Export returns an encoded snapshot of every bucket.
func (a *Admin) Export(ctx context.Context) ([]byte, error) {
	var response schema.SnapshotMessage
	err := a.service.Call(ctx, schema.ActionExport, nil, &response)
	return response.Snapshot, err
}

// Import replaces all buckets with the contents of snapshot.
func (a *Admin) Import(ctx context.Context, snapshot []byte) error {
	return a.service.Call(ctx, schema.ActionImport, schema.SnapshotMessage{Snapshot: snapshot}, nil)
}

func filterToWire(filter policy.Key) schema.Filter {
	return schema.Filter{Client: filter.Client, User: filter.User, Privilege: filter.Privilege}
}
