// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package schema

// Client socket actions.
const (
	ActionCheck   = "check"
	ActionSession = "session"
	ActionStatus  = "status"
)

// Admin socket actions.
const (
	ActionSetBucket    = "set-bucket"
	ActionDeleteBucket = "delete-bucket"
	ActionSetPolicies  = "set-policies"
	ActionErase        = "erase"
	ActionListPolicies = "list-policies"
	ActionAdminCheck   = "admin-check"
	ActionDescriptions = "descriptions"
	ActionExport       = "export"
	ActionImport       = "import"
)

// ActionAgent opens the agent stream on the agent socket.
const ActionAgent = "agent"

// Error codes carried in the response envelope so callers can tell
// transient storage contention from bad input.
const (
	CodeBusy     = "busy"
	CodeCorrupt  = "corrupt"
	CodeNotFound = "not_found"
	CodeInvalid  = "invalid"
	CodeInternal = "internal"
)
