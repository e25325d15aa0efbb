// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/lukaszwojciechowski/cynara/lib/policy"
	"github.com/lukaszwojciechowski/cynara/lib/schema"
)

// bulkFields is the number of ';'-separated fields in a bulk line.
// The last field, metadata, may itself contain ';'.
const bulkFields = 6

// parseBulk reads bulk policy lines.
func parseBulk(ctx context.Context, r io.Reader, types *typeResolver) ([]schema.PolicyEntry, error) {
	var entries []schema.PolicyEntry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(text) == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.SplitN(text, ";", bulkFields)
		if len(fields) < bulkFields-1 {
			return nil, fmt.Errorf("line %d: want bucket;client;user;privilege;type[;metadata], got %q", line, text)
		}
		resultType, err := types.resolve(ctx, fields[4])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		entry := schema.PolicyEntry{
			Bucket:    fields[0],
			Client:    fields[1],
			User:      fields[2],
			Privilege: fields[3],
			Type:      uint16(resultType),
		}
		if len(fields) == bulkFields {
			entry.Metadata = fields[5]
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading policies: %w", err)
	}
	return entries, nil
}

// formatEntry renders entry as a bulk line that parseBulk accepts.
func formatEntry(entry schema.PolicyEntry) string {
	return strings.Join([]string{
		entry.Bucket,
		entry.Client,
		entry.User,
		entry.Privilege,
		policy.Type(entry.Type).String(),
		entry.Metadata,
	}, ";")
}
