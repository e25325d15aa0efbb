// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the YAML configuration of the Cynara daemon.
//
// The file comes from the --config flag (via [LoadFile]) or the
// CYNARA_CONFIG environment variable (via [Load]). There is no search
// path. A daemon started without either runs on [Default].
//
// The file may carry development and production sections that
// override base values when [Config].Environment matches. Path fields
// expand ${RUN_DIR}, ${STATE_DIR}, ${HOME} and ${VAR:-default}
// after overrides are applied.
//
// Plugins are declared here rather than discovered: each entry binds a
// numeric policy type to a name, the agent type that answers it, and a
// description shown by the admin tool.
package config
