// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads cacheguard configuration.
//
// Configuration is loaded from a single file specified by either the
// CACHEGUARD_CONFIG environment variable (via [Load]) or a --config
// flag (via [LoadFile]). There is no file discovery. Files ending in
// .json or .jsonc are read as JSON with comments; anything else is
// YAML.
//
// Loading is layered: [Default] values, then the file, then the
// section matching [Config].Environment (development, staging,
// production), then ${VAR} and ${VAR:-default} expansion on path
// fields. Command-line flags are applied by the caller afterwards, and
// [Config.Validate] runs last. Production refuses to disable host key
// checking.
//
// [Config.Targets] resolves the worker list, explicit or generated
// from worker_count, into immutable fleet targets.
package config
