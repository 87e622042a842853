// Copyright 2026 The Glasspane Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for glasspane.
//
// Configuration comes from a single YAML file named by the
// GLASSPANE_CONFIG environment variable or the --config flag. There is
// no automatic discovery and environment variables never override file
// values — configuration stays deterministic and auditable. Defaults
// are applied before the file is read so omitted fields have sensible
// values.
package config
