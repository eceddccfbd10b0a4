// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the agent's YAML configuration.
//
// Configuration comes from a single file named by the --config flag or
// the PUPPYAGENT_CONFIG environment variable ([Resolve]). There is no
// search path. Keys the file omits keep their [Default] values, and
// unknown keys are errors.
//
// After loading, ${HOME}, ${PUPPYAGENT_STATE}, and ${VAR:-default}
// patterns are expanded in path fields. No environment variable
// overrides a configured value.
//
// [Config.Validate] reports every problem at once via errors.Join.
package config
