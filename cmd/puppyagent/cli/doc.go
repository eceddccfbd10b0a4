// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command framework for the puppyagent binary.
//
// [Command] is a named command with optional [Command.Subcommands], a
// pflag FlagSet factory, and a Run function. [Command.Execute] handles
// flag parsing, subcommand routing, help output, and "did you mean"
// suggestions for mistyped commands and flags (edit distance at most
// 3).
//
// [NewLogger] picks a text or JSON slog handler depending on whether
// stderr is a terminal. [ReadPassword] prompts without echo.
package cli
