// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestExecuteDispatchesToNestedSubcommand(t *testing.T) {
	var called string
	var receivedArgs []string

	root := &Command{
		Name:   "puppyagent",
		Output: &bytes.Buffer{},
		Subcommands: []*Command{
			{Name: "serve", Run: func(context.Context, []string) error { called = "serve"; return nil }},
			{
				Name: "user",
				Subcommands: []*Command{
					{
						Name: "add",
						Run: func(_ context.Context, args []string) error {
							called = "user add"
							receivedArgs = args
							return nil
						},
					},
				},
			},
		},
	}

	if err := root.Execute(context.Background(), []string{"user", "add", "alice"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if called != "user add" {
		t.Errorf("dispatched to %q, want %q", called, "user add")
	}
	if len(receivedArgs) != 1 || receivedArgs[0] != "alice" {
		t.Errorf("args = %v, want [alice]", receivedArgs)
	}
}

func TestExecuteParsesFlags(t *testing.T) {
	var roles []string
	var passwordStdin bool

	command := &Command{
		Name: "add",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("add", pflag.ContinueOnError)
			flagSet.StringArrayVar(&roles, "role", nil, "role to assign")
			flagSet.BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
			return flagSet
		},
		Run: func(_ context.Context, args []string) error {
			if len(args) != 1 || args[0] != "bob" {
				t.Errorf("args = %v", args)
			}
			return nil
		},
	}

	if err := command.Execute(context.Background(), []string{"--role", "owner", "bob", "--role=viewer", "--password-stdin"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if strings.Join(roles, ",") != "owner,viewer" || !passwordStdin {
		t.Errorf("roles = %v, password-stdin = %v", roles, passwordStdin)
	}
}

func TestExecuteSuggestsCommand(t *testing.T) {
	root := &Command{
		Name:   "puppyagent",
		Output: &bytes.Buffer{},
		Subcommands: []*Command{
			{Name: "update", Run: func(context.Context, []string) error { return nil }},
			{Name: "version", Run: func(context.Context, []string) error { return nil }},
		},
	}

	err := root.Execute(context.Background(), []string{"updte"})
	if err == nil {
		t.Fatal("Execute of an unknown command succeeded")
	}
	if !strings.Contains(err.Error(), `did you mean "update"`) {
		t.Errorf("error = %q, want a suggestion", err)
	}

	err = root.Execute(context.Background(), []string{"frobnicate"})
	if err == nil || strings.Contains(err.Error(), "did you mean") {
		t.Errorf("error = %v, want no suggestion for a distant name", err)
	}
}

func TestExecuteSuggestsFlag(t *testing.T) {
	command := &Command{
		Name: "update",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("update", pflag.ContinueOnError)
			flagSet.String("channel", "stable", "release channel")
			flagSet.Bool("force", false, "reinstall")
			return flagSet
		},
		Run: func(context.Context, []string) error { return nil },
	}

	err := command.Execute(context.Background(), []string{"--chanel", "prerelease"})
	if err == nil {
		t.Fatal("Execute with an unknown flag succeeded")
	}
	if !strings.Contains(err.Error(), "did you mean --channel") {
		t.Errorf("error = %q, want --channel suggestion", err)
	}
}

func TestHelpListsSubcommandsAndFlags(t *testing.T) {
	var help bytes.Buffer
	root := &Command{
		Name:   "puppyagent",
		Output: &help,
		Subcommands: []*Command{
			{
				Name:    "keygen",
				Summary: "generate a release signing keypair",
				Flags: func() *pflag.FlagSet {
					flagSet := pflag.NewFlagSet("keygen", pflag.ContinueOnError)
					flagSet.String("out", ".", "output directory")
					return flagSet
				},
				Run: func(context.Context, []string) error { return nil },
			},
		},
	}

	if err := root.Execute(context.Background(), []string{"--help"}); err != nil {
		t.Fatalf("Execute --help: %v", err)
	}
	if !strings.Contains(help.String(), "keygen") || !strings.Contains(help.String(), "generate a release signing keypair") {
		t.Errorf("root help:\n%s", help.String())
	}

	help.Reset()
	if err := root.Execute(context.Background(), []string{"keygen", "--help"}); err != nil {
		t.Fatalf("Execute keygen --help: %v", err)
	}
	if !strings.Contains(help.String(), "--out") || !strings.Contains(help.String(), "puppyagent keygen") {
		t.Errorf("keygen help:\n%s", help.String())
	}
}

func TestSubcommandRequired(t *testing.T) {
	root := &Command{
		Name:        "puppyagent",
		Output:      &bytes.Buffer{},
		Subcommands: []*Command{{Name: "serve", Run: func(context.Context, []string) error { return nil }}},
	}
	if err := root.Execute(context.Background(), nil); err == nil {
		t.Error("Execute without a subcommand succeeded")
	}
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "abc", 3},
		{"serve", "serve", 0},
		{"sevre", "serve", 2},
		{"updat", "update", 1},
		{"kitten", "sitting", 3},
	}
	for _, test := range tests {
		if got := levenshtein(test.a, test.b); got != test.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", test.a, test.b, got, test.want)
		}
	}
}
