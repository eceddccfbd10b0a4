// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/puppypeer/puppyagent/cmd/puppyagent/cli"
	"github.com/puppypeer/puppyagent/lib/artifact"
)

func (a *app) keygenCommand() *cli.Command {
	var out string
	return &cli.Command{
		Name:    "keygen",
		Summary: "create a release signing keypair",
		Description: `Generate an Ed25519 release signing keypair.

The private key is written with mode 0600 and must stay with whoever
publishes releases. The public key file holds the value for
update.public_key on every host. Existing key files are never
overwritten.`,
		Usage: "puppyagent keygen [--out DIR]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("keygen", pflag.ContinueOnError)
			flags.StringVar(&out, "out", ".", "directory to write the keypair into")
			return flags
		},
		Run: func(_ context.Context, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("keygen takes no arguments, got %q", args)
			}
			public, private, err := artifact.GenerateKeypair()
			if err != nil {
				return err
			}
			privatePath, publicPath, err := artifact.SaveKeypair(out, public, private)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "private key: %s\npublic key:  %s\nupdate.public_key: %s\n",
				privatePath, publicPath, artifact.FormatPublicKey(public))
			return nil
		},
	}
}

func (a *app) signCommand() *cli.Command {
	var keyPath string
	return &cli.Command{
		Name:    "sign",
		Summary: "sign a release tarball",
		Description: `Write the .sha256 and .sig sidecars for a release tarball.

Both sidecars are uploaded to the GitHub release next to the tarball.
The same digest and base64 signature are what BeginUploadUpdate expects
when pushing the tarball over the control plane.`,
		Usage: "puppyagent sign --key FILE <tarball>",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("sign", pflag.ContinueOnError)
			flags.StringVar(&keyPath, "key", "", "private key written by keygen")
			return flags
		},
		Run: func(_ context.Context, args []string) error {
			if keyPath == "" {
				return errors.New("--key is required")
			}
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one tarball, got %d arguments", len(args))
			}
			private, err := artifact.LoadPrivateKey(keyPath)
			if err != nil {
				return err
			}
			digest, err := artifact.SignFile(private, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "sha256: %s\nwrote %s.sha256 and %s.sig\n", digest, args[0], args[0])
			return nil
		},
	}
}
