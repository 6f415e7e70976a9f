// main.go: keyczart, the key set management tool.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/agilira/keyczar"
	"github.com/awnumar/memguard"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func main() {
	memguard.CatchInterrupt()
	defer memguard.Purge()

	app := newApp(os.Stdout, newTerminalPrompt(os.Stdin, os.Stderr))
	if err := app.RunContext(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "keyczart:", err)
		memguard.Purge()
		os.Exit(1)
	}
}

// newApp builds the command tree. prompt answers --password requests.
func newApp(out io.Writer, prompt keyczar.PasswordPrompt) *cli.App {
	t := &tool{out: out, prompt: prompt, log: logrus.New()}
	return &cli.App{
		Name:      "keyczart",
		Usage:     "create and rotate keyczar key sets",
		Writer:    out,
		ErrWriter: os.Stderr,
		Flags: []cli.Flag{
			flagEnvFile,
			flagLogDebug,
			flagLogJSON,
		},
		Before: t.setup,
		Commands: []*cli.Command{
			{
				Name:   "create",
				Usage:  "create an empty key set",
				Flags:  []cli.Flag{flagLocation, flagName, flagPurpose, flagType, flagCrypter, flagPassword},
				Action: t.create,
			},
			{
				Name:   "addkey",
				Usage:  "generate a new key version",
				Flags:  []cli.Flag{flagLocation, flagStatus, flagSize, flagCrypter, flagPassword},
				Action: t.addKey,
			},
			{
				Name:   "promote",
				Usage:  "promote a key version (ACTIVE to PRIMARY, INACTIVE to ACTIVE)",
				Flags:  []cli.Flag{flagLocation, flagVersion, flagCrypter, flagPassword},
				Action: t.promote,
			},
			{
				Name:   "demote",
				Usage:  "demote a key version (PRIMARY to ACTIVE, ACTIVE to INACTIVE)",
				Flags:  []cli.Flag{flagLocation, flagVersion, flagCrypter, flagPassword},
				Action: t.demote,
			},
			{
				Name:   "revoke",
				Usage:  "remove an INACTIVE key version",
				Flags:  []cli.Flag{flagLocation, flagVersion, flagCrypter, flagPassword},
				Action: t.revoke,
			},
			{
				Name:   "pubkey",
				Usage:  "write the public key set of a private key set",
				Flags:  []cli.Flag{flagLocation, flagDestination, flagCrypter, flagPassword},
				Action: t.pubKey,
			},
			{
				Name:   "export",
				Usage:  "export the primary key as PEM",
				Flags:  []cli.Flag{flagLocation, flagDestination, flagPublic, flagCrypter, flagPassword},
				Action: t.export,
			},
			{
				Name:      "usekey",
				Usage:     "encrypt or sign a message with the primary key",
				ArgsUsage: "<message>",
				Flags:     []cli.Flag{flagLocation, flagDestination, flagFormat, flagSecret, flagCrypter, flagPassword},
				Action:    t.useKey,
			},
		},
	}
}
