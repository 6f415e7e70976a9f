// flags.go: Command line flags for keyczart.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"github.com/urfave/cli/v2"
)

var flagEnvFile = &cli.StringFlag{
	Name:  "env-file",
	Value: ".env",
	Usage: "load environment variables (AWS_*, VAULT_*, KEYCZAR_PASSWORD) from this file if it exists",
}

var flagLogDebug = &cli.BoolFlag{
	Name:  "log-debug",
	Usage: "log debug messages",
}

var flagLogJSON = &cli.BoolFlag{
	Name:  "log-json",
	Usage: "log in JSON format",
}

var flagLocation = &cli.StringFlag{
	Name:     "location",
	Required: true,
	EnvVars:  []string{"KEYCZAR_LOCATION"},
	Usage:    "key set location: a directory or a file://, zip://, https://, s3:// or vault:// URI",
}

var flagName = &cli.StringFlag{
	Name:  "name",
	Value: "keyset",
	Usage: "key set name",
}

var flagPurpose = &cli.StringFlag{
	Name:     "purpose",
	Required: true,
	Usage:    "crypt, sign, or one of ENCRYPT, DECRYPT_AND_ENCRYPT, SIGN, SIGN_AND_VERIFY, VERIFY",
}

var flagType = &cli.StringFlag{
	Name:  "type",
	Usage: "key type (AES, XCHACHA20, HMAC_SHA256, RSA_PRIV, ECDSA_PRIV, MLDSA65_PRIV, MLKEM768_PRIV); defaults by purpose",
}

var flagStatus = &cli.StringFlag{
	Name:  "status",
	Value: "ACTIVE",
	Usage: "status of the new key: PRIMARY, ACTIVE or INACTIVE",
}

var flagSize = &cli.IntFlag{
	Name:  "size",
	Usage: "key size in bits; 0 uses the type's default",
}

var flagVersion = &cli.IntFlag{
	Name:     "version",
	Required: true,
	Usage:    "key version number",
}

var flagDestination = &cli.StringFlag{
	Name:  "destination",
	Usage: "output location (pubkey), PEM file (export) or output file (usekey)",
}

var flagPublic = &cli.BoolFlag{
	Name:  "public",
	Usage: "export the public half of the primary key",
}

var flagFormat = &cli.StringFlag{
	Name:  "format",
	Value: "plain",
	Usage: "usekey output: plain, attached or vanilla",
}

var flagSecret = &cli.StringFlag{
	Name:  "secret",
	Usage: "hidden secret bound into an attached signature",
}

var flagCrypter = &cli.StringFlag{
	Name:  "crypter",
	Usage: "location of a key set that encrypts this key set's key data",
}

var flagPassword = &cli.BoolFlag{
	Name:  "password",
	Usage: "protect key data with a password (KEYCZAR_PASSWORD or interactive prompt)",
}
