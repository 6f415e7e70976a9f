// password.go: Terminal password prompt backed by a memguard enclave.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/awnumar/memguard"
	"golang.org/x/term"
)

const envPassword = "KEYCZAR_PASSWORD"

// terminalPrompt asks for the password once per run and keeps it sealed in
// an enclave, so loading and saving a key set share one prompt.
type terminalPrompt struct {
	in  *os.File
	out io.Writer

	mu      sync.Mutex
	enclave *memguard.Enclave
}

func newTerminalPrompt(in *os.File, out io.Writer) *terminalPrompt {
	return &terminalPrompt{in: in, out: out}
}

// Password implements keyczar.PasswordPrompt.
func (p *terminalPrompt) Password(_ context.Context, confirm bool) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.enclave != nil {
		return openEnclave(p.enclave)
	}

	var pw []byte
	if env, ok := os.LookupEnv(envPassword); ok {
		pw = []byte(env)
	} else {
		var err error
		if pw, err = p.read(confirm); err != nil {
			return nil, err
		}
	}
	if len(pw) == 0 {
		return nil, errors.New("empty password")
	}

	// NewEnclave wipes its argument.
	p.enclave = memguard.NewEnclave(append([]byte(nil), pw...))
	return pw, nil
}

func (p *terminalPrompt) read(confirm bool) ([]byte, error) {
	fd := int(p.in.Fd()) // #nosec G115 -- file descriptors fit in int
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("no terminal to prompt for a password; set %s", envPassword)
	}
	fmt.Fprint(p.out, "Password: ")
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}
	if !confirm {
		return pw, nil
	}

	fmt.Fprint(p.out, "Confirm password: ")
	again, err := term.ReadPassword(fd)
	fmt.Fprintln(p.out)
	defer memguard.WipeBytes(again)
	if err != nil {
		memguard.WipeBytes(pw)
		return nil, fmt.Errorf("failed to read password: %w", err)
	}
	if subtle.ConstantTimeCompare(pw, again) != 1 {
		memguard.WipeBytes(pw)
		return nil, errors.New("passwords do not match")
	}
	return pw, nil
}

func openEnclave(e *memguard.Enclave) ([]byte, error) {
	lb, err := e.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open password enclave: %w", err)
	}
	defer lb.Destroy()
	return append([]byte(nil), lb.Bytes()...), nil
}
