// commands.go: keyczart command actions.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/agilira/keyczar"
	"github.com/agilira/keyczar/storage"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

type tool struct {
	out    io.Writer
	prompt keyczar.PasswordPrompt
	log    *logrus.Logger
}

func (t *tool) setup(c *cli.Context) error {
	if file := c.String(flagEnvFile.Name); file != "" {
		if _, err := os.Stat(file); err == nil {
			if err := godotenv.Load(file); err != nil {
				return fmt.Errorf("failed to load %s: %w", file, err)
			}
		}
	}
	t.log.SetLevel(logrus.WarnLevel)
	if c.Bool(flagLogDebug.Name) {
		t.log.SetLevel(logrus.DebugLevel)
	}
	if c.Bool(flagLogJSON.Name) {
		t.log.SetFormatter(&logrus.JSONFormatter{})
	}
	t.log.SetOutput(c.App.ErrWriter)
	keyczar.SetLogger(t.log)
	return nil
}

func (t *tool) storageOptions(createOnly bool) *storage.Options {
	return &storage.Options{CreateOnly: createOnly, Logger: logrus.NewEntry(t.log)}
}

// reader opens --location through the decrypting decorators chosen on the
// command line.
func (t *tool) reader(c *cli.Context) (keyczar.KeySetReader, error) {
	r, err := storage.ReaderFor(c.String(flagLocation.Name), t.storageOptions(false))
	if err != nil {
		return nil, err
	}
	if loc := c.String(flagCrypter.Name); loc != "" {
		ks, err := t.loadPlain(c, loc)
		if err != nil {
			return nil, err
		}
		crypter, err := keyczar.NewCrypter(ks)
		if err != nil {
			return nil, err
		}
		return keyczar.NewEncryptedReader(r, crypter), nil
	}
	if c.Bool(flagPassword.Name) {
		return keyczar.NewPBEReader(r, t.prompt), nil
	}
	return r, nil
}

// writer opens location for writing through the encrypting decorators chosen
// on the command line.
func (t *tool) writer(c *cli.Context, location string, createOnly bool) (keyczar.KeySetWriter, error) {
	w, err := storage.WriterFor(location, t.storageOptions(createOnly))
	if err != nil {
		return nil, err
	}
	if loc := c.String(flagCrypter.Name); loc != "" {
		ks, err := t.loadPlain(c, loc)
		if err != nil {
			return nil, err
		}
		enc, err := keyczar.NewEncrypter(ks)
		if err != nil {
			return nil, err
		}
		return keyczar.NewEncryptedWriter(w, enc), nil
	}
	if c.Bool(flagPassword.Name) {
		return keyczar.NewPBEWriter(w, t.prompt, nil), nil
	}
	return w, nil
}

func (t *tool) loadPlain(c *cli.Context, location string) (*keyczar.KeySet, error) {
	r, err := storage.ReaderFor(location, t.storageOptions(false))
	if err != nil {
		return nil, err
	}
	return keyczar.NewKeySet(c.Context, r)
}

func (t *tool) load(c *cli.Context) (*keyczar.MutableKeySet, error) {
	r, err := t.reader(c)
	if err != nil {
		return nil, err
	}
	if closer, ok := r.(io.Closer); ok {
		defer func() { _ = closer.Close() }()
	}
	return keyczar.LoadMutableKeySet(c.Context, r)
}

func (t *tool) save(c *cli.Context, mks *keyczar.MutableKeySet, location string, createOnly bool) error {
	w, err := t.writer(c, location, createOnly)
	if err != nil {
		return err
	}
	if closer, ok := w.(io.Closer); ok {
		defer func() { _ = closer.Close() }()
	}
	return mks.Save(c.Context, w)
}

func parsePurpose(s string) (keyczar.KeyPurpose, error) {
	switch strings.ToLower(s) {
	case "crypt":
		return keyczar.PurposeDecryptAndEncrypt, nil
	case "sign":
		return keyczar.PurposeSignAndVerify, nil
	}
	p := keyczar.KeyPurpose(strings.ToUpper(s))
	if !p.IsValid() {
		return "", fmt.Errorf("unknown purpose %q", s)
	}
	return p, nil
}

func defaultType(p keyczar.KeyPurpose) (keyczar.KeyType, error) {
	switch p {
	case keyczar.PurposeDecryptAndEncrypt:
		return keyczar.KeyTypeAES, nil
	case keyczar.PurposeSignAndVerify, keyczar.PurposeSign:
		return keyczar.KeyTypeHMACSHA256, nil
	}
	return "", fmt.Errorf("purpose %s needs an explicit --type", p)
}

func (t *tool) create(c *cli.Context) error {
	purpose, err := parsePurpose(c.String(flagPurpose.Name))
	if err != nil {
		return err
	}
	keyType := keyczar.KeyType(strings.ToUpper(c.String(flagType.Name)))
	if keyType == "" {
		if keyType, err = defaultType(purpose); err != nil {
			return err
		}
	}
	mks, err := keyczar.NewEmptyMutableKeySet(keyczar.NewKeyMetadata(c.String(flagName.Name), purpose, keyType))
	if err != nil {
		return err
	}
	defer mks.Destroy()
	if err := t.save(c, mks, c.String(flagLocation.Name), true); err != nil {
		return err
	}
	fmt.Fprintf(t.out, "created %s key set %q (%s)\n", keyType, c.String(flagName.Name), purpose)
	return nil
}

func (t *tool) addKey(c *cli.Context) error {
	status := keyczar.KeyStatus(strings.ToUpper(c.String(flagStatus.Name)))
	if !status.IsValid() {
		return fmt.Errorf("unknown status %q", c.String(flagStatus.Name))
	}
	mks, err := t.load(c)
	if err != nil {
		return err
	}
	defer mks.Destroy()
	version, err := mks.AddKeySize(status, c.Int(flagSize.Name))
	if err != nil {
		return err
	}
	if err := t.save(c, mks, c.String(flagLocation.Name), false); err != nil {
		return err
	}
	fmt.Fprintf(t.out, "added version %d (%s)\n", version, status)
	return nil
}

type transition func(mks *keyczar.MutableKeySet, version int) (string, bool)

func (t *tool) changeStatus(c *cli.Context, verb string, apply transition) error {
	mks, err := t.load(c)
	if err != nil {
		return err
	}
	defer mks.Destroy()
	version := c.Int(flagVersion.Name)
	result, ok := apply(mks, version)
	if !ok {
		fmt.Fprintf(t.out, "version %d not %s\n", version, verb)
		return nil
	}
	if err := t.save(c, mks, c.String(flagLocation.Name), false); err != nil {
		return err
	}
	fmt.Fprintf(t.out, "version %d %s\n", version, result)
	return nil
}

func (t *tool) promote(c *cli.Context) error {
	return t.changeStatus(c, "promoted", func(mks *keyczar.MutableKeySet, v int) (string, bool) {
		status, ok := mks.Promote(v)
		return "is now " + string(status), ok
	})
}

func (t *tool) demote(c *cli.Context) error {
	return t.changeStatus(c, "demoted", func(mks *keyczar.MutableKeySet, v int) (string, bool) {
		status, ok := mks.Demote(v)
		return "is now " + string(status), ok
	})
}

func (t *tool) revoke(c *cli.Context) error {
	return t.changeStatus(c, "revoked", func(mks *keyczar.MutableKeySet, v int) (string, bool) {
		return "revoked", mks.Revoke(v)
	})
}

func (t *tool) pubKey(c *cli.Context) error {
	dest := c.String(flagDestination.Name)
	if dest == "" {
		return errors.New("--destination is required")
	}
	mks, err := t.load(c)
	if err != nil {
		return err
	}
	defer mks.Destroy()
	pub := mks.PublicKey()
	if pub == nil {
		return fmt.Errorf("%s key sets have no public form", mks.Metadata().Type)
	}
	defer pub.Destroy()
	w, err := storage.WriterFor(dest, t.storageOptions(true))
	if err != nil {
		return err
	}
	if err := pub.Save(c.Context, w); err != nil {
		return err
	}
	fmt.Fprintf(t.out, "wrote public key set to %s\n", dest)
	return nil
}

func (t *tool) export(c *cli.Context) error {
	mks, err := t.load(c)
	if err != nil {
		return err
	}
	defer mks.Destroy()
	ks, err := mks.KeySet()
	if err != nil {
		return err
	}
	defer ks.Destroy()

	var pemData []byte
	if c.Bool(flagPublic.Name) {
		pemData, err = keyczar.ExportPublicPEM(ks)
	} else {
		pemData, err = keyczar.ExportPrimaryPEM(ks)
	}
	if err != nil {
		return err
	}
	defer keyczar.Zeroize(pemData)
	return t.emit(c, pemData)
}

func (t *tool) useKey(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("usekey takes exactly one message argument")
	}
	message := []byte(c.Args().First())
	mks, err := t.load(c)
	if err != nil {
		return err
	}
	defer mks.Destroy()
	ks, err := mks.KeySet()
	if err != nil {
		return err
	}
	defer ks.Destroy()

	out, err := useKeySet(ks, c.String(flagFormat.Name), message, []byte(c.String(flagSecret.Name)))
	if err != nil {
		return err
	}
	return t.emit(c, []byte(keyczar.EncodeWebSafe(out)+"\n"))
}

// useKeySet encrypts when the purpose allows it and signs otherwise.
func useKeySet(ks *keyczar.KeySet, format string, message, secret []byte) ([]byte, error) {
	switch ks.Purpose() {
	case keyczar.PurposeEncrypt, keyczar.PurposeDecryptAndEncrypt:
		switch format {
		case "plain":
			enc, err := keyczar.NewEncrypter(ks)
			if err != nil {
				return nil, err
			}
			return enc.Encrypt(message)
		case "vanilla":
			enc, err := keyczar.NewVanillaEncrypter(ks, 0)
			if err != nil {
				return nil, err
			}
			return enc.Encrypt(message)
		}
	case keyczar.PurposeSign, keyczar.PurposeSignAndVerify:
		switch format {
		case "plain":
			s, err := keyczar.NewSigner(ks)
			if err != nil {
				return nil, err
			}
			return s.Sign(message)
		case "attached":
			s, err := keyczar.NewAttachedSigner(ks)
			if err != nil {
				return nil, err
			}
			return s.Sign(message, secret)
		case "vanilla":
			s, err := keyczar.NewVanillaSigner(ks, 0)
			if err != nil {
				return nil, err
			}
			return s.Sign(message)
		}
	default:
		return nil, fmt.Errorf("purpose %s cannot encrypt or sign", ks.Purpose())
	}
	return nil, fmt.Errorf("format %q is not supported for purpose %s", format, ks.Purpose())
}

// emit writes data to --destination with mode 0600, or to stdout.
func (t *tool) emit(c *cli.Context, data []byte) error {
	if dest := c.String(flagDestination.Name); dest != "" {
		return os.WriteFile(dest, data, 0o600)
	}
	_, err := t.out.Write(data)
	return err
}
