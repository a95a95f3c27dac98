// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package passphrase validates backup passphrases and derives the checksum
// that a restore must present to prove knowledge of the passphrase used at
// save time.
package passphrase

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/juju/errors"
	"golang.org/x/crypto/scrypt"

	srrerrors "github.com/juju/srr/core/srr/errors"
)

const (
	saltLen = 16
	keyLen  = 32

	// scrypt cost parameters.
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// Format describes which passphrases are accepted.
type Format struct {
	MinLength int
	MaxLength int
}

// DefaultFormat accepts 8 to 32 printable characters.
var DefaultFormat = Format{MinLength: 8, MaxLength: 32}

// Description returns a human readable description of the format.
func (f Format) Description() string {
	return fmt.Sprintf("Passphrase must have %d to %d characters", f.MinLength, f.MaxLength)
}

// Pattern returns a regular expression matching the format, for user
// interfaces that validate input before submitting it.
func (f Format) Pattern() string {
	return fmt.Sprintf("^.{%d,%d}$", f.MinLength, f.MaxLength)
}

// Validate returns an InvalidPassphrase error if p does not match the
// format.
func (f Format) Validate(p string) error {
	n := utf8.RuneCountInString(p)
	if n < f.MinLength || n > f.MaxLength {
		return fmt.Errorf("%s: %w", f.Description(), srrerrors.InvalidPassphrase)
	}
	for _, r := range p {
		if !unicode.IsPrint(r) {
			return fmt.Errorf("passphrase contains non printable characters: %w", srrerrors.InvalidPassphrase)
		}
	}
	return nil
}

// Checksum returns a salted checksum of the passphrase, in the form
// base64(salt):base64(key).
func (f Format) Checksum(p string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", errors.Annotate(err, "generating salt")
	}
	key, err := derive(p, salt)
	if err != nil {
		return "", errors.Trace(err)
	}
	return base64.StdEncoding.EncodeToString(salt) + ":" + base64.StdEncoding.EncodeToString(key), nil
}

// VerifyChecksum returns an InvalidPassphrase error unless checksum was
// produced by Checksum for the same passphrase.
func (f Format) VerifyChecksum(p, checksum string) error {
	encSalt, encKey, ok := strings.Cut(checksum, ":")
	if !ok {
		return fmt.Errorf("malformed checksum: %w", srrerrors.InvalidPassphrase)
	}
	salt, err := base64.StdEncoding.DecodeString(encSalt)
	if err != nil || len(salt) == 0 {
		return fmt.Errorf("malformed checksum salt: %w", srrerrors.InvalidPassphrase)
	}
	want, err := base64.StdEncoding.DecodeString(encKey)
	if err != nil || len(want) != keyLen {
		return fmt.Errorf("malformed checksum key: %w", srrerrors.InvalidPassphrase)
	}
	got, err := derive(p, salt)
	if err != nil {
		return errors.Trace(err)
	}
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return fmt.Errorf("passphrase does not match checksum: %w", srrerrors.InvalidPassphrase)
	}
	return nil
}

func derive(p string, salt []byte) ([]byte, error) {
	key, err := scrypt.Key([]byte(p), salt, scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, errors.Annotate(err, "deriving passphrase key")
	}
	return key, nil
}
