// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package integrity computes and verifies the data integrity digest that
// protects each saved group against tampering and corruption.
//
// The digest is an HMAC-SHA256, keyed by the passphrase, over a canonical
// JSON encoding of the ordered feature list. Callers are responsible for
// sorting the features by catalog priority before calling Digest or
// Verify; the same features in a different order yield a different digest.
package integrity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/juju/errors"

	"github.com/juju/srr/core/srr"
)

// canonicalFeature is the digested form of a feature. Status is not part
// of it: only what is handed back to agents on restore is protected.
type canonicalFeature struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Data    string `json:"data"`
}

func canonicalBytes(features []srr.NamedFeature) ([]byte, error) {
	canonical := make([]canonicalFeature, len(features))
	for i, f := range features {
		canonical[i] = canonicalFeature{
			Name:    f.Name,
			Version: f.Feature.Version,
			Data:    f.Feature.Data,
		}
	}
	b, err := json.Marshal(canonical)
	if err != nil {
		return nil, errors.Annotate(err, "encoding features")
	}
	return b, nil
}

func sum(features []srr.NamedFeature, passphrase string) ([]byte, error) {
	b, err := canonicalBytes(features)
	if err != nil {
		return nil, errors.Trace(err)
	}
	mac := hmac.New(sha256.New, []byte(passphrase))
	_, _ = mac.Write(b)
	return mac.Sum(nil), nil
}

// Digest returns the hex encoded integrity digest of the ordered features.
func Digest(features []srr.NamedFeature, passphrase string) (string, error) {
	d, err := sum(features, passphrase)
	if err != nil {
		return "", errors.Trace(err)
	}
	return hex.EncodeToString(d), nil
}

// Verify reports whether expected is the digest of the ordered features.
// A malformed expected digest is reported as a mismatch.
func Verify(features []srr.NamedFeature, passphrase, expected string) (bool, error) {
	want, err := hex.DecodeString(expected)
	if err != nil {
		return false, nil
	}
	got, err := sum(features, passphrase)
	if err != nil {
		return false, errors.Trace(err)
	}
	return hmac.Equal(got, want), nil
}
