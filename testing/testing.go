/*
   Hockeypuck - OpenPGP key server
   Copyright (C) 2012-2014  Casey Marshall

   This program is free software: you can redistribute it and/or modify
   it under the terms of the GNU Affero General Public License as published by
   the Free Software Foundation, version 3.

   This program is distributed in the hope that it will be useful,
   but WITHOUT ANY WARRANTY; without even the implied warranty of
   MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
   GNU Affero General Public License for more details.

   You should have received a copy of the GNU Affero General Public License
   along with this program.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package testing provides test fixtures shared across the key server's
// package tests.
package testing

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
)

// MustInput opens a file under testing/data, panicking on failure.
func MustInput(name string) *os.File {
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		panic("cannot locate test data")
	}
	f, err := os.Open(filepath.Join(filepath.Dir(thisFile), "data", name))
	if err != nil {
		panic(fmt.Errorf("cannot open test data %q: %v", name, err))
	}
	return f
}

// MustInputString returns the contents of a file under testing/data.
func MustInputString(name string) string {
	f := MustInput(name)
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		panic(err)
	}
	return string(b)
}

// KeyOptions describes a public key to generate.
type KeyOptions struct {
	Name    string
	Comment string
	Email   string
	Created time.Time
	// Lifetime of the primary key; zero means no expiration.
	Lifetime time.Duration
	// RSABits selects an RSA key of that size instead of the default EdDSA key.
	RSABits int
}

// MustGenerateKey returns a freshly generated, armored public key.
func MustGenerateKey(opts KeyOptions) string {
	armored, err := GenerateKey(opts)
	if err != nil {
		panic(err)
	}
	return armored
}

// GenerateKey creates a new key pair and returns the armored public half.
func GenerateKey(opts KeyOptions) (string, error) {
	created := opts.Created
	if created.IsZero() {
		created = time.Now()
	}
	config := &packet.Config{
		Algorithm:       packet.PubKeyAlgoEdDSA,
		Time:            func() time.Time { return created },
		KeyLifetimeSecs: uint32(opts.Lifetime / time.Second),
	}
	if opts.RSABits > 0 {
		config.Algorithm = packet.PubKeyAlgoRSA
		config.RSABits = opts.RSABits
	}
	e, err := openpgp.NewEntity(opts.Name, opts.Comment, opts.Email, config)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		return "", err
	}
	if err := e.Serialize(w); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
