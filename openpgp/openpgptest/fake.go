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

// Package openpgptest provides an in-memory openpgp.Engine for tests that do
// not need real key material.
package openpgptest

import (
	"sync"

	"github.com/pkg/errors"

	"hkps/openpgp"
)

// Key is the metadata a Fake engine reports for one armored text.
type Key struct {
	Primary    openpgp.PrimaryKey
	Identities []*openpgp.Identity
	Subkeys    []*openpgp.Subkey
}

type handle struct {
	armored string
	key     *Key
}

func (h *handle) Armored() string { return h.armored }

// Fake maps armored texts to canned metadata. Unknown texts fail to parse.
type Fake struct {
	mu   sync.Mutex
	keys map[string]*Key

	// ParseErr, when set, is returned for unknown texts.
	ParseErr error
}

var _ openpgp.Engine = (*Fake)(nil)

func NewFake() *Fake {
	return &Fake{keys: make(map[string]*Key)}
}

// Add registers key under the given armored text.
func (f *Fake) Add(armored string, key *Key) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[armored] = key
}

func (f *Fake) ParseArmored(keytext string) (openpgp.ParsedKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key, ok := f.keys[keytext]
	if !ok {
		if f.ParseErr != nil {
			return nil, f.ParseErr
		}
		return nil, errors.New("invalid PGP key format")
	}
	return &handle{armored: keytext, key: key}, nil
}

func (f *Fake) lookup(pk openpgp.ParsedKey) (*Key, error) {
	h, ok := pk.(*handle)
	if !ok {
		return nil, errors.Errorf("unsupported key handle %T", pk)
	}
	return h.key, nil
}

func (f *Fake) PrimaryKeyMetadata(pk openpgp.ParsedKey) (*openpgp.PrimaryKey, error) {
	key, err := f.lookup(pk)
	if err != nil {
		return nil, err
	}
	md := key.Primary
	return &md, nil
}

func (f *Fake) ListIdentities(pk openpgp.ParsedKey) ([]*openpgp.Identity, error) {
	key, err := f.lookup(pk)
	if err != nil {
		return nil, err
	}
	return key.Identities, nil
}

func (f *Fake) ListSubkeys(pk openpgp.ParsedKey) ([]*openpgp.Subkey, error) {
	key, err := f.lookup(pk)
	if err != nil {
		return nil, err
	}
	return key.Subkeys, nil
}
