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

// Package openpgp inspects OpenPGP public key material on behalf of the key
// server. The rest of the server only sees the Engine interface and the
// metadata records defined here.
package openpgp

import (
	"time"
)

// ParsedKey is an engine-specific handle on a parsed public key.
type ParsedKey interface {
	// Armored returns the armored text the key was parsed from.
	Armored() string
}

// Engine parses armored public keys and reports their metadata.
type Engine interface {
	ParseArmored(keytext string) (ParsedKey, error)
	PrimaryKeyMetadata(key ParsedKey) (*PrimaryKey, error)
	ListIdentities(key ParsedKey) ([]*Identity, error)
	ListSubkeys(key ParsedKey) ([]*Subkey, error)
}

type PrimaryKey struct {
	KeyID       string
	Fingerprint string
	Algorithm   Algorithm
	KeySize     int
	Creation    time.Time
	Expiration  *time.Time
	Revoked     bool
}

// Identity is a user ID bound to a primary key. Name, Email and Comment are
// parsed from the conventional "Name (Comment) <email>" form and may be empty.
type Identity struct {
	UID     string
	Name    string
	Email   string
	Comment string
	Revoked bool
}

type Subkey struct {
	KeyID       string
	Fingerprint string
	Algorithm   Algorithm
	KeySize     int
	UsageFlags  string
	Creation    time.Time
	Expiration  *time.Time
	Revoked     bool
}

// Expired reports whether an expiration time has passed at now.
func Expired(expiration *time.Time, now time.Time) bool {
	return expiration != nil && now.After(*expiration)
}
