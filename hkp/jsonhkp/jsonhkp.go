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

// Package jsonhkp defines the JSON documents exchanged with HKP clients.
package jsonhkp

import (
	"time"

	"hkps/hkp/storage"
)

type Key struct {
	KeyID          string    `json:"keyid"`
	Fingerprint    string    `json:"fingerprint,omitempty"`
	Algorithm      string    `json:"algorithm"`
	KeySize        int       `json:"keysize"`
	CreationDate   string    `json:"creation_date"`
	ExpirationDate *string   `json:"expiration_date"`
	Revoked        bool      `json:"revoked"`
	Expired        bool      `json:"expired"`
	UIDs           []string  `json:"uids"`
	Subkeys        []*Subkey `json:"subkeys,omitempty"`
	KeyData        string    `json:"keydata,omitempty"`
}

type Subkey struct {
	KeyID          string  `json:"keyid"`
	Fingerprint    string  `json:"fingerprint,omitempty"`
	Algorithm      string  `json:"algorithm"`
	KeySize        int     `json:"keysize"`
	CreationDate   string  `json:"creation_date"`
	ExpirationDate *string `json:"expiration_date"`
	Revoked        bool    `json:"revoked"`
	Expired        bool    `json:"expired"`
	UsageFlags     string  `json:"usage_flags"`
}

// NewKey summarizes a stored key. The fingerprint is included only when
// withFingerprint is set; subkeys and key data are left to the caller.
func NewKey(from *storage.Key, withFingerprint bool) *Key {
	to := &Key{
		KeyID:          from.KeyID,
		Algorithm:      string(from.Algorithm),
		KeySize:        from.KeySize,
		CreationDate:   formatTime(from.CreationDate),
		ExpirationDate: formatTimePtr(from.ExpirationDate),
		Revoked:        from.Revoked,
		Expired:        from.Expired,
		UIDs:           []string{},
	}
	if withFingerprint {
		to.Fingerprint = from.Fingerprint
	}
	for _, uid := range from.UserIDs {
		to.UIDs = append(to.UIDs, uid.UID)
	}
	return to
}

func NewSubkey(from *storage.Subkey, withFingerprint bool) *Subkey {
	to := &Subkey{
		KeyID:          from.KeyID,
		Algorithm:      string(from.Algorithm),
		KeySize:        from.KeySize,
		CreationDate:   formatTime(from.CreationDate),
		ExpirationDate: formatTimePtr(from.ExpirationDate),
		Revoked:        from.Revoked,
		Expired:        from.Expired,
		UsageFlags:     from.UsageFlags,
	}
	if withFingerprint {
		to.Fingerprint = from.Fingerprint
	}
	return to
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

type LookupResult struct {
	Keys   []*Key `json:"keys"`
	Total  int    `json:"total"`
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
}

// Result reports the outcome of an add or delete, or any failed request.
type Result struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	KeyID   string   `json:"keyid,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

// Usage reports per-key counter sums.
type Usage struct {
	KeyID       string `json:"keyid"`
	Fingerprint string `json:"fingerprint"`
	Days        int    `json:"days"`
	Lookups     int    `json:"lookups"`
	Downloads   int    `json:"downloads"`
}
