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

// Package format renders key search results as JSON documents or in the
// HKP machine-readable text grammar.
package format

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"hkps/hkp/jsonhkp"
	"hkps/hkp/storage"
)

type Op string

const (
	OpGet    = Op("get")
	OpIndex  = Op("index")
	OpVIndex = Op("vindex")
)

const (
	ContentTypeJSON    = "application/json"
	ContentTypeText    = "text/plain; charset=utf-8"
	ContentTypePGPKeys = "application/pgp-keys"
)

// ErrNoKeys is returned when a machine-readable get has nothing to return.
var ErrNoKeys = errors.New("no keys to render")

type Request struct {
	Op Op
	// MR selects the machine-readable grammar.
	MR bool
	// Fingerprint includes full fingerprints in JSON output.
	Fingerprint bool

	Total  int
	Offset int
	Limit  int
}

type Output struct {
	ContentType string
	Body        []byte
}

// Render formats keys for req. It does no I/O.
func Render(keys []*storage.Key, req Request) (*Output, error) {
	switch req.Op {
	case OpGet, OpIndex, OpVIndex:
	default:
		return nil, errors.Errorf("unsupported op %q", req.Op)
	}
	if req.MR {
		if req.Op == OpGet {
			if len(keys) == 0 {
				return nil, ErrNoKeys
			}
			return &Output{ContentType: ContentTypePGPKeys, Body: []byte(keys[0].KeyData)}, nil
		}
		return &Output{ContentType: ContentTypeText, Body: machineReadable(keys, req.Op == OpVIndex)}, nil
	}
	body, err := json.Marshal(structured(keys, req))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &Output{ContentType: ContentTypeJSON, Body: body}, nil
}

func structured(keys []*storage.Key, req Request) *jsonhkp.LookupResult {
	result := &jsonhkp.LookupResult{
		Keys:   []*jsonhkp.Key{},
		Total:  req.Total,
		Offset: req.Offset,
		Limit:  req.Limit,
	}
	for i, key := range keys {
		doc := jsonhkp.NewKey(key, req.Fingerprint)
		if req.Op == OpVIndex {
			doc.Subkeys = []*jsonhkp.Subkey{}
			for _, subkey := range key.Subkeys {
				doc.Subkeys = append(doc.Subkeys, jsonhkp.NewSubkey(subkey, req.Fingerprint))
			}
		}
		if req.Op == OpGet && i == 0 {
			doc.KeyData = key.KeyData
		}
		result.Keys = append(result.Keys, doc)
	}
	return result
}

const crlf = "\r\n"

func machineReadable(keys []*storage.Key, verbose bool) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "info:1:%d%s", len(keys), crlf)
	for _, key := range keys {
		fmt.Fprintf(&buf, "pub:%s:%d:%d:%s:%s:%s%s",
			key.ShortID(), key.Algorithm.Code(), key.KeySize,
			epoch(&key.CreationDate), epoch(key.ExpirationDate),
			flags(key.Revoked, key.Expired), crlf)
		for _, uid := range key.UserIDs {
			// Identities carry no dates of their own.
			fmt.Fprintf(&buf, "uid:%s:%s:%s:%s",
				escape(uid.UID), epoch(&key.CreationDate), epoch(key.ExpirationDate), crlf)
		}
		if !verbose {
			continue
		}
		for _, subkey := range key.Subkeys {
			fmt.Fprintf(&buf, "sub:%s:%d:%d:%s:%s:%s%s",
				subkey.ShortID(), subkey.Algorithm.Code(), subkey.KeySize,
				epoch(&subkey.CreationDate), epoch(subkey.ExpirationDate),
				flags(subkey.Revoked, subkey.Expired), crlf)
		}
	}
	return buf.Bytes()
}

func epoch(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return strconv.FormatInt(t.Unix(), 10)
}

func flags(revoked, expired bool) string {
	var s string
	if revoked {
		s += "r"
	}
	if expired {
		s += "e"
	}
	return s
}

const upperhex = "0123456789ABCDEF"

// escape percent-encodes s as a URI component: every byte except ASCII
// letters, digits and -_.!~*'() is written as %XX.
func escape(s string) string {
	var buf bytes.Buffer
	for i := 0; i < len(s); i++ {
		c := s[i]
		if unreserved(c) {
			buf.WriteByte(c)
			continue
		}
		buf.WriteByte('%')
		buf.WriteByte(upperhex[c>>4])
		buf.WriteByte(upperhex[c&15])
	}
	return buf.String()
}

func unreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}
