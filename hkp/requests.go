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

package hkp

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"

	"hkps/hkp/format"
	"hkps/hkp/query"
	"hkps/hkp/storage"
	"hkps/openpgp"
)

// Operation enumerates the supported HKP operations (op parameter) in the request.
type Operation string

const (
	OperationGet    = Operation("get")
	OperationIndex  = Operation("index")
	OperationVIndex = Operation("vindex")
	OperationStats  = Operation("stats")
)

func ParseOperation(s string) (Operation, bool) {
	if s == "" {
		return OperationIndex, true
	}
	op := Operation(s)
	switch op {
	case OperationGet, OperationIndex, OperationVIndex, OperationStats:
		return op, true
	}
	return Operation(""), false
}

// Option defines modifiers available to some HKP requests.
type Option string

const (
	OptionMachineReadable = Option("mr")
)

type OptionSet map[Option]bool

func ParseOptionSet(s string) OptionSet {
	result := OptionSet{}
	fields := strings.Split(s, ",")
	for _, field := range fields {
		if field != "" {
			result[Option(field)] = true
		}
	}
	return result
}

// ParseBool accepts on/off, true/false and 1/0. An empty value is false.
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "", "off", "false", "0":
		return false, nil
	case "on", "true", "1":
		return true, nil
	}
	return false, errors.Errorf("invalid boolean %q", s)
}

// ParseDate accepts an RFC 3339 timestamp or a YYYY-MM-DD day.
func ParseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		t, err := time.Parse(layout, s)
		if err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, errors.Errorf("invalid date %q", s)
}

type params struct {
	req *http.Request
	err error
}

func (p *params) bool(name string) bool {
	v, err := ParseBool(p.req.Form.Get(name))
	if err != nil && p.err == nil {
		p.err = errors.Wrapf(err, "invalid parameter %s", name)
	}
	return v
}

func (p *params) date(name string) *time.Time {
	v, err := ParseDate(p.req.Form.Get(name))
	if err != nil && p.err == nil {
		p.err = errors.Wrapf(err, "invalid parameter %s", name)
	}
	return v
}

func (p *params) int(name string, def int) int {
	s := p.req.Form.Get(name)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil && p.err == nil {
		p.err = errors.Errorf("invalid parameter %s: %q is not an integer", name, s)
	}
	return v
}

// machineReadable reports whether mr output was requested, either as a
// boolean parameter or through the legacy options=mr.
func (p *params) machineReadable() bool {
	return p.bool("mr") || ParseOptionSet(p.req.Form.Get("options"))[OptionMachineReadable]
}

// Lookup contains all the parameters and options for a /pks/lookup request.
type Lookup struct {
	Op          Operation
	Search      string
	Fingerprint bool
	MR          bool
	Filters     query.Filters
	Page        storage.Page
}

// FormatOp returns the formatter operation for a key lookup.
func (l *Lookup) FormatOp() format.Op {
	return format.Op(l.Op)
}

func ParseLookup(req *http.Request) (*Lookup, error) {
	err := req.ParseForm()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	var l Lookup
	var ok bool
	l.Op, ok = ParseOperation(req.Form.Get("op"))
	if !ok {
		return nil, errors.Errorf("invalid operation %q", req.Form.Get("op"))
	}

	p := &params{req: req}
	l.MR = p.machineReadable()
	if l.Op == OperationStats {
		return &l, p.err
	}

	l.Search = strings.TrimSpace(req.Form.Get("search"))
	if l.Search == "" {
		return nil, errors.Errorf("missing required parameter: search")
	}
	// HKP clients prefix hex key identifiers with 0x.
	if len(l.Search) > 2 && strings.EqualFold(l.Search[:2], "0x") {
		switch query.Normalize(l.Search[2:]).Kind {
		case query.KindKeyID, query.KindFingerprint:
			l.Search = l.Search[2:]
		}
	}
	l.Fingerprint = p.bool("fingerprint")

	f := &l.Filters
	f.Exact = p.bool("exact")
	f.IncludeRevoked = p.bool("include_revoked")
	f.IncludeExpired = p.bool("include_expired")
	f.CreatedAfter = p.date("created_after")
	f.CreatedBefore = p.date("created_before")
	f.ExpiresAfter = p.date("expires_after")
	f.ExpiresBefore = p.date("expires_before")
	f.MinKeySize = p.int("min_keysize", 0)
	l.Page.Limit = p.int("limit", storage.DefaultLimit)
	l.Page.Offset = p.int("offset", 0)
	if p.err != nil {
		return nil, p.err
	}

	if algo := req.Form.Get("algorithm"); algo != "" {
		f.Algorithm, ok = openpgp.ParseAlgorithm(algo)
		if !ok {
			return nil, errors.Errorf("invalid parameter algorithm: unsupported algorithm %q", algo)
		}
	}
	if _, set := req.Form["min_keysize"]; set && f.MinKeySize < minKeySize {
		return nil, errors.Errorf("invalid parameter min_keysize: must be at least %d", minKeySize)
	}
	err = l.Page.Validate()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &l, nil
}

const minKeySize = 512

// Add represents a valid /pks/add request content, parameters and options.
type Add struct {
	Keytext string
	MR      bool
}

func ParseAdd(req *http.Request) (*Add, error) {
	if req.Method != "POST" {
		return nil, errors.Errorf("invalid HTTP method: %s", req.Method)
	}

	var add Add
	err := req.ParseForm()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	p := &params{req: req}
	add.MR = p.machineReadable()
	if p.err != nil {
		return nil, p.err
	}
	add.Keytext = req.Form.Get("keytext")
	if add.Keytext == "" {
		return nil, errors.Errorf("missing required parameter: keytext")
	}
	return &add, nil
}

// Delete represents a /pks/delete request. The key is named by the path or
// the keyid form field; the token comes from a bearer Authorization header
// or the token form field.
type Delete struct {
	KeyID string
	Token string
}

func ParseDelete(req *http.Request, ps httprouter.Params) (*Delete, error) {
	err := req.ParseForm()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	var del Delete
	del.KeyID = ps.ByName("keyid")
	if del.KeyID == "" {
		del.KeyID = req.Form.Get("keyid")
	}
	if del.KeyID == "" {
		return nil, errors.Errorf("missing required parameter: keyid")
	}

	auth := req.Header.Get("Authorization")
	if len(auth) > len("bearer ") && strings.EqualFold(auth[:len("bearer ")], "bearer ") {
		del.Token = strings.TrimSpace(auth[len("bearer "):])
	} else {
		del.Token = req.Form.Get("token")
	}
	return &del, nil
}

// Stats represents a /pks/stats request.
type Stats struct {
	MR bool
}

func ParseStats(req *http.Request) (*Stats, error) {
	err := req.ParseForm()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	p := &params{req: req}
	st := &Stats{MR: p.machineReadable()}
	return st, p.err
}
