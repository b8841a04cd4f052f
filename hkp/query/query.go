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

// Package query classifies search terms and turns them, along with lookup
// filters, into a storage-neutral list of typed predicates.
package query

import (
	"strings"
	"time"

	"hkps/openpgp"
)

type Kind string

const (
	KindEmail       = Kind("email")
	KindKeyID       = Kind("keyid")
	KindFingerprint = Kind("fingerprint")
	KindName        = Kind("name")
)

type Term struct {
	Kind  Kind
	Value string
}

// Normalize classifies a raw search term. It never fails; anything that is
// not an email address or a hex key identifier is a name.
func Normalize(raw string) Term {
	s := strings.TrimSpace(raw)
	switch {
	case strings.Contains(s, "@") && strings.Contains(s, "."):
		return Term{Kind: KindEmail, Value: strings.ToLower(s)}
	case (len(s) == 8 || len(s) == 16) && isHex(s):
		return Term{Kind: KindKeyID, Value: strings.ToUpper(s)}
	case len(s) == 40 && isHex(s):
		return Term{Kind: KindFingerprint, Value: strings.ToUpper(s)}
	}
	return Term{Kind: KindName, Value: s}
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

type Field string

const (
	FieldKeyID          = Field("keyid")
	FieldFingerprint    = Field("fingerprint")
	FieldAlgorithm      = Field("algorithm")
	FieldKeySize        = Field("keysize")
	FieldCreationDate   = Field("creation_date")
	FieldExpirationDate = Field("expiration_date")
	FieldRevoked        = Field("revoked")
	FieldExpired        = Field("expired")
	FieldUIDEmail       = Field("uid.email")
	FieldUIDName        = Field("uid.name")
)

// Identity reports whether the field belongs to the identity relation.
func (f Field) Identity() bool {
	return f == FieldUIDEmail || f == FieldUIDName
}

type Op string

const (
	OpEqual        = Op("eq")
	OpContains     = Op("contains")
	OpHasSuffix    = Op("suffix")
	OpGreaterEqual = Op("ge")
	OpLessEqual    = Op("le")
)

type Join string

const JoinUserIDs = Join("user_ids")

// Predicate constrains one field. Value is a string, int, bool or time.Time
// according to the field.
type Predicate struct {
	Field Field
	Op    Op
	Value interface{}
}

type Query struct {
	Predicates []Predicate
	Joins      []Join
}

// Joined reports whether q requires join j.
func (q *Query) Joined(j Join) bool {
	for _, qj := range q.Joins {
		if qj == j {
			return true
		}
	}
	return false
}

// Filters narrow a search beyond its term. Nil pointers and zero values are
// unconstrained.
type Filters struct {
	Algorithm      openpgp.Algorithm
	MinKeySize     int
	CreatedAfter   *time.Time
	CreatedBefore  *time.Time
	ExpiresAfter   *time.Time
	ExpiresBefore  *time.Time
	IncludeRevoked bool
	IncludeExpired bool
	Exact          bool
}

// Build turns a normalized term and filters into a conjunctive query.
func Build(term Term, f Filters) *Query {
	q := &Query{}
	add := func(field Field, op Op, value interface{}) {
		q.Predicates = append(q.Predicates, Predicate{Field: field, Op: op, Value: value})
	}

	if term.Value != "" {
		switch term.Kind {
		case KindEmail, KindName:
			field := FieldUIDName
			if term.Kind == KindEmail {
				field = FieldUIDEmail
			}
			op := OpContains
			if f.Exact {
				op = OpEqual
			}
			q.Joins = append(q.Joins, JoinUserIDs)
			add(field, op, term.Value)
		case KindKeyID:
			add(FieldKeyID, OpHasSuffix, term.Value)
		case KindFingerprint:
			add(FieldFingerprint, OpEqual, term.Value)
		}
	}

	if f.Algorithm != "" {
		add(FieldAlgorithm, OpEqual, string(f.Algorithm))
	}
	if f.MinKeySize > 0 {
		add(FieldKeySize, OpGreaterEqual, f.MinKeySize)
	}
	if f.CreatedAfter != nil {
		add(FieldCreationDate, OpGreaterEqual, f.CreatedAfter.UTC())
	}
	if f.CreatedBefore != nil {
		add(FieldCreationDate, OpLessEqual, f.CreatedBefore.UTC())
	}
	if f.ExpiresAfter != nil {
		add(FieldExpirationDate, OpGreaterEqual, f.ExpiresAfter.UTC())
	}
	if f.ExpiresBefore != nil {
		add(FieldExpirationDate, OpLessEqual, f.ExpiresBefore.UTC())
	}
	if !f.IncludeRevoked {
		add(FieldRevoked, OpEqual, false)
	}
	if !f.IncludeExpired {
		add(FieldExpired, OpEqual, false)
	}
	return q
}
