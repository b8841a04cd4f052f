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

// Package hkperrors classifies the failures an HKP request can end in.
package hkperrors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("key not found")
	ErrInternal     = errors.New("internal server error")
)

// InvalidKeyError reports key material that could not be parsed.
type InvalidKeyError struct {
	Message string
}

func (e *InvalidKeyError) Error() string {
	return e.Message
}

// ValidationError lists every rule a key's metadata violates.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("key validation failed: %s", strings.Join(e.Problems, "; "))
}

// DuplicateKeyError reports a key that is already stored.
type DuplicateKeyError struct {
	KeyID string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("key %s already exists", e.KeyID)
}

func IsInvalidKey(err error) bool {
	var target *InvalidKeyError
	return errors.As(err, &target)
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsDuplicate(err error) bool {
	var target *DuplicateKeyError
	return errors.As(err, &target)
}

func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
