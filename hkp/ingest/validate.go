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

package ingest

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"hkps/hkp/hkperrors"
	"hkps/openpgp"
)

var (
	keyIDPattern       = regexp.MustCompile(`^[0-9A-F]{16}$`)
	fingerprintPattern = regexp.MustCompile(`^[0-9A-F]{40}$`)
)

// MinKeySize is the smallest RSA or DSA key accepted.
const MinKeySize = 512

// keyMetadata is the validated view of a primary key.
type keyMetadata struct {
	KeyID       string    `validate:"keyid"`
	Fingerprint string    `validate:"fingerprint"`
	Algorithm   string    `validate:"primaryalgo"`
	KeySize     int       `validate:"gt=0"`
	Creation    time.Time `validate:"required"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("keyid", func(fl validator.FieldLevel) bool {
		return keyIDPattern.MatchString(fl.Field().String())
	})
	v.RegisterValidation("fingerprint", func(fl validator.FieldLevel) bool {
		return fingerprintPattern.MatchString(fl.Field().String())
	})
	v.RegisterValidation("primaryalgo", func(fl validator.FieldLevel) bool {
		for _, algo := range openpgp.PrimaryAlgorithms {
			if string(algo) == fl.Field().String() {
				return true
			}
		}
		return false
	})
	v.RegisterStructValidation(validateKeyMetadata, keyMetadata{})
	return v
}

func validateKeyMetadata(sl validator.StructLevel) {
	md := sl.Current().Interface().(keyMetadata)
	algo := openpgp.Algorithm(md.Algorithm)
	if (algo == openpgp.RSA || algo == openpgp.DSA) && md.KeySize > 0 && md.KeySize < MinKeySize {
		sl.ReportError(md.KeySize, "KeySize", "KeySize", "minsize", fmt.Sprint(MinKeySize))
	}
	if md.KeyID != "" && !strings.HasSuffix(md.Fingerprint, md.KeyID) {
		sl.ReportError(md.Fingerprint, "Fingerprint", "Fingerprint", "endswithkeyid", "")
	}
}

func validate(v *validator.Validate, pk *openpgp.PrimaryKey) error {
	md := keyMetadata{
		KeyID:       pk.KeyID,
		Fingerprint: pk.Fingerprint,
		Algorithm:   string(pk.Algorithm),
		KeySize:     pk.KeySize,
		Creation:    pk.Creation,
	}
	err := v.Struct(md)
	if err == nil {
		return nil
	}
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	verr := &hkperrors.ValidationError{}
	for _, fe := range fieldErrs {
		verr.Problems = append(verr.Problems, problem(fe, md))
	}
	return verr
}

func problem(fe validator.FieldError, md keyMetadata) string {
	switch fe.Tag() {
	case "keyid":
		return fmt.Sprintf("invalid key ID %q", md.KeyID)
	case "fingerprint":
		return fmt.Sprintf("invalid fingerprint %q", md.Fingerprint)
	case "primaryalgo":
		return fmt.Sprintf("unsupported algorithm %q", md.Algorithm)
	case "gt":
		return fmt.Sprintf("invalid key size %d", md.KeySize)
	case "minsize":
		return fmt.Sprintf("%s key size %d is below the minimum of %s bits", md.Algorithm, md.KeySize, fe.Param())
	case "required":
		return "missing creation date"
	case "endswithkeyid":
		return "fingerprint does not end with key ID"
	}
	return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
}
