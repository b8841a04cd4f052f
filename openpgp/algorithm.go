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

package openpgp

import (
	"fmt"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp/packet"
)

// Algorithm names the public-key algorithm families a key server indexes.
type Algorithm string

const (
	RSA     = Algorithm("RSA")
	DSA     = Algorithm("DSA")
	ECDSA   = Algorithm("ECDSA")
	EdDSA   = Algorithm("EdDSA")
	ElGamal = Algorithm("ElGamal")
	ECDH    = Algorithm("ECDH")
)

// PrimaryAlgorithms are the algorithms accepted on a primary key.
var PrimaryAlgorithms = []Algorithm{RSA, DSA, ECDSA, EdDSA}

// Code returns the RFC 4880 numeric identifier used by the HKP
// machine-readable grammar, or 0 for an unknown algorithm.
func (a Algorithm) Code() int {
	switch a {
	case RSA:
		return int(packet.PubKeyAlgoRSA)
	case ElGamal:
		return int(packet.PubKeyAlgoElGamal)
	case DSA:
		return int(packet.PubKeyAlgoDSA)
	case ECDH:
		return int(packet.PubKeyAlgoECDH)
	case ECDSA:
		return int(packet.PubKeyAlgoECDSA)
	case EdDSA:
		return int(packet.PubKeyAlgoEdDSA)
	}
	return 0
}

// Elliptic reports whether key sizes for a are curve sizes.
func (a Algorithm) Elliptic() bool {
	switch a {
	case ECDSA, EdDSA, ECDH:
		return true
	}
	return false
}

// ParseAlgorithm accepts an algorithm name in any letter case.
func ParseAlgorithm(s string) (Algorithm, bool) {
	for _, a := range []Algorithm{RSA, DSA, ECDSA, EdDSA, ElGamal, ECDH} {
		if strings.EqualFold(string(a), s) {
			return a, true
		}
	}
	return Algorithm(""), false
}

func algorithmOf(algo packet.PublicKeyAlgorithm) Algorithm {
	switch algo {
	case packet.PubKeyAlgoRSA, packet.PubKeyAlgoRSAEncryptOnly, packet.PubKeyAlgoRSASignOnly:
		return RSA
	case packet.PubKeyAlgoElGamal:
		return ElGamal
	case packet.PubKeyAlgoDSA:
		return DSA
	case packet.PubKeyAlgoECDH, packet.PubKeyAlgoX25519, packet.PubKeyAlgoX448:
		return ECDH
	case packet.PubKeyAlgoECDSA:
		return ECDSA
	case packet.PubKeyAlgoEdDSA, packet.PubKeyAlgoEd25519, packet.PubKeyAlgoEd448:
		return EdDSA
	}
	return Algorithm(fmt.Sprintf("unknown(%d)", algo))
}

var curveBits = map[packet.Curve]int{
	packet.Curve25519:         255,
	packet.Curve448:           448,
	packet.CurveNistP256:      256,
	packet.CurveNistP384:      384,
	packet.CurveNistP521:      521,
	packet.CurveSecP256k1:     256,
	packet.CurveBrainpoolP256: 256,
	packet.CurveBrainpoolP384: 384,
	packet.CurveBrainpoolP512: 512,
}
