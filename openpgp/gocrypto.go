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
	"encoding/hex"
	"strings"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/pkg/errors"
)

// DefaultMaxKeyLength bounds the armored text accepted by ParseArmored.
const DefaultMaxKeyLength = 1048576

// GoCrypto is an Engine backed by github.com/ProtonMail/go-crypto.
type GoCrypto struct {
	now          func() time.Time
	maxKeyLength int
}

var _ Engine = (*GoCrypto)(nil)

type GoCryptoOption func(*GoCrypto)

// Clock sets the time source used for revocation checks.
func Clock(now func() time.Time) GoCryptoOption {
	return func(g *GoCrypto) { g.now = now }
}

// MaxKeyLength rejects armored text longer than n bytes. Zero disables the limit.
func MaxKeyLength(n int) GoCryptoOption {
	return func(g *GoCrypto) { g.maxKeyLength = n }
}

func NewGoCrypto(options ...GoCryptoOption) *GoCrypto {
	g := &GoCrypto{
		now:          time.Now,
		maxKeyLength: DefaultMaxKeyLength,
	}
	for _, option := range options {
		option(g)
	}
	return g
}

type entity struct {
	*openpgp.Entity
	armored string
}

func (e *entity) Armored() string { return e.armored }

func (g *GoCrypto) entity(key ParsedKey) (*entity, error) {
	e, ok := key.(*entity)
	if !ok || e.Entity == nil {
		return nil, errors.Errorf("unsupported key handle %T", key)
	}
	return e, nil
}

func (g *GoCrypto) ParseArmored(keytext string) (ParsedKey, error) {
	if g.maxKeyLength > 0 && len(keytext) > g.maxKeyLength {
		return nil, errors.Errorf("key material exceeds %d bytes", g.maxKeyLength)
	}
	block, err := armor.Decode(strings.NewReader(keytext))
	if err != nil {
		return nil, errors.Wrap(err, "invalid PGP key format")
	}
	if block.Type != openpgp.PublicKeyType {
		return nil, errors.Errorf("invalid PGP key format: unexpected armor type %q", block.Type)
	}
	el, err := openpgp.ReadKeyRing(block.Body)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	switch len(el) {
	case 0:
		return nil, errors.New("no public key found")
	case 1:
	default:
		return nil, errors.Errorf("expected a single public key, found %d", len(el))
	}
	if el[0].PrivateKey != nil {
		return nil, errors.New("private key material is not accepted")
	}
	return &entity{Entity: el[0], armored: keytext}, nil
}

func (g *GoCrypto) PrimaryKeyMetadata(key ParsedKey) (*PrimaryKey, error) {
	e, err := g.entity(key)
	if err != nil {
		return nil, err
	}
	pk := e.PrimaryKey
	size, err := keySize(pk)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	md := &PrimaryKey{
		KeyID:       pk.KeyIdString(),
		Fingerprint: fingerprint(pk),
		Algorithm:   algorithmOf(pk.PubKeyAlgo),
		KeySize:     size,
		Creation:    pk.CreationTime.UTC(),
		Revoked:     e.Revoked(g.now()),
	}
	if sig, _ := e.PrimarySelfSignature(); sig != nil {
		md.Expiration = expiration(pk, sig)
	}
	return md, nil
}

func (g *GoCrypto) ListIdentities(key ParsedKey) ([]*Identity, error) {
	e, err := g.entity(key)
	if err != nil {
		return nil, err
	}
	now := g.now()
	var result []*Identity
	for _, ident := range e.Identities {
		id := &Identity{
			UID:     ident.Name,
			Revoked: ident.Revoked(now),
		}
		if ident.UserId != nil && (ident.UserId.Name != "" || ident.UserId.Email != "") {
			id.Name = ident.UserId.Name
			id.Comment = ident.UserId.Comment
			id.Email = strings.ToLower(ident.UserId.Email)
		} else {
			id.Name, id.Comment, id.Email = ParseUserID(ident.Name)
		}
		result = append(result, id)
	}
	// Identities is a map; keep the output stable.
	sortIdentities(result)
	return result, nil
}

func (g *GoCrypto) ListSubkeys(key ParsedKey) ([]*Subkey, error) {
	e, err := g.entity(key)
	if err != nil {
		return nil, err
	}
	now := g.now()
	var result []*Subkey
	for i := range e.Subkeys {
		sk := &e.Subkeys[i]
		size, err := keySize(sk.PublicKey)
		if err != nil {
			return nil, errors.Wrapf(err, "subkey %s", sk.PublicKey.KeyIdString())
		}
		sub := &Subkey{
			KeyID:       sk.PublicKey.KeyIdString(),
			Fingerprint: fingerprint(sk.PublicKey),
			Algorithm:   algorithmOf(sk.PublicKey.PubKeyAlgo),
			KeySize:     size,
			UsageFlags:  usageFlags(sk.Sig),
			Creation:    sk.PublicKey.CreationTime.UTC(),
			Revoked:     sk.Revoked(now),
		}
		if sk.Sig != nil {
			sub.Expiration = expiration(sk.PublicKey, sk.Sig)
		}
		result = append(result, sub)
	}
	return result, nil
}

func fingerprint(pk *packet.PublicKey) string {
	return strings.ToUpper(hex.EncodeToString(pk.Fingerprint))
}

func keySize(pk *packet.PublicKey) (int, error) {
	if algorithmOf(pk.PubKeyAlgo).Elliptic() {
		curve, err := pk.Curve()
		if err != nil {
			return 0, err
		}
		if bits, ok := curveBits[curve]; ok {
			return bits, nil
		}
	}
	bits, err := pk.BitLength()
	if err != nil {
		return 0, err
	}
	return int(bits), nil
}

func expiration(pk *packet.PublicKey, sig *packet.Signature) *time.Time {
	if sig.KeyLifetimeSecs == nil || *sig.KeyLifetimeSecs == 0 {
		return nil
	}
	t := pk.CreationTime.Add(time.Duration(*sig.KeyLifetimeSecs) * time.Second).UTC()
	return &t
}

// usageFlags renders key flags as a subset of "ESCA", in that order.
// Subkeys without a key flags subpacket are assumed to be for encryption.
func usageFlags(sig *packet.Signature) string {
	if sig == nil || !sig.FlagsValid {
		return "E"
	}
	var flags []byte
	if sig.FlagEncryptCommunications || sig.FlagEncryptStorage {
		flags = append(flags, 'E')
	}
	if sig.FlagSign {
		flags = append(flags, 'S')
	}
	if sig.FlagCertify {
		flags = append(flags, 'C')
	}
	if sig.FlagAuthenticate {
		flags = append(flags, 'A')
	}
	return string(flags)
}
