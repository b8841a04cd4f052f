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

// Package admin authorizes and performs administrative key deletion.
package admin

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"hkps/hkp/hkperrors"
	"hkps/hkp/storage"
)

// Principal is the verified holder of a bearer token.
type Principal struct {
	Subject string
	Admin   bool
}

// Verifier checks a bearer token.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Principal, error)
}

// Verifiers tries each verifier in turn; the first to accept the token
// wins.
type Verifiers []Verifier

func (vs Verifiers) Verify(ctx context.Context, token string) (*Principal, error) {
	if len(vs) == 0 {
		return nil, errors.New("no token verifiers configured")
	}
	var lastErr error
	for _, v := range vs {
		p, err := v.Verify(ctx, token)
		if err == nil {
			return p, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// Gate deletes keys on behalf of administrators.
type Gate struct {
	verifier Verifier
	storage  storage.Storage
}

func NewGate(v Verifier, st storage.Storage) *Gate {
	return &Gate{verifier: v, storage: st}
}

// Delete removes the key matching keyid, which may be a key ID or
// fingerprint in either letter case, together with its identities, subkeys
// and usage counters. The token must carry the admin claim.
func (g *Gate) Delete(ctx context.Context, keyid, token string) error {
	keyid = strings.ToUpper(strings.TrimSpace(keyid))
	keyid = strings.TrimPrefix(keyid, "0X")

	if token == "" {
		return hkperrors.ErrUnauthorized
	}
	principal, err := g.verifier.Verify(ctx, token)
	if err != nil {
		log.Debugf("rejected admin token: %v", err)
		return hkperrors.ErrUnauthorized
	}
	if !principal.Admin {
		log.WithFields(log.Fields{
			"subject": principal.Subject,
			"keyid":   keyid,
		}).Warning("delete attempted without admin claim")
		return hkperrors.ErrUnauthorized
	}

	key, err := g.storage.FindByKeyIDOrFingerprint(ctx, keyid)
	if storage.IsNotFound(err) {
		return hkperrors.ErrNotFound
	} else if err != nil {
		return errors.WithStack(err)
	}
	_, err = storage.DeleteKey(ctx, g.storage, key)
	if storage.IsNotFound(err) {
		return hkperrors.ErrNotFound
	} else if err != nil {
		return errors.WithStack(err)
	}
	log.WithFields(log.Fields{
		"subject":     principal.Subject,
		"keyid":       key.KeyID,
		"fingerprint": key.Fingerprint,
	}).Info("key deleted")
	return nil
}
