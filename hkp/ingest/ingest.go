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

// Package ingest runs uploaded key material through parsing, validation,
// duplicate detection and storage.
package ingest

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"hkps/hkp/hkperrors"
	"hkps/hkp/storage"
	"hkps/openpgp"
)

const addedMessage = "Key added successfully"

type Result struct {
	KeyID   string
	Message string
}

type Pipeline struct {
	engine   openpgp.Engine
	storage  storage.Storage
	now      func() time.Time
	validate *validator.Validate
}

type Option func(*Pipeline)

// Clock sets the time source used to derive expiry and upload dates.
func Clock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func New(engine openpgp.Engine, st storage.Storage, options ...Option) *Pipeline {
	p := &Pipeline{
		engine:   engine,
		storage:  st,
		now:      time.Now,
		validate: newValidator(),
	}
	for _, option := range options {
		option(p)
	}
	return p
}

// Add ingests one armored public key. Failures are reported as
// InvalidKeyError, ValidationError or DuplicateKeyError; anything else is
// logged and reported as hkperrors.ErrInternal.
func (p *Pipeline) Add(ctx context.Context, keytext string) (*Result, error) {
	result, err := p.add(ctx, keytext)
	if err != nil {
		if hkperrors.IsInvalidKey(err) || hkperrors.IsValidation(err) || hkperrors.IsDuplicate(err) {
			return nil, err
		}
		log.WithFields(log.Fields{
			"op": "add",
		}).Errorf("%+v", err)
		return nil, hkperrors.ErrInternal
	}
	return result, nil
}

func (p *Pipeline) add(ctx context.Context, keytext string) (*Result, error) {
	parsed, err := p.engine.ParseArmored(keytext)
	if err != nil {
		return nil, &hkperrors.InvalidKeyError{Message: err.Error()}
	}

	md, err := p.engine.PrimaryKeyMetadata(parsed)
	if err != nil {
		return nil, &hkperrors.InvalidKeyError{Message: err.Error()}
	}
	err = validate(p.validate, md)
	if err != nil {
		return nil, err
	}

	for _, term := range []string{md.KeyID, md.Fingerprint} {
		existing, err := p.storage.FindByKeyIDOrFingerprint(ctx, term)
		if err == nil {
			return nil, &hkperrors.DuplicateKeyError{KeyID: existing.KeyID}
		} else if !storage.IsNotFound(err) {
			return nil, errors.WithStack(err)
		}
	}

	idents, err := p.engine.ListIdentities(parsed)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	subs, err := p.engine.ListSubkeys(parsed)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	now := p.now().UTC()
	key := &storage.Key{
		KeyID:          md.KeyID,
		Fingerprint:    md.Fingerprint,
		Algorithm:      md.Algorithm,
		KeySize:        md.KeySize,
		CreationDate:   md.Creation.UTC(),
		ExpirationDate: md.Expiration,
		Revoked:        md.Revoked,
		Expired:        openpgp.Expired(md.Expiration, now),
		KeyData:        parsed.Armored(),
		UploadDate:     now,
	}
	var uids []*storage.UserID
	for _, ident := range idents {
		uids = append(uids, &storage.UserID{
			UID:     ident.UID,
			Name:    ident.Name,
			Email:   ident.Email,
			Comment: ident.Comment,
			Revoked: ident.Revoked,
		})
	}
	var subkeys []*storage.Subkey
	for _, sub := range subs {
		subkeys = append(subkeys, &storage.Subkey{
			KeyID:          sub.KeyID,
			Fingerprint:    sub.Fingerprint,
			Algorithm:      sub.Algorithm,
			KeySize:        sub.KeySize,
			UsageFlags:     sub.UsageFlags,
			CreationDate:   sub.Creation.UTC(),
			ExpirationDate: sub.Expiration,
			Revoked:        sub.Revoked,
			Expired:        openpgp.Expired(sub.Expiration, now),
		})
	}

	_, err = storage.InsertKey(ctx, p.storage, key, uids, subkeys)
	if storage.IsExists(err) {
		// Lost a race with a concurrent upload of the same key.
		return nil, &hkperrors.DuplicateKeyError{KeyID: key.KeyID}
	} else if err != nil {
		return nil, errors.WithStack(err)
	}

	log.WithFields(log.Fields{
		"keyid":       key.KeyID,
		"fingerprint": key.Fingerprint,
	}).Info("key added")
	return &Result{KeyID: key.KeyID, Message: addedMessage}, nil
}
