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

package sqlhkp

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"hkps/hkp/query"
	hkpstorage "hkps/hkp/storage"
)

const keySelect = `SELECT k.id, k.keyid, k.fingerprint, k.algorithm, k.keysize,
k.creation_date, k.expiration_date, k.revoked, k.expired, k.keydata, k.upload_date
FROM pgp_keys k`

const userIDSelect = `SELECT id, key_id, uid_string, name, email, comment, verified, revoked
FROM key_user_ids`

const subkeySelect = `SELECT id, primary_key_id, keyid, fingerprint, algorithm, keysize, usage_flags,
creation_date, expiration_date, revoked, expired
FROM pgp_subkeys`

func (st *storage) FindByKeyIDOrFingerprint(ctx context.Context, term string) (*hkpstorage.Key, error) {
	var key hkpstorage.Key
	err := st.db.GetContext(ctx, &key,
		st.db.Rebind(keySelect+" WHERE k.keyid = ? OR k.fingerprint = ?"), term, term)
	if isNoRows(err) {
		return nil, errors.WithStack(hkpstorage.ErrKeyNotFound)
	} else if err != nil {
		return nil, errors.Wrapf(err, "cannot find key %q", term)
	}
	keys := []*hkpstorage.Key{&key}
	err = st.loadChildren(ctx, keys)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &key, nil
}

func (st *storage) Search(ctx context.Context, q *query.Query, page hkpstorage.Page, order hkpstorage.Order) ([]*hkpstorage.Key, int, error) {
	err := page.Validate()
	if err != nil {
		return nil, 0, err
	}
	if q == nil {
		q = &query.Query{}
	}
	where, err := compile(q)
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}
	orderSQL, err := orderBy(order)
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}

	var total int
	err = st.db.GetContext(ctx, &total,
		st.db.Rebind("SELECT COUNT(*) FROM pgp_keys k WHERE "+where.sql), where.args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "cannot count keys")
	}

	var keys []*hkpstorage.Key
	args := append(append([]interface{}{}, where.args...), page.Limit, page.Offset)
	err = st.db.SelectContext(ctx, &keys,
		st.db.Rebind(keySelect+" WHERE "+where.sql+" ORDER BY "+orderSQL+" LIMIT ? OFFSET ?"), args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "cannot search keys")
	}
	err = st.loadChildren(ctx, keys)
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}
	return keys, total, nil
}

// loadChildren attaches identities and subkeys to keys.
func (st *storage) loadChildren(ctx context.Context, keys []*hkpstorage.Key) error {
	if len(keys) == 0 {
		return nil
	}
	byID := make(map[string]*hkpstorage.Key, len(keys))
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		byID[key.ID] = key
		ids = append(ids, key.ID)
	}

	sqlStr, args, err := sqlx.In(userIDSelect+" WHERE key_id IN (?) ORDER BY uid_string, id", ids)
	if err != nil {
		return errors.WithStack(err)
	}
	var uids []*hkpstorage.UserID
	err = st.db.SelectContext(ctx, &uids, st.db.Rebind(sqlStr), args...)
	if err != nil {
		return errors.Wrap(err, "cannot load user IDs")
	}
	for _, uid := range uids {
		if key, ok := byID[uid.KeyID]; ok {
			key.UserIDs = append(key.UserIDs, uid)
		}
	}

	sqlStr, args, err = sqlx.In(subkeySelect+" WHERE primary_key_id IN (?) ORDER BY creation_date, id", ids)
	if err != nil {
		return errors.WithStack(err)
	}
	var subkeys []*hkpstorage.Subkey
	err = st.db.SelectContext(ctx, &subkeys, st.db.Rebind(sqlStr), args...)
	if err != nil {
		return errors.Wrap(err, "cannot load subkeys")
	}
	for _, subkey := range subkeys {
		if key, ok := byID[subkey.PrimaryKeyID]; ok {
			key.Subkeys = append(key.Subkeys, subkey)
		}
	}
	return nil
}

const insertKeySQL = `INSERT INTO pgp_keys (id, keyid, fingerprint, algorithm, keysize,
creation_date, expiration_date, revoked, expired, keydata, upload_date)
VALUES (:id, :keyid, :fingerprint, :algorithm, :keysize,
:creation_date, :expiration_date, :revoked, :expired, :keydata, :upload_date)`

const insertUserIDSQL = `INSERT INTO key_user_ids (id, key_id, uid_string, name, email, comment, verified, revoked)
VALUES (:id, :key_id, :uid_string, :name, :email, :comment, :verified, :revoked)`

const insertSubkeySQL = `INSERT INTO pgp_subkeys (id, primary_key_id, keyid, fingerprint, algorithm, keysize,
usage_flags, creation_date, expiration_date, revoked, expired)
VALUES (:id, :primary_key_id, :keyid, :fingerprint, :algorithm, :keysize,
:usage_flags, :creation_date, :expiration_date, :revoked, :expired)`

// Persist assigns record IDs where missing, links uids and subkeys to key,
// and stores all of them in one transaction.
func (st *storage) Persist(ctx context.Context, key *hkpstorage.Key, uids []*hkpstorage.UserID, subkeys []*hkpstorage.Subkey) error {
	if key.ID == "" {
		key.ID = uuid.NewString()
	}
	key.CreationDate = timestamp(key.CreationDate)
	key.ExpirationDate = timestampPtr(key.ExpirationDate)
	key.UploadDate = timestamp(key.UploadDate)
	for _, uid := range uids {
		if uid.ID == "" {
			uid.ID = uuid.NewString()
		}
		uid.KeyID = key.ID
	}
	for _, subkey := range subkeys {
		if subkey.ID == "" {
			subkey.ID = uuid.NewString()
		}
		subkey.PrimaryKeyID = key.ID
		subkey.CreationDate = timestamp(subkey.CreationDate)
		subkey.ExpirationDate = timestampPtr(subkey.ExpirationDate)
	}

	err := st.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, insertKeySQL, key)
		if err != nil {
			return errors.Wrapf(err, "cannot insert key %q", key.KeyID)
		}
		for _, uid := range uids {
			_, err = tx.NamedExecContext(ctx, insertUserIDSQL, uid)
			if err != nil {
				return errors.Wrapf(err, "cannot insert user ID %q", uid.UID)
			}
		}
		for _, subkey := range subkeys {
			_, err = tx.NamedExecContext(ctx, insertSubkeySQL, subkey)
			if err != nil {
				return errors.Wrapf(err, "cannot insert subkey %q", subkey.KeyID)
			}
		}
		return nil
	})
	if isUniqueViolation(err) {
		return errors.Wrapf(hkpstorage.ErrKeyExists, "key %q", key.KeyID)
	}
	if err != nil {
		return err
	}
	key.UserIDs = uids
	key.Subkeys = subkeys
	return nil
}

func (st *storage) DeleteCascade(ctx context.Context, id string) error {
	return st.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, sqlStr := range []string{
			"DELETE FROM key_user_ids WHERE key_id = ?",
			"DELETE FROM pgp_subkeys WHERE primary_key_id = ?",
			"DELETE FROM key_stats WHERE key_id = ?",
		} {
			_, err := tx.ExecContext(ctx, tx.Rebind(sqlStr), id)
			if err != nil {
				return errors.Wrapf(err, "cannot delete from key %q", id)
			}
		}
		result, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM pgp_keys WHERE id = ?"), id)
		if err != nil {
			return errors.Wrapf(err, "cannot delete key %q", id)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return errors.WithStack(err)
		}
		if n == 0 {
			return errors.WithStack(hkpstorage.ErrKeyNotFound)
		}
		return nil
	})
}
