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

// Package storage defines the key repository contract used by the HKP
// service, along with the records it stores.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"

	"hkps/hkp/query"
	"hkps/openpgp"
)

var (
	ErrKeyNotFound = errors.New("key not found")
	ErrKeyExists   = errors.New("key already exists")
	ErrInvalidPage = errors.New("invalid page")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}

func IsExists(err error) bool {
	return errors.Is(err, ErrKeyExists)
}

// StatsWindow is the trailing and leading period covered by usage sums,
// recent uploads and upcoming expirations.
const StatsWindow = 30 * 24 * time.Hour

// Storage defines the API that is needed to implement a complete storage
// backend for an HKP service.
type Storage interface {
	io.Closer
	Queryer
	Updater
	Counter
	Reporter
	Notifier
}

// Queryer defines the storage API for search and retrieval of public keys.
type Queryer interface {

	// FindByKeyIDOrFingerprint returns the key whose keyid or fingerprint
	// exactly equals term, or ErrKeyNotFound.
	FindByKeyIDOrFingerprint(ctx context.Context, term string) (*Key, error)

	// Search returns one page of keys matching q, with their identities and
	// subkeys, and the total number of matches ignoring pagination.
	Search(ctx context.Context, q *query.Query, page Page, order Order) ([]*Key, int, error)
}

// Updater defines the storage API for writing key material.
type Updater interface {

	// Persist stores a key with its identities and subkeys atomically.
	// Uniqueness violations are reported as ErrKeyExists.
	Persist(ctx context.Context, key *Key, uids []*UserID, subkeys []*Subkey) error

	// DeleteCascade removes a key and everything that refers to it
	// atomically. ErrKeyNotFound is returned when no key has the given ID.
	DeleteCascade(ctx context.Context, id string) error
}

// Counter defines the storage API for usage counters.
type Counter interface {

	// UpsertCounter atomically adds the deltas to the counter row for keyID
	// on day, creating it if necessary. A nil keyID addresses the
	// server-wide row.
	UpsertCounter(ctx context.Context, keyID *string, day time.Time, lookupDelta, downloadDelta int) error
}

// Reporter defines the storage API for aggregate statistics.
type Reporter interface {
	Summary(ctx context.Context, now time.Time) (*Summary, error)

	// KeyUsage sums the counters of one key from since onwards.
	KeyUsage(ctx context.Context, keyID string, since time.Time) (*Usage, error)
}

type Notifier interface {
	// Subscribe registers a key change callback function.
	Subscribe(func(KeyChange) error)

	// Notify invokes all registered callbacks with a key change notification.
	Notify(change KeyChange) error
}

type KeyChange interface {
	InsertKeyIDs() []string
	RemoveKeyIDs() []string
}

type KeyAdded struct {
	KeyID       string
	Fingerprint string
}

func (ka KeyAdded) InsertKeyIDs() []string {
	return []string{ka.KeyID}
}

func (ka KeyAdded) RemoveKeyIDs() []string {
	return nil
}

func (ka KeyAdded) String() string {
	return fmt.Sprintf("key %q added", ka.KeyID)
}

type KeyDeleted struct {
	KeyID string
}

func (kd KeyDeleted) InsertKeyIDs() []string {
	return nil
}

func (kd KeyDeleted) RemoveKeyIDs() []string {
	return []string{kd.KeyID}
}

func (kd KeyDeleted) String() string {
	return fmt.Sprintf("key %q deleted", kd.KeyID)
}

// InsertKey persists a key and notifies subscribers once it is committed.
func InsertKey(ctx context.Context, st Storage, key *Key, uids []*UserID, subkeys []*Subkey) (KeyChange, error) {
	err := st.Persist(ctx, key, uids, subkeys)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	change := KeyAdded{KeyID: key.KeyID, Fingerprint: key.Fingerprint}
	err = st.Notify(change)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return change, nil
}

// DeleteKey removes a key and notifies subscribers once it is committed.
func DeleteKey(ctx context.Context, st Storage, key *Key) (KeyChange, error) {
	err := st.DeleteCascade(ctx, key.ID)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	change := KeyDeleted{KeyID: key.KeyID}
	err = st.Notify(change)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return change, nil
}

// Page selects a window of search results.
type Page struct {
	Limit  int
	Offset int
}

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

var DefaultPage = Page{Limit: DefaultLimit}

func (p Page) Validate() error {
	if p.Limit < 1 || p.Limit > MaxLimit {
		return errors.Wrapf(ErrInvalidPage, "limit %d out of range [1,%d]", p.Limit, MaxLimit)
	}
	if p.Offset < 0 {
		return errors.Wrapf(ErrInvalidPage, "negative offset %d", p.Offset)
	}
	return nil
}

// Order selects the sort order of search results. Ties are always broken by
// key record ID so that pagination is stable.
type Order int

const (
	NewestFirst Order = iota
	OldestFirst
)

type Key struct {
	ID             string            `db:"id"`
	KeyID          string            `db:"keyid"`
	Fingerprint    string            `db:"fingerprint"`
	Algorithm      openpgp.Algorithm `db:"algorithm"`
	KeySize        int               `db:"keysize"`
	CreationDate   time.Time         `db:"creation_date"`
	ExpirationDate *time.Time        `db:"expiration_date"`
	Revoked        bool              `db:"revoked"`
	Expired        bool              `db:"expired"`
	KeyData        string            `db:"keydata"`
	UploadDate     time.Time         `db:"upload_date"`

	UserIDs []*UserID `db:"-"`
	Subkeys []*Subkey `db:"-"`
}

// ShortID is the last eight hex digits of the key ID.
func (k *Key) ShortID() string {
	if len(k.KeyID) < 8 {
		return k.KeyID
	}
	return k.KeyID[len(k.KeyID)-8:]
}

type UserID struct {
	ID       string `db:"id"`
	KeyID    string `db:"key_id"`
	UID      string `db:"uid_string"`
	Name     string `db:"name"`
	Email    string `db:"email"`
	Comment  string `db:"comment"`
	Verified bool   `db:"verified"`
	Revoked  bool   `db:"revoked"`
}

type Subkey struct {
	ID             string            `db:"id"`
	PrimaryKeyID   string            `db:"primary_key_id"`
	KeyID          string            `db:"keyid"`
	Fingerprint    string            `db:"fingerprint"`
	Algorithm      openpgp.Algorithm `db:"algorithm"`
	KeySize        int               `db:"keysize"`
	UsageFlags     string            `db:"usage_flags"`
	CreationDate   time.Time         `db:"creation_date"`
	ExpirationDate *time.Time        `db:"expiration_date"`
	Revoked        bool              `db:"revoked"`
	Expired        bool              `db:"expired"`
}

// ShortID is the last eight hex digits of the subkey ID.
func (k *Subkey) ShortID() string {
	if len(k.KeyID) < 8 {
		return k.KeyID
	}
	return k.KeyID[len(k.KeyID)-8:]
}

// Usage sums counter rows over a period.
type Usage struct {
	Lookups   int `db:"lookups"`
	Downloads int `db:"downloads"`
}

// Summary holds the aggregates behind the statistics report. Keys are
// active, revoked, or expired; a key that is both revoked and expired counts
// as revoked.
type Summary struct {
	Total       int
	ByAlgorithm map[string]int

	Active  int
	Revoked int
	Expired int

	Weak   int
	Medium int
	Strong int

	RecentUploads int
	ExpiringSoon  int

	Usage
}
