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

package mock

import (
	"context"
	"sync"
	"time"

	"hkps/hkp/query"
	"hkps/hkp/storage"
)

type MethodCall struct {
	Name string
	Args []interface{}
}

type Recorder struct {
	mu    sync.Mutex
	Calls []MethodCall
}

func (m *Recorder) record(name string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, MethodCall{Name: name, Args: args})
}

func (m *Recorder) MethodCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int
	for _, call := range m.Calls {
		if name == call.Name {
			n++
		}
	}
	return n
}

type closeFunc func() error
type findFunc func(string) (*storage.Key, error)
type searchFunc func(*query.Query, storage.Page, storage.Order) ([]*storage.Key, int, error)
type persistFunc func(*storage.Key, []*storage.UserID, []*storage.Subkey) error
type deleteFunc func(string) error
type upsertCounterFunc func(*string, time.Time, int, int) error
type summaryFunc func(time.Time) (*storage.Summary, error)
type keyUsageFunc func(string, time.Time) (*storage.Usage, error)

type Storage struct {
	Recorder
	close_        closeFunc
	find          findFunc
	search        searchFunc
	persist       persistFunc
	delete_       deleteFunc
	upsertCounter upsertCounterFunc
	summary       summaryFunc
	keyUsage      keyUsageFunc

	notified []func(storage.KeyChange) error
}

type Option func(*Storage)

func Close(f closeFunc) Option  { return func(m *Storage) { m.close_ = f } }
func Find(f findFunc) Option    { return func(m *Storage) { m.find = f } }
func Search(f searchFunc) Option { return func(m *Storage) { m.search = f } }
func Persist(f persistFunc) Option {
	return func(m *Storage) { m.persist = f }
}
func DeleteCascade(f deleteFunc) Option { return func(m *Storage) { m.delete_ = f } }
func UpsertCounter(f upsertCounterFunc) Option {
	return func(m *Storage) { m.upsertCounter = f }
}
func Summary(f summaryFunc) Option   { return func(m *Storage) { m.summary = f } }
func KeyUsage(f keyUsageFunc) Option { return func(m *Storage) { m.keyUsage = f } }

func NewStorage(options ...Option) *Storage {
	m := &Storage{}
	for _, option := range options {
		option(m)
	}
	return m
}

func (m *Storage) Close() error {
	m.record("Close")
	if m.close_ != nil {
		return m.close_()
	}
	return nil
}
func (m *Storage) FindByKeyIDOrFingerprint(_ context.Context, term string) (*storage.Key, error) {
	m.record("FindByKeyIDOrFingerprint", term)
	if m.find != nil {
		return m.find(term)
	}
	return nil, storage.ErrKeyNotFound
}
func (m *Storage) Search(_ context.Context, q *query.Query, page storage.Page, order storage.Order) ([]*storage.Key, int, error) {
	m.record("Search", q, page, order)
	if m.search != nil {
		return m.search(q, page, order)
	}
	return nil, 0, nil
}
func (m *Storage) Persist(_ context.Context, key *storage.Key, uids []*storage.UserID, subkeys []*storage.Subkey) error {
	m.record("Persist", key, uids, subkeys)
	if m.persist != nil {
		return m.persist(key, uids, subkeys)
	}
	return nil
}
func (m *Storage) DeleteCascade(_ context.Context, id string) error {
	m.record("DeleteCascade", id)
	if m.delete_ != nil {
		return m.delete_(id)
	}
	return nil
}
func (m *Storage) UpsertCounter(_ context.Context, keyID *string, day time.Time, lookupDelta, downloadDelta int) error {
	m.record("UpsertCounter", keyID, day, lookupDelta, downloadDelta)
	if m.upsertCounter != nil {
		return m.upsertCounter(keyID, day, lookupDelta, downloadDelta)
	}
	return nil
}
func (m *Storage) Summary(_ context.Context, now time.Time) (*storage.Summary, error) {
	m.record("Summary", now)
	if m.summary != nil {
		return m.summary(now)
	}
	return &storage.Summary{ByAlgorithm: map[string]int{}}, nil
}
func (m *Storage) KeyUsage(_ context.Context, keyID string, since time.Time) (*storage.Usage, error) {
	m.record("KeyUsage", keyID, since)
	if m.keyUsage != nil {
		return m.keyUsage(keyID, since)
	}
	return &storage.Usage{}, nil
}
func (m *Storage) Subscribe(f func(storage.KeyChange) error) {
	m.notified = append(m.notified, f)
}
func (m *Storage) Notify(change storage.KeyChange) error {
	for _, cb := range m.notified {
		err := cb(change)
		if err != nil {
			return err
		}
	}
	return nil
}
