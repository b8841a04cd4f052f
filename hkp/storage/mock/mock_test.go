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

package mock_test

import (
	"context"
	"testing"

	gc "gopkg.in/check.v1"

	"hkps/hkp/storage"
	"hkps/hkp/storage/mock"
)

func Test(t *testing.T) { gc.TestingT(t) }

type MockSuite struct{}

var _ = gc.Suite(&MockSuite{})

var _ storage.Storage = (*mock.Storage)(nil)

func (*MockSuite) TestFind(c *gc.C) {
	m := mock.NewStorage(mock.Find(func(term string) (*storage.Key, error) {
		return &storage.Key{KeyID: term}, nil
	}))
	key, err := m.FindByKeyIDOrFingerprint(context.Background(), "0123456789ABCDEF")
	c.Assert(err, gc.IsNil)
	c.Assert(key.KeyID, gc.Equals, "0123456789ABCDEF")
	c.Assert(m.Calls, gc.HasLen, 1)
	c.Assert(m.MethodCount("FindByKeyIDOrFingerprint"), gc.Equals, 1)
}

func (*MockSuite) TestDefaults(c *gc.C) {
	m := mock.NewStorage()
	_, err := m.FindByKeyIDOrFingerprint(context.Background(), "x")
	c.Assert(storage.IsNotFound(err), gc.Equals, true)
	keys, total, err := m.Search(context.Background(), nil, storage.DefaultPage, storage.NewestFirst)
	c.Assert(err, gc.IsNil)
	c.Assert(keys, gc.HasLen, 0)
	c.Assert(total, gc.Equals, 0)
}

func (*MockSuite) TestInsertKeyNotifies(c *gc.C) {
	m := mock.NewStorage()
	var changes []storage.KeyChange
	m.Subscribe(func(kc storage.KeyChange) error {
		changes = append(changes, kc)
		return nil
	})
	key := &storage.Key{ID: "id", KeyID: "0123456789ABCDEF"}
	_, err := storage.InsertKey(context.Background(), m, key, nil, nil)
	c.Assert(err, gc.IsNil)
	_, err = storage.DeleteKey(context.Background(), m, key)
	c.Assert(err, gc.IsNil)
	c.Assert(changes, gc.DeepEquals, []storage.KeyChange{
		storage.KeyAdded{KeyID: "0123456789ABCDEF"},
		storage.KeyDeleted{KeyID: "0123456789ABCDEF"},
	})
	c.Assert(m.MethodCount("Persist"), gc.Equals, 1)
	c.Assert(m.MethodCount("DeleteCascade"), gc.Equals, 1)
}

func (*MockSuite) TestInsertKeyFailure(c *gc.C) {
	m := mock.NewStorage(mock.Persist(func(*storage.Key, []*storage.UserID, []*storage.Subkey) error {
		return storage.ErrKeyExists
	}))
	notified := false
	m.Subscribe(func(storage.KeyChange) error { notified = true; return nil })
	_, err := storage.InsertKey(context.Background(), m, &storage.Key{}, nil, nil)
	c.Assert(storage.IsExists(err), gc.Equals, true)
	c.Assert(notified, gc.Equals, false)
}
