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

package hkp

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	stdtesting "testing"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"
	gc "gopkg.in/check.v1"

	"hkps/hkp/admin"
	"hkps/hkp/jsonhkp"
	"hkps/hkp/query"
	"hkps/hkp/storage"
	"hkps/hkp/storage/mock"
	"hkps/openpgp"
	"hkps/openpgp/openpgptest"
)

func Test(t *stdtesting.T) { gc.TestingT(t) }

const (
	secret   = "s3cret"
	fakeText = "-----BEGIN PGP PUBLIC KEY BLOCK-----\nfake\n-----END PGP PUBLIC KEY BLOCK-----\n"
)

var now = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func aliceKey() *storage.Key {
	return &storage.Key{
		ID:           "record-1",
		KeyID:        "ABCDEF0123456789",
		Fingerprint:  "0123456789ABCDEF01234567ABCDEF0123456789",
		Algorithm:    openpgp.RSA,
		KeySize:      4096,
		CreationDate: now.Add(-24 * time.Hour),
		KeyData:      fakeText,
		UserIDs:      []*storage.UserID{{UID: "Alice <a@b.co>"}},
	}
}

type HandlerSuite struct {
	storage *mock.Storage
	engine  *openpgptest.Fake
	srv     *httptest.Server

	keys    []*storage.Key
	queries []*query.Query
	pages   []storage.Page
}

var _ = gc.Suite(&HandlerSuite{})

func (s *HandlerSuite) SetUpTest(c *gc.C) {
	s.keys = []*storage.Key{aliceKey()}
	s.queries = nil
	s.pages = nil
	s.storage = mock.NewStorage(
		mock.Search(func(q *query.Query, page storage.Page, _ storage.Order) ([]*storage.Key, int, error) {
			s.queries = append(s.queries, q)
			s.pages = append(s.pages, page)
			return s.keys, len(s.keys), nil
		}),
		mock.Find(func(term string) (*storage.Key, error) {
			for _, key := range s.keys {
				if key.KeyID == term || key.Fingerprint == term {
					return key, nil
				}
			}
			return nil, storage.ErrKeyNotFound
		}),
	)
	s.engine = openpgptest.NewFake()

	r := httprouter.New()
	handler, err := NewHandler(s.storage, s.engine,
		Clock(clock), AdminVerifier(admin.NewHMACVerifier(secret)))
	c.Assert(err, gc.IsNil)
	handler.Register(r)
	s.srv = httptest.NewServer(r)
}

func (s *HandlerSuite) TearDownTest(c *gc.C) {
	s.srv.Close()
}

func readBody(c *gc.C, res *http.Response) string {
	doc, err := io.ReadAll(res.Body)
	res.Body.Close()
	c.Assert(err, gc.IsNil)
	return string(doc)
}

func (s *HandlerSuite) get(c *gc.C, path string) (*http.Response, string) {
	res, err := http.Get(s.srv.URL + path)
	c.Assert(err, gc.IsNil)
	return res, readBody(c, res)
}

func hasField(q *query.Query, field query.Field) bool {
	for _, p := range q.Predicates {
		if p.Field == field {
			return true
		}
	}
	return false
}

func (s *HandlerSuite) TestIndexJSON(c *gc.C) {
	res, doc := s.get(c, "/pks/lookup?search=alice")
	c.Assert(res.StatusCode, gc.Equals, http.StatusOK)
	c.Assert(res.Header.Get("Content-Type"), gc.Equals, "application/json")

	var result jsonhkp.LookupResult
	c.Assert(json.Unmarshal([]byte(doc), &result), gc.IsNil)
	c.Assert(result.Total, gc.Equals, 1)
	c.Assert(result.Limit, gc.Equals, 20)
	c.Assert(result.Keys, gc.HasLen, 1)
	c.Assert(result.Keys[0].KeyID, gc.Equals, "ABCDEF0123456789")
	c.Assert(result.Keys[0].Fingerprint, gc.Equals, "")
	c.Assert(result.Keys[0].UIDs, gc.DeepEquals, []string{"Alice <a@b.co>"})

	c.Assert(s.queries, gc.HasLen, 1)
	c.Assert(hasField(s.queries[0], query.FieldUIDName), gc.Equals, true)
	c.Assert(hasField(s.queries[0], query.FieldRevoked), gc.Equals, true)
	c.Assert(hasField(s.queries[0], query.FieldExpired), gc.Equals, true)
	c.Assert(s.pages[0], gc.Equals, storage.Page{Limit: 20})
	// One aggregate and one per-key increment.
	c.Assert(s.storage.MethodCount("UpsertCounter"), gc.Equals, 2)
}

func (s *HandlerSuite) TestLookupParameters(c *gc.C) {
	res, _ := s.get(c, "/pks/lookup?op=vindex&search=0xABCDEF0123456789&fingerprint=on"+
		"&include_revoked=true&include_expired=1&min_keysize=2048&algorithm=rsa"+
		"&created_after=2020-01-01&expires_before=2030-01-01T00:00:00Z&limit=5&offset=10")
	c.Assert(res.StatusCode, gc.Equals, http.StatusOK)
	c.Assert(s.queries, gc.HasLen, 1)
	q := s.queries[0]
	c.Assert(q.Predicates[0], gc.DeepEquals, query.Predicate{
		Field: query.FieldKeyID, Op: query.OpHasSuffix, Value: "ABCDEF0123456789",
	})
	c.Assert(hasField(q, query.FieldAlgorithm), gc.Equals, true)
	c.Assert(hasField(q, query.FieldKeySize), gc.Equals, true)
	c.Assert(hasField(q, query.FieldCreationDate), gc.Equals, true)
	c.Assert(hasField(q, query.FieldExpirationDate), gc.Equals, true)
	c.Assert(hasField(q, query.FieldRevoked), gc.Equals, false)
	c.Assert(hasField(q, query.FieldExpired), gc.Equals, false)
	c.Assert(s.pages[0], gc.Equals, storage.Page{Limit: 5, Offset: 10})
}

func (s *HandlerSuite) TestBadRequests(c *gc.C) {
	for _, path := range []string{
		"/pks/lookup?op=explode&search=alice",
		"/pks/lookup?op=index",
		"/pks/lookup?op=get&search=",
		"/pks/lookup?search=alice&limit=0",
		"/pks/lookup?search=alice&limit=101",
		"/pks/lookup?search=alice&offset=-1",
		"/pks/lookup?search=alice&limit=many",
		"/pks/lookup?search=alice&min_keysize=256",
		"/pks/lookup?search=alice&algorithm=rot13",
		"/pks/lookup?search=alice&created_after=yesterday",
		"/pks/lookup?search=alice&exact=maybe",
		"/pks/lookup?op=stats&mr=perhaps",
	} {
		res, _ := s.get(c, path)
		c.Check(res.StatusCode, gc.Equals, http.StatusBadRequest, gc.Commentf("%s", path))
	}
	c.Assert(s.storage.MethodCount("Search"), gc.Equals, 0)
}

func (s *HandlerSuite) TestIndexMR(c *gc.C) {
	for _, mr := range []string{"mr=on", "options=mr", "mr=true"} {
		res, doc := s.get(c, "/pks/lookup?op=index&search=a@b.co&"+mr)
		c.Assert(res.StatusCode, gc.Equals, http.StatusOK)
		c.Assert(doc, gc.Equals, "info:1:1\r\n"+
			"pub:23456789:1:4096:1710417600::\r\n"+
			"uid:Alice%20%3Ca%40b.co%3E:1710417600::\r\n")
	}
}

func (s *HandlerSuite) TestIndexEmpty(c *gc.C) {
	s.keys = nil
	res, doc := s.get(c, "/pks/lookup?op=index&search=nobody&mr=on")
	c.Assert(res.StatusCode, gc.Equals, http.StatusOK)
	c.Assert(doc, gc.Equals, "info:1:0\r\n")
	c.Assert(s.storage.MethodCount("UpsertCounter"), gc.Equals, 0)

	res, doc = s.get(c, "/pks/lookup?op=index&search=nobody")
	c.Assert(res.StatusCode, gc.Equals, http.StatusOK)
	c.Assert(doc, gc.Equals, `{"keys":[],"total":0,"offset":0,"limit":20}`)
}

func (s *HandlerSuite) TestGet(c *gc.C) {
	res, doc := s.get(c, "/pks/lookup?op=get&search=0123456789ABCDEF01234567ABCDEF0123456789&exact=on&mr=on")
	c.Assert(res.StatusCode, gc.Equals, http.StatusOK)
	c.Assert(res.Header.Get("Content-Type"), gc.Equals, "application/pgp-keys")
	c.Assert(doc, gc.Equals, fakeText)

	res, doc = s.get(c, "/pks/lookup?op=get&search=0123456789ABCDEF01234567ABCDEF0123456789")
	c.Assert(res.StatusCode, gc.Equals, http.StatusOK)
	var result jsonhkp.LookupResult
	c.Assert(json.Unmarshal([]byte(doc), &result), gc.IsNil)
	c.Assert(result.Keys[0].KeyData, gc.Equals, fakeText)

	var downloads int
	for _, call := range s.storage.Calls {
		if call.Name == "UpsertCounter" && call.Args[3] == 1 {
			downloads++
		}
	}
	c.Assert(downloads, gc.Equals, 4)
}

func (s *HandlerSuite) TestGetNotFound(c *gc.C) {
	s.keys = nil
	for _, mr := range []string{"", "&mr=on"} {
		res, _ := s.get(c, "/pks/lookup?op=get&search=DEADBEEF"+mr)
		c.Assert(res.StatusCode, gc.Equals, http.StatusNotFound)
	}
}

func (s *HandlerSuite) TestSearchFailure(c *gc.C) {
	s.storage = mock.NewStorage(mock.Search(func(*query.Query, storage.Page, storage.Order) ([]*storage.Key, int, error) {
		return nil, 0, errors.New("connection reset by peer")
	}))
	r := httprouter.New()
	handler, err := NewHandler(s.storage, s.engine)
	c.Assert(err, gc.IsNil)
	handler.Register(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	res, err := http.Get(srv.URL + "/pks/lookup?search=alice")
	c.Assert(err, gc.IsNil)
	doc := readBody(c, res)
	c.Assert(res.StatusCode, gc.Equals, http.StatusInternalServerError)
	c.Assert(strings.Contains(doc, "connection reset"), gc.Equals, false)
}

func (s *HandlerSuite) add(c *gc.C, form url.Values) (*http.Response, string) {
	res, err := http.PostForm(s.srv.URL+"/pks/add", form)
	c.Assert(err, gc.IsNil)
	return res, readBody(c, res)
}

func (s *HandlerSuite) registerFake() {
	s.engine.Add(fakeText, &openpgptest.Key{
		Primary: openpgp.PrimaryKey{
			KeyID:       "ABCDEF0123456789",
			Fingerprint: "0123456789ABCDEF01234567ABCDEF0123456789",
			Algorithm:   openpgp.EdDSA,
			KeySize:     255,
			Creation:    now.Add(-time.Hour),
		},
		Identities: []*openpgp.Identity{{UID: "Alice <a@b.co>", Name: "Alice", Email: "a@b.co"}},
	})
}

func (s *HandlerSuite) TestAdd(c *gc.C) {
	s.keys = nil
	s.registerFake()
	res, doc := s.add(c, url.Values{"keytext": {fakeText}})
	c.Assert(res.StatusCode, gc.Equals, http.StatusOK)
	var result jsonhkp.Result
	c.Assert(json.Unmarshal([]byte(doc), &result), gc.IsNil)
	c.Assert(result, gc.DeepEquals, jsonhkp.Result{
		Success: true,
		Message: "Key added successfully",
		KeyID:   "ABCDEF0123456789",
	})
	c.Assert(s.storage.MethodCount("Persist"), gc.Equals, 1)
}

func (s *HandlerSuite) TestAddMR(c *gc.C) {
	s.keys = nil
	s.registerFake()
	res, doc := s.add(c, url.Values{"keytext": {fakeText}, "options": {"mr"}})
	c.Assert(res.StatusCode, gc.Equals, http.StatusOK)
	c.Assert(doc, gc.Equals, "success: Key added successfully\nkeyid: ABCDEF0123456789")

	res, doc = s.add(c, url.Values{"keytext": {"garbage"}, "mr": {"on"}})
	c.Assert(res.StatusCode, gc.Equals, http.StatusBadRequest)
	c.Assert(doc, gc.Equals, "error: invalid PGP key format")
}

func (s *HandlerSuite) TestAddDuplicate(c *gc.C) {
	s.registerFake()
	res, doc := s.add(c, url.Values{"keytext": {fakeText}})
	c.Assert(res.StatusCode, gc.Equals, http.StatusConflict)
	var result jsonhkp.Result
	c.Assert(json.Unmarshal([]byte(doc), &result), gc.IsNil)
	c.Assert(result.Success, gc.Equals, false)
	c.Assert(result.KeyID, gc.Equals, "ABCDEF0123456789")
	c.Assert(result.Message, gc.Equals, "key ABCDEF0123456789 already exists")
	c.Assert(s.storage.MethodCount("Persist"), gc.Equals, 0)
}

func (s *HandlerSuite) TestAddInvalid(c *gc.C) {
	res, doc := s.add(c, url.Values{"keytext": {"garbage"}})
	c.Assert(res.StatusCode, gc.Equals, http.StatusBadRequest)
	var result jsonhkp.Result
	c.Assert(json.Unmarshal([]byte(doc), &result), gc.IsNil)
	c.Assert(result.Message, gc.Equals, "invalid PGP key format")

	res, _ = s.add(c, url.Values{})
	c.Assert(res.StatusCode, gc.Equals, http.StatusBadRequest)
}

func (s *HandlerSuite) TestAddValidation(c *gc.C) {
	s.keys = nil
	s.engine.Add(fakeText, &openpgptest.Key{
		Primary: openpgp.PrimaryKey{
			KeyID:       "ABCDEF0123456789",
			Fingerprint: "0123456789ABCDEF01234567ABCDEF0123456789",
			Algorithm:   openpgp.RSA,
			KeySize:     256,
			Creation:    now.Add(-time.Hour),
		},
	})
	res, doc := s.add(c, url.Values{"keytext": {fakeText}})
	c.Assert(res.StatusCode, gc.Equals, http.StatusBadRequest)
	var result jsonhkp.Result
	c.Assert(json.Unmarshal([]byte(doc), &result), gc.IsNil)
	c.Assert(len(result.Errors) > 0, gc.Equals, true)
	c.Assert(result.Message, gc.Matches, "key validation failed: .*")
}

func (s *HandlerSuite) token(c *gc.C, isAdmin bool) string {
	token, err := admin.IssueHMACToken(secret, "alice", isAdmin, time.Now().Add(time.Hour))
	c.Assert(err, gc.IsNil)
	return token
}

func (s *HandlerSuite) deleteRequest(c *gc.C, keyid, token string) (*http.Response, string) {
	req, err := http.NewRequest("DELETE", s.srv.URL+"/pks/delete/"+keyid, nil)
	c.Assert(err, gc.IsNil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := http.DefaultClient.Do(req)
	c.Assert(err, gc.IsNil)
	return res, readBody(c, res)
}

func (s *HandlerSuite) TestDelete(c *gc.C) {
	res, doc := s.deleteRequest(c, "abcdef0123456789", s.token(c, true))
	c.Assert(res.StatusCode, gc.Equals, http.StatusOK)
	c.Assert(doc, gc.Equals, `{"success":true,"message":"Key deleted successfully"}`+"\n")
	c.Assert(s.storage.MethodCount("DeleteCascade"), gc.Equals, 1)
}

func (s *HandlerSuite) TestDeleteForm(c *gc.C) {
	res, err := http.PostForm(s.srv.URL+"/pks/delete", url.Values{
		"keyid": {"0123456789ABCDEF01234567ABCDEF0123456789"},
		"token": {s.token(c, true)},
	})
	c.Assert(err, gc.IsNil)
	readBody(c, res)
	c.Assert(res.StatusCode, gc.Equals, http.StatusOK)
	c.Assert(s.storage.MethodCount("DeleteCascade"), gc.Equals, 1)
}

func (s *HandlerSuite) TestDeleteUnauthorized(c *gc.C) {
	for _, token := range []string{"", "garbage", s.token(c, false)} {
		res, doc := s.deleteRequest(c, "ABCDEF0123456789", token)
		c.Assert(res.StatusCode, gc.Equals, http.StatusUnauthorized)
		c.Assert(res.Header.Get("WWW-Authenticate"), gc.Equals, "Bearer")
		c.Assert(doc, gc.Equals, `{"success":false,"message":"unauthorized"}`+"\n")
	}
	c.Assert(s.storage.MethodCount("DeleteCascade"), gc.Equals, 0)
}

func (s *HandlerSuite) TestDeleteNotFound(c *gc.C) {
	res, _ := s.deleteRequest(c, "DEADBEEFDEADBEEF", s.token(c, true))
	c.Assert(res.StatusCode, gc.Equals, http.StatusNotFound)

	res, err := http.PostForm(s.srv.URL+"/pks/delete", url.Values{"token": {s.token(c, true)}})
	c.Assert(err, gc.IsNil)
	readBody(c, res)
	c.Assert(res.StatusCode, gc.Equals, http.StatusBadRequest)
}

func (s *HandlerSuite) TestStats(c *gc.C) {
	res, doc := s.get(c, "/pks/stats")
	c.Assert(res.StatusCode, gc.Equals, http.StatusOK)
	c.Assert(res.Header.Get("Content-Type"), gc.Equals, "application/json")
	etag := res.Header.Get("ETag")
	c.Assert(etag, gc.Matches, `"[0-9a-f]{32}"`)
	var report map[string]interface{}
	c.Assert(json.Unmarshal([]byte(doc), &report), gc.IsNil)
	c.Assert(report["total_keys"], gc.Equals, float64(0))

	req, err := http.NewRequest("GET", s.srv.URL+"/pks/stats", nil)
	c.Assert(err, gc.IsNil)
	req.Header.Set("If-None-Match", etag)
	res, err = http.DefaultClient.Do(req)
	c.Assert(err, gc.IsNil)
	readBody(c, res)
	c.Assert(res.StatusCode, gc.Equals, http.StatusNotModified)
	c.Assert(s.storage.MethodCount("Summary"), gc.Equals, 1)
}

func (s *HandlerSuite) TestStatsMR(c *gc.C) {
	for _, path := range []string{"/pks/stats?mr=on", "/pks/lookup?op=stats&options=mr"} {
		res, doc := s.get(c, path)
		c.Assert(res.StatusCode, gc.Equals, http.StatusOK)
		c.Assert(res.Header.Get("Content-Type"), gc.Equals, "text/plain; charset=utf-8")
		c.Assert(strings.HasPrefix(doc, "total_keys:0\r\n"), gc.Equals, true)
	}
}

func (s *HandlerSuite) TestKeyStats(c *gc.C) {
	res, doc := s.get(c, "/pks/stats/abcdef0123456789")
	c.Assert(res.StatusCode, gc.Equals, http.StatusOK)
	var usage jsonhkp.Usage
	c.Assert(json.Unmarshal([]byte(doc), &usage), gc.IsNil)
	c.Assert(usage.KeyID, gc.Equals, "ABCDEF0123456789")
	c.Assert(usage.Days, gc.Equals, 30)

	res, _ = s.get(c, "/pks/stats/DEADBEEF")
	c.Assert(res.StatusCode, gc.Equals, http.StatusNotFound)
}

func (s *HandlerSuite) TestLookupFunc(c *gc.C) {
	var seen []string
	r := httprouter.New()
	handler, err := NewHandler(s.storage, s.engine, LookupFunc(func(op Operation, found int) {
		seen = append(seen, fmt.Sprintf("%s:%d", op, found))
	}))
	c.Assert(err, gc.IsNil)
	handler.Register(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	res, err := http.Get(srv.URL + "/pks/lookup?op=vindex&search=alice")
	c.Assert(err, gc.IsNil)
	readBody(c, res)
	c.Assert(seen, gc.DeepEquals, []string{"vindex:1"})
}
