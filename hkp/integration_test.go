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
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/julienschmidt/httprouter"
	gc "gopkg.in/check.v1"

	"hkps/hkp/admin"
	"hkps/hkp/jsonhkp"
	"hkps/hkp/storage"
	"hkps/openpgp"
	"hkps/sqlhkp"
	"hkps/testing"
)

type IntegrationSuite struct {
	st  storage.Storage
	srv *httptest.Server
}

var _ = gc.Suite(&IntegrationSuite{})

var dbSeq int64

func (s *IntegrationSuite) SetUpTest(c *gc.C) {
	var err error
	s.st, err = sqlhkp.Dial("sqlite3",
		fmt.Sprintf("file:hkp%d?mode=memory&cache=shared&_foreign_keys=on", atomic.AddInt64(&dbSeq, 1)))
	c.Assert(err, gc.IsNil)

	r := httprouter.New()
	handler, err := NewHandler(s.st, openpgp.NewGoCrypto(), AdminVerifier(admin.NewHMACVerifier(secret)))
	c.Assert(err, gc.IsNil)
	handler.Register(r)
	s.srv = httptest.NewServer(r)
}

func (s *IntegrationSuite) TearDownTest(c *gc.C) {
	s.srv.Close()
	c.Assert(s.st.Close(), gc.IsNil)
}

func (s *IntegrationSuite) addKey(c *gc.C, keytext string) string {
	res, err := http.PostForm(s.srv.URL+"/pks/add", url.Values{"keytext": {keytext}})
	c.Assert(err, gc.IsNil)
	doc := readBody(c, res)
	c.Assert(res.StatusCode, gc.Equals, http.StatusOK, gc.Commentf("%s", doc))
	var result jsonhkp.Result
	c.Assert(json.Unmarshal([]byte(doc), &result), gc.IsNil)
	return result.KeyID
}

func (s *IntegrationSuite) lookup(c *gc.C, params string) (*http.Response, string) {
	res, err := http.Get(s.srv.URL + "/pks/lookup?" + params)
	c.Assert(err, gc.IsNil)
	return res, readBody(c, res)
}

func (s *IntegrationSuite) TestAddGetDelete(c *gc.C) {
	keytext := testing.MustGenerateKey(testing.KeyOptions{Name: "Alice", Email: "alice@example.com"})
	keyid := s.addKey(c, keytext)

	res, doc := s.lookup(c, "op=index&search=alice@example.com&fingerprint=on")
	c.Assert(res.StatusCode, gc.Equals, http.StatusOK)
	var result jsonhkp.LookupResult
	c.Assert(json.Unmarshal([]byte(doc), &result), gc.IsNil)
	c.Assert(result.Keys, gc.HasLen, 1)
	fp := result.Keys[0].Fingerprint
	c.Assert(strings.HasSuffix(fp, keyid), gc.Equals, true)

	res, doc = s.lookup(c, "op=get&exact=on&mr=on&search="+fp)
	c.Assert(res.StatusCode, gc.Equals, http.StatusOK)
	c.Assert(doc, gc.Equals, keytext)

	// A second upload is refused and leaves one key.
	res, err := http.PostForm(s.srv.URL+"/pks/add", url.Values{"keytext": {keytext}})
	c.Assert(err, gc.IsNil)
	readBody(c, res)
	c.Assert(res.StatusCode, gc.Equals, http.StatusConflict)

	token, err := admin.IssueHMACToken(secret, "root", true, time.Now().Add(time.Hour))
	c.Assert(err, gc.IsNil)
	req, err := http.NewRequest("DELETE", s.srv.URL+"/pks/delete/"+strings.ToLower(keyid), nil)
	c.Assert(err, gc.IsNil)
	req.Header.Set("Authorization", "Bearer "+token)
	res, err = http.DefaultClient.Do(req)
	c.Assert(err, gc.IsNil)
	readBody(c, res)
	c.Assert(res.StatusCode, gc.Equals, http.StatusOK)

	res, _ = s.lookup(c, "op=get&search="+fp)
	c.Assert(res.StatusCode, gc.Equals, http.StatusNotFound)
}

func (s *IntegrationSuite) TestPagination(c *gc.C) {
	base := time.Now().Add(-72 * time.Hour).Truncate(time.Second)
	var keyids []string
	for i := 0; i < 3; i++ {
		keyids = append(keyids, s.addKey(c, testing.MustGenerateKey(testing.KeyOptions{
			Name:    fmt.Sprintf("Carol %d", i),
			Email:   fmt.Sprintf("carol%d@example.com", i),
			Created: base.Add(time.Duration(i) * time.Hour),
		})))
	}

	res, doc := s.lookup(c, "search=Carol&limit=1&offset=1")
	c.Assert(res.StatusCode, gc.Equals, http.StatusOK)
	var result jsonhkp.LookupResult
	c.Assert(json.Unmarshal([]byte(doc), &result), gc.IsNil)
	c.Assert(result.Total, gc.Equals, 3)
	c.Assert(result.Keys, gc.HasLen, 1)
	c.Assert(result.Keys[0].KeyID, gc.Equals, keyids[1])

	res, doc = s.lookup(c, "search=Carol&mr=on")
	c.Assert(res.StatusCode, gc.Equals, http.StatusOK)
	lines := strings.Split(doc, "\r\n")
	c.Assert(lines[0], gc.Equals, "info:1:3")
	c.Assert(lines[1], gc.Matches, "pub:"+keyids[2][8:]+":22:255:[0-9]+::")
	c.Assert(lines[len(lines)-1], gc.Equals, "")
}

func (s *IntegrationSuite) TestStatsCounters(c *gc.C) {
	s.addKey(c, testing.MustGenerateKey(testing.KeyOptions{Name: "Dave", Email: "dave@example.com"}))
	for i := 0; i < 3; i++ {
		res, _ := s.lookup(c, "op=get&search=dave@example.com")
		c.Assert(res.StatusCode, gc.Equals, http.StatusOK)
	}

	res, err := http.Get(s.srv.URL + "/pks/stats")
	c.Assert(err, gc.IsNil)
	doc := readBody(c, res)
	var report struct {
		TotalKeys int `json:"total_keys"`
		Usage     struct {
			Lookups   int `json:"lookups_30d"`
			Downloads int `json:"downloads_30d"`
		} `json:"usage"`
		AlgorithmCounts map[string]int `json:"algorithm_counts"`
	}
	c.Assert(json.Unmarshal([]byte(doc), &report), gc.IsNil)
	c.Assert(report.TotalKeys, gc.Equals, 1)
	c.Assert(report.AlgorithmCounts, gc.DeepEquals, map[string]int{"eddsa": 1})
	c.Assert(report.Usage.Lookups, gc.Equals, 3)
	c.Assert(report.Usage.Downloads, gc.Equals, 3)
}
