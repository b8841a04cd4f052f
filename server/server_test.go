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

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	gc "gopkg.in/check.v1"

	"hkps/hkp/admin"
	"hkps/hkp/jsonhkp"
	"hkps/testing"
)

type ServerSuite struct {
	srv *Server
	url string
}

var _ = gc.Suite(&ServerSuite{})

var dbSeq int64

const secret = "server-test-secret"

func (s *ServerSuite) SetUpTest(c *gc.C) {
	settings := DefaultSettings()
	settings.HKP.Bind = "127.0.0.1:0"
	settings.Metrics.MetricsAddr = "127.0.0.1:0"
	settings.DB.Driver = "sqlite3"
	settings.DB.DSN = fmt.Sprintf("file:server%d?mode=memory&cache=shared&_foreign_keys=on", atomic.AddInt64(&dbSeq, 1))
	settings.Admin.JWTSecret = secret
	settings.Hostname = "keys.example.com"

	var err error
	s.srv, err = NewServer(&settings)
	c.Assert(err, gc.IsNil)
	c.Assert(s.srv.Start(), gc.IsNil)
	s.url = "http://" + s.srv.HKPAddr()
}

func (s *ServerSuite) TearDownTest(c *gc.C) {
	s.srv.Stop()
}

func readAll(c *gc.C, res *http.Response) string {
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	c.Assert(err, gc.IsNil)
	return string(b)
}

func lookupCount(op, found string) float64 {
	return testutil.ToFloat64(serverMetrics.lookups.With(prometheus.Labels{"op": op, "found": found}))
}

func (s *ServerSuite) TestAddLookupDelete(c *gc.C) {
	added := testutil.ToFloat64(serverMetrics.keysAdded)
	deleted := testutil.ToFloat64(serverMetrics.keysDeleted)
	indexed := lookupCount("index", "true")

	keytext := testing.MustGenerateKey(testing.KeyOptions{Name: "Server Test", Email: "server@example.com"})
	res, err := http.PostForm(s.url+"/pks/add", url.Values{"keytext": {keytext}})
	c.Assert(err, gc.IsNil)
	doc := readAll(c, res)
	c.Assert(res.StatusCode, gc.Equals, http.StatusOK, gc.Commentf("%s", doc))
	var result jsonhkp.Result
	c.Assert(json.Unmarshal([]byte(doc), &result), gc.IsNil)
	c.Assert(result.Success, gc.Equals, true)
	c.Assert(testutil.ToFloat64(serverMetrics.keysAdded), gc.Equals, added+1)

	res, err = http.Get(s.url + "/pks/lookup?op=index&options=mr&search=server@example.com")
	c.Assert(err, gc.IsNil)
	doc = readAll(c, res)
	c.Assert(res.StatusCode, gc.Equals, http.StatusOK)
	c.Assert(strings.HasPrefix(doc, "info:1:1\r\n"), gc.Equals, true, gc.Commentf("%q", doc))
	c.Assert(lookupCount("index", "true"), gc.Equals, indexed+1)

	token, err := admin.IssueHMACToken(secret, "ops", true, time.Now().Add(time.Hour))
	c.Assert(err, gc.IsNil)
	req, err := http.NewRequest("DELETE", s.url+"/pks/delete/"+result.KeyID, nil)
	c.Assert(err, gc.IsNil)
	req.Header.Set("Authorization", "Bearer "+token)
	res, err = http.DefaultClient.Do(req)
	c.Assert(err, gc.IsNil)
	doc = readAll(c, res)
	c.Assert(res.StatusCode, gc.Equals, http.StatusOK, gc.Commentf("%s", doc))
	c.Assert(testutil.ToFloat64(serverMetrics.keysDeleted), gc.Equals, deleted+1)

	res, err = http.Get(s.url + "/pks/lookup?op=get&search=0x" + result.KeyID)
	c.Assert(err, gc.IsNil)
	readAll(c, res)
	c.Assert(res.StatusCode, gc.Equals, http.StatusNotFound)
}

func (s *ServerSuite) TestStatsServerInfo(c *gc.C) {
	res, err := http.Get(s.url + "/pks/stats")
	c.Assert(err, gc.IsNil)
	doc := readAll(c, res)
	c.Assert(res.StatusCode, gc.Equals, http.StatusOK, gc.Commentf("%s", doc))
	c.Assert(res.Header.Get("ETag"), gc.Not(gc.Equals), "")

	var report struct {
		TotalKeys  int `json:"total_keys"`
		ServerInfo struct {
			Software string `json:"software"`
			Hostname string `json:"hostname"`
		} `json:"server_info"`
	}
	c.Assert(json.Unmarshal([]byte(doc), &report), gc.IsNil)
	c.Assert(report.TotalKeys, gc.Equals, 0)
	c.Assert(report.ServerInfo.Software, gc.Equals, "hkps")
	c.Assert(report.ServerInfo.Hostname, gc.Equals, "keys.example.com")
}

func (s *ServerSuite) TestRequestDurationRecorded(c *gc.C) {
	res, err := http.Get(s.url + "/pks/lookup?op=bogus&search=x")
	c.Assert(err, gc.IsNil)
	readAll(c, res)
	c.Assert(res.StatusCode, gc.Equals, http.StatusBadRequest)

	// The middleware observes the duration after the response is written.
	for i := 0; i < 100; i++ {
		if testutil.CollectAndCount(serverMetrics.httpRequestDuration) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	c.Assert(testutil.CollectAndCount(serverMetrics.httpRequestDuration), gc.Not(gc.Equals), 0)
}

func (s *ServerSuite) TestDeleteDisabledWithoutVerifiers(c *gc.C) {
	settings := DefaultSettings()
	v, err := AdminVerifier(&settings)
	c.Assert(err, gc.IsNil)
	_, err = v.Verify(context.Background(), "anything")
	c.Assert(err, gc.ErrorMatches, ".*no token verifiers configured.*")
}
