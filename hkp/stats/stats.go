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

// Package stats records lookup counters and builds the server statistics
// report.
package stats

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"hkps/hkp/format"
	"hkps/hkp/jsonhkp"
	"hkps/hkp/storage"
)

const (
	DefaultRefresh   = 5 * time.Minute
	DefaultCacheSize = 16
)

type options struct {
	now       func() time.Time
	refresh   time.Duration
	cacheSize int
}

type Option func(*options)

func Clock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Refresh sets how long a generated report is served from cache.
func Refresh(d time.Duration) Option {
	return func(o *options) { o.refresh = d }
}

func CacheSize(n int) Option {
	return func(o *options) { o.cacheSize = n }
}

func newOptions(opts []Option) *options {
	o := &options{
		now:       time.Now,
		refresh:   DefaultRefresh,
		cacheSize: DefaultCacheSize,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.refresh <= 0 {
		o.refresh = DefaultRefresh
	}
	if o.cacheSize <= 0 {
		o.cacheSize = DefaultCacheSize
	}
	return o
}

// Recorder increments usage counters for search results.
type Recorder struct {
	storage storage.Counter
	now     func() time.Time
}

func NewRecorder(st storage.Counter, opts ...Option) *Recorder {
	o := newOptions(opts)
	return &Recorder{storage: st, now: o.now}
}

// RecordLookup counts one lookup against the server-wide row and each key
// in keys, and one download as well when op is get. Nothing is recorded for
// an empty result. Counter failures are logged and otherwise ignored.
func (r *Recorder) RecordLookup(ctx context.Context, op format.Op, keys []*storage.Key) {
	if len(keys) == 0 {
		return
	}
	day := r.now().UTC()
	var downloads int
	if op == format.OpGet {
		downloads = 1
	}
	if err := r.storage.UpsertCounter(ctx, nil, day, 1, downloads); err != nil {
		log.Errorf("failed to update lookup counters: %+v", err)
	}
	for _, key := range keys {
		id := key.ID
		if err := r.storage.UpsertCounter(ctx, &id, day, 1, downloads); err != nil {
			log.WithFields(log.Fields{
				"keyid": key.KeyID,
			}).Errorf("failed to update lookup counters: %+v", err)
		}
	}
}

type ServerInfo struct {
	Version  string `json:"version"`
	Software string `json:"software"`
	Hostname string `json:"hostname"`
}

type StatusCounts struct {
	Active  int `json:"active"`
	Revoked int `json:"revoked"`
	Expired int `json:"expired"`
}

type KeySizeCounts struct {
	Weak   int `json:"weak"`
	Medium int `json:"medium"`
	Strong int `json:"strong"`
}

type RecentCounts struct {
	Uploads  int `json:"uploads_30d"`
	Expiring int `json:"expiring_30d"`
}

type UsageCounts struct {
	Lookups   int `json:"lookups_30d"`
	Downloads int `json:"downloads_30d"`
}

// Report is the server statistics document.
type Report struct {
	TotalKeys       int            `json:"total_keys"`
	AlgorithmCounts map[string]int `json:"algorithm_counts"`
	StatusCounts    StatusCounts   `json:"status_counts"`
	KeySizeCounts   KeySizeCounts  `json:"key_size_counts"`
	Recent          RecentCounts   `json:"recent"`
	Usage           UsageCounts    `json:"usage"`
	ServerInfo      ServerInfo     `json:"server_info"`
	Generated       time.Time      `json:"generated"`
	Error           string         `json:"error,omitempty"`
}

func newReport(info ServerInfo, now time.Time) *Report {
	return &Report{
		AlgorithmCounts: map[string]int{},
		ServerInfo:      info,
		Generated:       now.UTC().Truncate(time.Second),
	}
}

func (r *Report) fill(sum *storage.Summary) {
	r.TotalKeys = sum.Total
	for algo, n := range sum.ByAlgorithm {
		r.AlgorithmCounts[strings.ToLower(algo)] += n
	}
	r.StatusCounts = StatusCounts{Active: sum.Active, Revoked: sum.Revoked, Expired: sum.Expired}
	r.KeySizeCounts = KeySizeCounts{Weak: sum.Weak, Medium: sum.Medium, Strong: sum.Strong}
	r.Recent = RecentCounts{Uploads: sum.RecentUploads, Expiring: sum.ExpiringSoon}
	r.Usage = UsageCounts{Lookups: sum.Lookups, Downloads: sum.Downloads}
}

// MR renders the report as key:value lines in a fixed order.
func (r *Report) MR() []byte {
	var buf bytes.Buffer
	line := func(k string, v interface{}) {
		fmt.Fprintf(&buf, "%s:%v\r\n", k, v)
	}
	line("total_keys", r.TotalKeys)
	algos := make([]string, 0, len(r.AlgorithmCounts))
	for algo := range r.AlgorithmCounts {
		algos = append(algos, algo)
	}
	sort.Strings(algos)
	for _, algo := range algos {
		line("algorithm_"+algo, r.AlgorithmCounts[algo])
	}
	line("status_active", r.StatusCounts.Active)
	line("status_revoked", r.StatusCounts.Revoked)
	line("status_expired", r.StatusCounts.Expired)
	line("keysize_weak", r.KeySizeCounts.Weak)
	line("keysize_medium", r.KeySizeCounts.Medium)
	line("keysize_strong", r.KeySizeCounts.Strong)
	line("uploads_30d", r.Recent.Uploads)
	line("expiring_30d", r.Recent.Expiring)
	line("lookups_30d", r.Usage.Lookups)
	line("downloads_30d", r.Usage.Downloads)
	line("version", r.ServerInfo.Version)
	line("software", r.ServerInfo.Software)
	line("hostname", r.ServerInfo.Hostname)
	line("generated", r.Generated.Unix())
	if r.Error != "" {
		line("error", r.Error)
	}
	return buf.Bytes()
}

// JSON renders the report document.
func (r *Report) JSON() ([]byte, error) {
	b, err := json.Marshal(r)
	return b, errors.WithStack(err)
}

// ETag is the hex MD5 digest of the JSON rendering.
func (r *Report) ETag() (string, error) {
	b, err := r.JSON()
	if err != nil {
		return "", err
	}
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:]), nil
}

// errUnavailable is reported to clients in place of the underlying failure.
const errUnavailable = "statistics unavailable"

// Reporter builds statistics reports, caching each one for the refresh
// interval.
type Reporter struct {
	storage storage.Reporter
	info    ServerInfo
	now     func() time.Time
	refresh time.Duration
	cache   *lru.Cache
}

func NewReporter(st storage.Reporter, info ServerInfo, opts ...Option) (*Reporter, error) {
	o := newOptions(opts)
	cache, err := lru.New(o.cacheSize)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &Reporter{
		storage: st,
		info:    info,
		now:     o.now,
		refresh: o.refresh,
		cache:   cache,
	}, nil
}

// Report returns the report for the current refresh bucket. When the
// aggregates cannot be computed a zeroed report carrying an error marker is
// returned, and is not cached.
func (r *Reporter) Report(ctx context.Context) *Report {
	now := r.now()
	bucket := now.UTC().Truncate(r.refresh).Unix()
	if cached, ok := r.cache.Get(bucket); ok {
		return cached.(*Report)
	}
	report := newReport(r.info, now)
	sum, err := r.storage.Summary(ctx, now)
	if err != nil {
		log.Errorf("failed to generate statistics: %+v", err)
		report.Error = errUnavailable
		return report
	}
	report.fill(sum)
	r.cache.Add(bucket, report)
	return report
}

// KeyUsage sums the counters of key over the trailing statistics window.
func (r *Reporter) KeyUsage(ctx context.Context, key *storage.Key) (*jsonhkp.Usage, error) {
	since := r.now().UTC().Add(-storage.StatsWindow)
	usage, err := r.storage.KeyUsage(ctx, key.ID, since)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &jsonhkp.Usage{
		KeyID:       key.KeyID,
		Fingerprint: key.Fingerprint,
		Days:        int(storage.StatsWindow / (24 * time.Hour)),
		Lookups:     usage.Lookups,
		Downloads:   usage.Downloads,
	}, nil
}
