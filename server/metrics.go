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
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"hkps/hkp"
	"hkps/hkp/storage"
)

var serverMetrics = struct {
	keysAdded           prometheus.Counter
	keysDeleted         prometheus.Counter
	lookups             *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}{
	keysAdded: prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "hkps",
			Name:      "keys_added",
			Help:      "New keys added since startup",
		},
	),
	keysDeleted: prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "hkps",
			Name:      "keys_deleted",
			Help:      "Keys deleted by an administrator since startup",
		},
	),
	lookups: prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hkps",
			Name:      "lookups",
			Help:      "Key lookups served since startup",
		},
		[]string{
			"op",
			"found",
		},
	),
	httpRequestDuration: prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hkps",
			Name:      "http_request_duration_seconds",
			Help:      "Time spent generating HTTP responses",
		},
		[]string{
			"method",
			"status_code",
		},
	),
}

var metricsRegister sync.Once

func registerMetrics() {
	metricsRegister.Do(func() {
		prometheus.MustRegister(serverMetrics.keysAdded)
		prometheus.MustRegister(serverMetrics.keysDeleted)
		prometheus.MustRegister(serverMetrics.lookups)
		prometheus.MustRegister(serverMetrics.httpRequestDuration)
	})
}

func metricsStorageNotifier(kc storage.KeyChange) error {
	switch kc.(type) {
	case storage.KeyAdded:
		serverMetrics.keysAdded.Inc()
	case storage.KeyDeleted:
		serverMetrics.keysDeleted.Inc()
	}
	return nil
}

func recordLookup(op hkp.Operation, found int) {
	labels := prometheus.Labels{"op": string(op), "found": strconv.FormatBool(found > 0)}
	serverMetrics.lookups.With(labels).Inc()
}

func recordHTTPRequestDuration(method string, statusCode int, duration time.Duration) {
	labels := prometheus.Labels{"method": method, "status_code": strconv.Itoa(statusCode)}
	serverMetrics.httpRequestDuration.With(labels).Observe(duration.Seconds())
}
