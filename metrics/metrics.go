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

// Package metrics serves the prometheus registry over HTTP.
package metrics

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"gopkg.in/errgo.v1"
	"gopkg.in/tomb.v2"
)

type Metrics struct {
	s   *Settings
	srv *http.Server
	t   tomb.Tomb

	addr string
}

func NewMetrics(s *Settings) *Metrics {
	if s == nil {
		s = DefaultSettings()
	}

	mux := http.NewServeMux()
	mux.Handle(s.MetricsPath, promhttp.Handler())
	return &Metrics{
		s:   s,
		srv: &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second},
	}
}

// Start listens on the configured address and serves in the background.
func (m *Metrics) Start() error {
	ln, err := net.Listen("tcp", m.s.MetricsAddr)
	if err != nil {
		return errgo.Notef(err, "cannot listen on %q", m.s.MetricsAddr)
	}
	m.addr = ln.Addr().String()
	log.Infof("metrics: listening on %s%s", m.addr, m.s.MetricsPath)
	m.t.Go(func() error {
		err := m.srv.Serve(ln)
		if err == http.ErrServerClosed {
			return nil
		}
		log.Errorf("failed to serve metrics: %v", err)
		return err
	})
	m.t.Go(func() error {
		<-m.t.Dying()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return m.srv.Shutdown(ctx)
	})
	return nil
}

// Addr returns the bound address once started.
func (m *Metrics) Addr() string {
	return m.addr
}

func (m *Metrics) Stop() {
	if m.addr == "" {
		return
	}
	log.Info("metrics: stopping")
	m.t.Kill(nil)
	if err := m.t.Wait(); err != nil {
		log.Error(errgo.Details(err))
	}
	log.Info("metrics: stopped")
}
