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
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/carbocation/interpose"
	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/tomb.v2"

	"hkps/hkp"
	"hkps/hkp/admin"
	"hkps/hkp/stats"
	"hkps/hkp/storage"
	"hkps/metrics"
	"hkps/openpgp"
	"hkps/sqlhkp"
)

const (
	oidcDiscoveryTimeout = 30 * time.Second
	shutdownTimeout      = 10 * time.Second
	// Dead TCP peers, such as a laptop closed mid-download, are dropped
	// after this long.
	keepAlivePeriod      = 3 * time.Minute
)

type Server struct {
	settings        *Settings
	st              storage.Storage
	middle          *interpose.Middleware
	r               *httprouter.Router
	logWriter       io.WriteCloser
	metricsListener *metrics.Metrics

	t                 tomb.Tomb
	hkpAddr, hkpsAddr string
}

// statusRecorder remembers the status code written through it. Handlers
// that never call WriteHeader answer 200.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

var proxyHeaders = []string{
	"X-Forwarded-For",
	"X-Forwarded-Host",
	"X-Forwarded-Server",
}

// logRequests logs each request once served and observes its duration.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)
		elapsed := time.Since(start)

		fields := log.Fields{
			"method":     req.Method,
			"url":        req.URL.String(),
			"status":     rec.status,
			"duration":   elapsed.String(),
			"from":       req.RemoteAddr,
			"host":       req.Host,
			"user-agent": req.UserAgent(),
		}
		for _, h := range proxyHeaders {
			if v := req.Header.Get(h); v != "" {
				fields[strings.ToLower(h)] = v
			}
		}
		log.WithFields(fields).Info("request")
		recordHTTPRequestDuration(req.Method, rec.status, elapsed)
	})
}

func NewServer(settings *Settings) (*Server, error) {
	if settings == nil {
		defaults := DefaultSettings()
		settings = &defaults
	}
	s := &Server{
		settings: settings,
		r:        httprouter.New(),
	}

	hooks, err := reportingHooks(settings)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	for _, hook := range hooks {
		log.AddHook(hook)
	}

	s.st, err = DialStorage(settings)
	if err != nil {
		return nil, err
	}

	s.middle = interpose.New()
	s.middle.Use(logRequests)
	s.middle.UseHandler(s.r)

	s.metricsListener = metrics.NewMetrics(settings.Metrics)

	verifier, err := AdminVerifier(settings)
	if err != nil {
		s.st.Close()
		return nil, errors.WithStack(err)
	}
	reporter, err := stats.NewReporter(s.st, ServerInfo(settings),
		stats.Refresh(time.Duration(settings.Stats.RefreshMinutes)*time.Minute),
		stats.CacheSize(settings.Stats.CacheSize))
	if err != nil {
		s.st.Close()
		return nil, errors.WithStack(err)
	}

	engine := openpgp.NewGoCrypto(openpgp.MaxKeyLength(settings.OpenPGP.MaxKeyLength))
	h, err := hkp.NewHandler(s.st, engine,
		hkp.AdminVerifier(verifier),
		hkp.StatsReporter(reporter),
		hkp.LookupFunc(recordLookup),
	)
	if err != nil {
		s.st.Close()
		return nil, errors.WithStack(err)
	}
	h.Register(s.r)

	registerMetrics()
	s.st.Subscribe(metricsStorageNotifier)

	return s, nil
}

func DialStorage(settings *Settings) (storage.Storage, error) {
	st, err := sqlhkp.Dial(settings.DB.Driver, settings.DB.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open %s storage", settings.DB.Driver)
	}
	return st, nil
}

// AdminVerifier builds the delete token verifiers enabled in settings. An
// OIDC issuer is contacted for discovery.
func AdminVerifier(settings *Settings) (admin.Verifier, error) {
	var verifiers admin.Verifiers
	if settings.Admin.JWTSecret != "" {
		verifiers = append(verifiers, admin.NewHMACVerifier(settings.Admin.JWTSecret))
	}
	if cfg := settings.Admin.OIDC; cfg.Issuer != "" {
		ctx, cancel := context.WithTimeout(context.Background(), oidcDiscoveryTimeout)
		defer cancel()
		v, err := admin.NewOIDCVerifier(ctx, admin.OIDCConfig{
			Issuer:     cfg.Issuer,
			ClientID:   cfg.ClientID,
			AdminClaim: cfg.AdminClaim,
			AdminGroup: cfg.AdminGroup,
		})
		if err != nil {
			return nil, errors.WithStack(err)
		}
		verifiers = append(verifiers, v)
	}
	if len(verifiers) == 0 {
		log.Warning("no admin token verifiers configured, key deletion is disabled")
	}
	return verifiers, nil
}

// ServerInfo describes this server in statistics reports. The local
// hostname is used unless one is configured.
func ServerInfo(settings *Settings) stats.ServerInfo {
	info := stats.ServerInfo{
		Version:  settings.Version,
		Software: settings.Software,
		Hostname: settings.Hostname,
	}
	if info.Hostname == "" {
		nodename, err := os.Hostname()
		if err != nil {
			log.Warningf("cannot determine local hostname: %v", err)
		} else {
			info.Hostname = nodename
		}
	}
	return info
}

// Start binds the configured listeners and serves them in the background.
func (s *Server) Start() error {
	s.openLog()

	hkpLn, err := s.newListener(s.settings.HKP.Bind)
	if err != nil {
		return errors.WithStack(err)
	}
	s.hkpAddr = hkpLn.Addr().String()
	s.serve(hkpLn)
	log.Infof("hkp: listening on %s", s.hkpAddr)

	if s.settings.HKPS != nil {
		hkpsLn, err := s.newTLSListener(s.settings.HKPS)
		if err != nil {
			s.t.Kill(err)
			return errors.WithStack(err)
		}
		s.hkpsAddr = hkpsLn.Addr().String()
		s.serve(hkpsLn)
		log.Infof("hkps: listening on %s", s.hkpsAddr)
	}

	if s.metricsListener != nil {
		err = s.metricsListener.Start()
		if err != nil {
			s.t.Kill(err)
			return errors.WithStack(err)
		}
	}
	return nil
}

// HKPAddr returns the address of the plain HTTP listener once started.
func (s *Server) HKPAddr() string {
	return s.hkpAddr
}

// HKPSAddr returns the address of the TLS listener, if any.
func (s *Server) HKPSAddr() string {
	return s.hkpsAddr
}

func (s *Server) serve(ln net.Listener) {
	srv := &http.Server{
		Handler:           s.middle,
		ReadHeaderTimeout: 30 * time.Second,
	}
	s.t.Go(func() error {
		err := srv.Serve(ln)
		if err == http.ErrServerClosed {
			return nil
		}
		return errors.WithStack(err)
	})
	s.t.Go(func() error {
		<-s.t.Dying()
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(ctx)
	})
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// openLog directs logging to the configured file, or stderr, at the
// configured level.
func (s *Server) openLog() {
	level, err := log.ParseLevel(strings.ToLower(s.settings.LogLevel))
	if err != nil {
		log.Warningf("invalid loglevel %q: %v", s.settings.LogLevel, err)
	} else {
		log.SetLevel(level)
	}

	var w io.WriteCloser = nopCloser{os.Stderr}
	if path := s.settings.LogFile; path != "" {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
		if err != nil {
			log.Errorf("cannot open logfile %q, logging to stderr: %v", path, err)
		} else {
			w = f
		}
	}
	s.logWriter = w
	log.SetOutput(w)
}

// LogRotate reopens the log file, for use after it has been moved aside.
func (s *Server) LogRotate() {
	prev := s.logWriter
	s.openLog()
	if prev != nil {
		prev.Close()
	}
	log.Info("log reopened")
}

func (s *Server) Wait() error {
	return s.t.Wait()
}

func (s *Server) Stop() {
	defer func() {
		log.SetOutput(os.Stderr)
		if s.logWriter != nil {
			s.logWriter.Close()
		}
	}()

	if s.metricsListener != nil {
		s.metricsListener.Stop()
	}
	s.t.Kill(nil)
	err := s.t.Wait()
	if err != nil {
		log.Errorf("server stopped: %+v", err)
	}
	err = s.st.Close()
	if err != nil {
		log.Errorf("failed to close storage: %+v", err)
	}
}

func (s *Server) newListener(addr string) (net.Listener, error) {
	lc := net.ListenConfig{KeepAlive: keepAlivePeriod}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot listen on %q", addr)
	}
	return ln, nil
}

func (s *Server) newTLSListener(cfg *HKPSConfig) (net.Listener, error) {
	config := &tls.Config{
		NextProtos: []string{"http/1.1"},
		MinVersion: tls.VersionTLS12,
	}
	cert, err := tls.LoadX509KeyPair(cfg.Cert, cfg.Key)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load HKPS certificate=%q key=%q", cfg.Cert, cfg.Key)
	}
	config.Certificates = []tls.Certificate{cert}

	ln, err := s.newListener(cfg.Bind)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return tls.NewListener(ln, config), nil
}
