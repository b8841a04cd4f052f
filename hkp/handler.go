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
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"hkps/hkp/admin"
	"hkps/hkp/format"
	"hkps/hkp/hkperrors"
	"hkps/hkp/ingest"
	"hkps/hkp/jsonhkp"
	"hkps/hkp/query"
	"hkps/hkp/stats"
	"hkps/hkp/storage"
	"hkps/openpgp"
)

const deletedMessage = "Key deleted successfully"

type Handler struct {
	storage  storage.Storage
	engine   openpgp.Engine
	verifier admin.Verifier
	now      func() time.Time

	pipeline *ingest.Pipeline
	recorder *stats.Recorder
	reporter *stats.Reporter
	gate     *admin.Gate

	lookupFunc func(op Operation, found int)
}

type HandlerOption func(h *Handler) error

// AdminVerifier sets the verifier for delete tokens. Without one every
// delete is refused.
func AdminVerifier(v admin.Verifier) HandlerOption {
	return func(h *Handler) error {
		h.verifier = v
		return nil
	}
}

func StatsReporter(r *stats.Reporter) HandlerOption {
	return func(h *Handler) error {
		h.reporter = r
		return nil
	}
}

func Clock(now func() time.Time) HandlerOption {
	return func(h *Handler) error {
		h.now = now
		return nil
	}
}

// LookupFunc is called after each key lookup with the number of keys
// returned.
func LookupFunc(f func(op Operation, found int)) HandlerOption {
	return func(h *Handler) error {
		h.lookupFunc = f
		return nil
	}
}

func NewHandler(st storage.Storage, engine openpgp.Engine, options ...HandlerOption) (*Handler, error) {
	h := &Handler{
		storage:  st,
		engine:   engine,
		verifier: admin.Verifiers{},
		now:      time.Now,
	}
	for _, option := range options {
		err := option(h)
		if err != nil {
			return nil, errors.WithStack(err)
		}
	}
	if h.reporter == nil {
		r, err := stats.NewReporter(st, stats.ServerInfo{}, stats.Clock(h.now))
		if err != nil {
			return nil, errors.WithStack(err)
		}
		h.reporter = r
	}
	h.pipeline = ingest.New(engine, st, ingest.Clock(h.now))
	h.recorder = stats.NewRecorder(st, stats.Clock(h.now))
	h.gate = admin.NewGate(h.verifier, st)
	return h, nil
}

func (h *Handler) Register(r *httprouter.Router) {
	r.GET("/pks/lookup", h.Lookup)
	r.POST("/pks/add", h.Add)
	r.POST("/pks/delete", h.Delete)
	r.DELETE("/pks/delete/:keyid", h.Delete)
	r.GET("/pks/stats", h.Stats)
	r.GET("/pks/stats/:keyid", h.KeyStats)
}

func (h *Handler) Lookup(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	l, err := ParseLookup(r)
	if err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	if l.Op == OperationStats {
		h.stats(w, r, l.MR)
		return
	}

	ctx := r.Context()
	term := query.Normalize(l.Search)
	q := query.Build(term, l.Filters)
	keys, total, err := h.storage.Search(ctx, q, l.Page, storage.NewestFirst)
	if errors.Is(err, storage.ErrInvalidPage) {
		httpError(w, http.StatusBadRequest, err)
		return
	} else if err != nil {
		httpError(w, http.StatusInternalServerError, errors.WithStack(err))
		return
	}
	h.recorder.RecordLookup(ctx, l.FormatOp(), keys)
	if h.lookupFunc != nil {
		h.lookupFunc(l.Op, len(keys))
	}
	log.WithFields(log.Fields{
		"op":     l.Op,
		"kind":   term.Kind,
		"found":  len(keys),
		"total":  total,
		"offset": l.Page.Offset,
	}).Info("lookup")

	if l.Op == OperationGet && len(keys) == 0 {
		httpError(w, http.StatusNotFound, hkperrors.ErrNotFound)
		return
	}
	out, err := format.Render(keys, format.Request{
		Op:          l.FormatOp(),
		MR:          l.MR,
		Fingerprint: l.Fingerprint,
		Total:       total,
		Offset:      l.Page.Offset,
		Limit:       l.Page.Limit,
	})
	if err != nil {
		httpError(w, http.StatusInternalServerError, errors.WithStack(err))
		return
	}
	writeOutput(w, out)
}

func (h *Handler) Add(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	add, err := ParseAdd(r)
	if err != nil {
		writeResult(w, http.StatusBadRequest, false, &jsonhkp.Result{Message: err.Error()})
		return
	}

	result, err := h.pipeline.Add(r.Context(), add.Keytext)
	if err != nil {
		writeError(w, add.MR, err)
		return
	}
	writeResult(w, http.StatusOK, add.MR, &jsonhkp.Result{
		Success: true,
		Message: result.Message,
		KeyID:   result.KeyID,
	})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	del, err := ParseDelete(r, ps)
	if err != nil {
		writeResult(w, http.StatusBadRequest, false, &jsonhkp.Result{Message: err.Error()})
		return
	}

	err = h.gate.Delete(r.Context(), del.KeyID, del.Token)
	if hkperrors.IsUnauthorized(err) {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	if err != nil {
		if statusCode(err) == http.StatusInternalServerError {
			log.Errorf("delete %q: %+v", del.KeyID, err)
		}
		writeError(w, false, err)
		return
	}
	writeResult(w, http.StatusOK, false, &jsonhkp.Result{
		Success: true,
		Message: deletedMessage,
	})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	st, err := ParseStats(r)
	if err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	h.stats(w, r, st.MR)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request, mr bool) {
	report := h.reporter.Report(r.Context())
	etag, err := report.ETag()
	if err != nil {
		httpError(w, http.StatusInternalServerError, err)
		return
	}
	etag = `"` + etag + `"`
	w.Header().Set("ETag", etag)
	if match := r.Header.Get("If-None-Match"); match != "" && strings.Contains(match, etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	if mr {
		writeOutput(w, &format.Output{ContentType: format.ContentTypeText, Body: report.MR()})
		return
	}
	body, err := report.JSON()
	if err != nil {
		httpError(w, http.StatusInternalServerError, err)
		return
	}
	writeOutput(w, &format.Output{ContentType: format.ContentTypeJSON, Body: body})
}

func (h *Handler) KeyStats(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	keyid := strings.ToUpper(strings.TrimSpace(ps.ByName("keyid")))
	key, err := h.storage.FindByKeyIDOrFingerprint(r.Context(), keyid)
	if storage.IsNotFound(err) {
		httpError(w, http.StatusNotFound, hkperrors.ErrNotFound)
		return
	} else if err != nil {
		httpError(w, http.StatusInternalServerError, errors.WithStack(err))
		return
	}
	usage, err := h.reporter.KeyUsage(r.Context(), key)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}
