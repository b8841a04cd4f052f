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

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"hkps/hkp/format"
	"hkps/hkp/hkperrors"
	"hkps/hkp/jsonhkp"
)

// httpError answers with the status code. Client errors carry the error
// message; server errors only the status text.
func httpError(w http.ResponseWriter, statusCode int, err error) {
	if statusCode != http.StatusNotFound {
		log.Errorf("HTTP %d: %+v", statusCode, err)
	}
	msg := http.StatusText(statusCode)
	if statusCode < http.StatusInternalServerError {
		msg = err.Error()
	}
	http.Error(w, msg, statusCode)
}

// statusCode maps an error category to the HTTP status reported for it.
func statusCode(err error) int {
	switch {
	case hkperrors.IsInvalidKey(err), hkperrors.IsValidation(err):
		return http.StatusBadRequest
	case hkperrors.IsDuplicate(err):
		return http.StatusConflict
	case hkperrors.IsUnauthorized(err):
		return http.StatusUnauthorized
	case hkperrors.IsNotFound(err):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// publicMessage is the message a client sees for err. Internal failures are
// never described.
func publicMessage(err error) string {
	if statusCode(err) == http.StatusInternalServerError {
		return hkperrors.ErrInternal.Error()
	}
	return err.Error()
}

func writeOutput(w http.ResponseWriter, out *format.Output) {
	w.Header().Set("Content-Type", out.ContentType)
	w.WriteHeader(http.StatusOK)
	_, err := w.Write(out.Body)
	if err != nil {
		log.Errorf("error writing response: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", format.ContentTypeJSON)
	w.WriteHeader(statusCode)
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		log.Errorf("error writing response: %v", err)
	}
}

// writeResult answers an add or delete, as JSON or in the machine-readable
// form:
//
//	success: <message>
//	keyid: <keyid>
//
// or
//
//	error: <message>
func writeResult(w http.ResponseWriter, statusCode int, mr bool, result *jsonhkp.Result) {
	if !mr {
		writeJSON(w, statusCode, result)
		return
	}
	w.Header().Set("Content-Type", format.ContentTypeText)
	w.WriteHeader(statusCode)
	var err error
	if result.Success {
		_, err = fmt.Fprintf(w, "success: %s\nkeyid: %s", result.Message, result.KeyID)
	} else {
		_, err = fmt.Fprintf(w, "error: %s", result.Message)
	}
	if err != nil {
		log.Errorf("error writing response: %v", err)
	}
}

// writeError answers a failed add or delete.
func writeError(w http.ResponseWriter, mr bool, err error) {
	code := statusCode(err)
	if code != http.StatusNotFound && code != http.StatusInternalServerError {
		log.Infof("HTTP %d: %v", code, err)
	}
	result := &jsonhkp.Result{Message: publicMessage(err)}
	var verr *hkperrors.ValidationError
	if errors.As(err, &verr) {
		result.Errors = verr.Problems
	}
	var derr *hkperrors.DuplicateKeyError
	if errors.As(err, &derr) {
		result.KeyID = derr.KeyID
	}
	writeResult(w, code, mr, result)
}
