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
	"net/http"

	"github.com/bugsnag/bugsnag-go"
	"github.com/getsentry/raven-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	airbrake "github.com/tobi/airbrake-go"
	"gopkg.in/errgo.v1"
)

var reportLevels = []log.Level{log.PanicLevel, log.FatalLevel, log.ErrorLevel}

// entryError recovers the error carried by a log entry, or makes one from
// its message.
func entryError(entry *log.Entry) error {
	if err, ok := entry.Data[log.ErrorKey].(error); ok {
		return err
	}
	return errors.New(entry.Message)
}

func entryTags(entry *log.Entry) map[string]string {
	tags := map[string]string{"level": entry.Level.String()}
	for k, v := range entry.Data {
		if s, ok := v.(string); ok {
			tags[k] = s
		}
	}
	return tags
}

type sentryHook struct {
	client *raven.Client
}

func (h *sentryHook) Levels() []log.Level { return reportLevels }

func (h *sentryHook) Fire(entry *log.Entry) error {
	h.client.CaptureError(entryError(entry), entryTags(entry))
	return nil
}

type bugsnagHook struct {
	notifier *bugsnag.Notifier
}

func (h *bugsnagHook) Levels() []log.Level { return reportLevels }

func (h *bugsnagHook) Fire(entry *log.Entry) error {
	return h.notifier.Notify(entryError(entry), bugsnag.MetaData{"log": toMetaData(entry.Data)})
}

func toMetaData(fields log.Fields) map[string]interface{} {
	md := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		md[k] = v
	}
	return md
}

type airbrakeHook struct{}

func (airbrakeHook) Levels() []log.Level { return reportLevels }

func (airbrakeHook) Fire(entry *log.Entry) error {
	if req, ok := entry.Data["request"].(*http.Request); ok {
		return airbrake.Error(entryError(entry), req)
	}
	return airbrake.Notify(entryError(entry))
}

// reportingHooks returns a logrus hook for each error reporting service
// configured.
func reportingHooks(settings *Settings) ([]log.Hook, error) {
	var hooks []log.Hook
	cfg := settings.Reporting
	if cfg.SentryDSN != "" {
		client, err := raven.New(cfg.SentryDSN)
		if err != nil {
			return nil, errgo.Notef(err, "invalid sentry DSN")
		}
		client.SetEnvironment(cfg.Environment)
		client.SetRelease(settings.Version)
		hooks = append(hooks, &sentryHook{client: client})
	}
	if cfg.BugsnagAPIKey != "" {
		notifier := bugsnag.New(bugsnag.Configuration{
			APIKey:       cfg.BugsnagAPIKey,
			ReleaseStage: cfg.Environment,
			AppVersion:   settings.Version,
			Hostname:     settings.Hostname,
		})
		hooks = append(hooks, &bugsnagHook{notifier: notifier})
	}
	if cfg.AirbrakeAPIKey != "" {
		airbrake.ApiKey = cfg.AirbrakeAPIKey
		airbrake.Environment = cfg.Environment
		if cfg.AirbrakeEndpoint != "" {
			airbrake.Endpoint = cfg.AirbrakeEndpoint
		}
		hooks = append(hooks, airbrakeHook{})
	}
	return hooks, nil
}
