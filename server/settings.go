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
	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v9"
	"github.com/go-playground/validator/v10"
	"gopkg.in/errgo.v1"

	"hkps/metrics"
)

const (
	DefaultHKPBind = ":11371"
)

type HKPConfig struct {
	Bind string `toml:"bind" env:"BIND" validate:"required"`
}

type HKPSConfig struct {
	Bind string `toml:"bind" env:"BIND" validate:"required"`
	Cert string `toml:"cert" env:"CERT" validate:"required"`
	Key  string `toml:"key" env:"KEY" validate:"required"`
}

const (
	DefaultDBDriver = "postgres"
	DefaultDBDSN    = "dbname=hkps host=/var/run/postgresql sslmode=disable"
)

type DBConfig struct {
	Driver string `toml:"driver" env:"DRIVER" validate:"oneof=postgres pgx sqlite3"`
	DSN    string `toml:"dsn" env:"DSN" validate:"required"`
}

type OIDCConfig struct {
	Issuer     string `toml:"issuer" env:"ISSUER" validate:"omitempty,url"`
	ClientID   string `toml:"clientID" env:"CLIENT_ID" validate:"required_with=Issuer"`
	AdminClaim string `toml:"adminClaim" env:"ADMIN_CLAIM"`
	AdminGroup string `toml:"adminGroup" env:"ADMIN_GROUP"`
}

// AdminConfig selects how delete tokens are verified. With neither a JWT
// secret nor an OIDC issuer, deletion is disabled.
type AdminConfig struct {
	JWTSecret string     `toml:"jwtSecret" env:"JWT_SECRET"`
	OIDC      OIDCConfig `toml:"oidc" envPrefix:"OIDC_"`
}

const (
	DefaultStatsRefreshMinutes = 5
	DefaultStatsCacheSize      = 16
)

type StatsConfig struct {
	RefreshMinutes int `toml:"refreshMinutes" env:"REFRESH_MINUTES" validate:"min=1"`
	CacheSize      int `toml:"cacheSize" env:"CACHE_SIZE" validate:"min=1"`
}

// ReportingConfig configures where error-level log entries are reported.
type ReportingConfig struct {
	SentryDSN        string `toml:"sentryDSN" env:"SENTRY_DSN"`
	BugsnagAPIKey    string `toml:"bugsnagAPIKey" env:"BUGSNAG_API_KEY"`
	AirbrakeAPIKey   string `toml:"airbrakeAPIKey" env:"AIRBRAKE_API_KEY"`
	AirbrakeEndpoint string `toml:"airbrakeEndpoint" env:"AIRBRAKE_ENDPOINT"`
	Environment      string `toml:"environment" env:"ENVIRONMENT"`
}

const DefaultMaxKeyLength = 1048576

type OpenPGPConfig struct {
	MaxKeyLength int `toml:"maxKeyLength" env:"MAX_KEY_LENGTH" validate:"min=1"`
}

type Settings struct {
	HKP  HKPConfig   `toml:"hkp" envPrefix:"HKP_"`
	HKPS *HKPSConfig `toml:"hkps" envPrefix:"HKPS_"`

	DB        DBConfig        `toml:"db" envPrefix:"DB_"`
	Admin     AdminConfig     `toml:"admin" envPrefix:"ADMIN_"`
	Stats     StatsConfig     `toml:"stats" envPrefix:"STATS_"`
	Reporting ReportingConfig `toml:"reporting" envPrefix:"REPORTING_"`
	OpenPGP   OpenPGPConfig   `toml:"openpgp" envPrefix:"OPENPGP_"`

	Metrics *metrics.Settings `toml:"metrics" envPrefix:"METRICS_"`

	LogFile  string `toml:"logfile" env:"LOGFILE"`
	LogLevel string `toml:"loglevel" env:"LOGLEVEL"`

	Contact  string `toml:"contact" env:"CONTACT"`
	Hostname string `toml:"hostname" env:"HOSTNAME"`
	Software string `toml:"software" env:"SOFTWARE"`
	Version  string `toml:"version" env:"VERSION"`
}

const (
	DefaultLogLevel = "INFO"
	// EnvPrefix prefixes environment variables overriding settings,
	// e.g. HKPS_DB_DSN.
	EnvPrefix = "HKPS_"
)

func DefaultSettings() Settings {
	return Settings{
		HKP: HKPConfig{
			Bind: DefaultHKPBind,
		},
		DB: DBConfig{
			Driver: DefaultDBDriver,
			DSN:    DefaultDBDSN,
		},
		Stats: StatsConfig{
			RefreshMinutes: DefaultStatsRefreshMinutes,
			CacheSize:      DefaultStatsCacheSize,
		},
		OpenPGP: OpenPGPConfig{
			MaxKeyLength: DefaultMaxKeyLength,
		},
		Metrics:  metrics.DefaultSettings(),
		LogLevel: DefaultLogLevel,
		Software: "hkps",
		Version:  "~unreleased",
	}
}

// ParseSettings decodes a TOML [hkps] document over the defaults, then
// applies HKPS_ environment overrides.
func ParseSettings(data string) (*Settings, error) {
	return parseSettings(data, nil)
}

func parseSettings(data string, environ map[string]string) (*Settings, error) {
	var doc struct {
		HKPS Settings `toml:"hkps"`
	}
	doc.HKPS = DefaultSettings()
	_, err := toml.Decode(data, &doc)
	if err != nil {
		return nil, errgo.Mask(err)
	}

	err = env.ParseWithOptions(&doc.HKPS, env.Options{
		Prefix:      EnvPrefix,
		Environment: environ,
	})
	if err != nil {
		return nil, errgo.Notef(err, "invalid environment settings")
	}

	err = validator.New().Struct(&doc.HKPS)
	if err != nil {
		return nil, errgo.Notef(err, "invalid settings")
	}
	return &doc.HKPS, nil
}
