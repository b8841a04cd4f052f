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

package admin

import (
	"context"
	"crypto"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

const DefaultAdminClaim = "admin"

type adminClaims struct {
	Admin bool `json:"admin"`
	jwt.RegisteredClaims
}

// HMACVerifier accepts HS256 tokens signed with a shared secret. The
// boolean admin claim grants administrative access.
type HMACVerifier struct {
	secret []byte
}

func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

func (v *HMACVerifier) Verify(_ context.Context, token string) (*Principal, error) {
	var claims adminClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, errors.Wrap(err, "invalid token")
	}
	return &Principal{Subject: claims.Subject, Admin: claims.Admin}, nil
}

// IssueHMACToken signs an HS256 token for subject.
func IssueHMACToken(secret, subject string, admin bool, expires time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, adminClaims{
		Admin: admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	})
	s, err := token.SignedString([]byte(secret))
	return s, errors.WithStack(err)
}

type OIDCConfig struct {
	Issuer   string
	ClientID string
	// AdminClaim names a boolean claim granting admin access.
	AdminClaim string
	// AdminGroup, when set, grants admin access to members listed in the
	// groups claim.
	AdminGroup string
}

// OIDCVerifier accepts ID tokens from an OpenID Connect provider.
type OIDCVerifier struct {
	verifier   *oidc.IDTokenVerifier
	adminClaim string
	adminGroup string
}

// NewOIDCVerifier discovers the provider configuration and signing keys
// from the issuer.
func NewOIDCVerifier(ctx context.Context, cfg OIDCConfig) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot discover OIDC provider %q", cfg.Issuer)
	}
	return newOIDCVerifier(provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}), cfg), nil
}

// NewStaticOIDCVerifier verifies tokens against fixed public keys without
// contacting the issuer.
func NewStaticOIDCVerifier(cfg OIDCConfig, keys ...crypto.PublicKey) *OIDCVerifier {
	keySet := &oidc.StaticKeySet{PublicKeys: keys}
	return newOIDCVerifier(oidc.NewVerifier(cfg.Issuer, keySet, &oidc.Config{ClientID: cfg.ClientID}), cfg)
}

func newOIDCVerifier(verifier *oidc.IDTokenVerifier, cfg OIDCConfig) *OIDCVerifier {
	claim := cfg.AdminClaim
	if claim == "" {
		claim = DefaultAdminClaim
	}
	return &OIDCVerifier{verifier: verifier, adminClaim: claim, adminGroup: cfg.AdminGroup}
}

func (v *OIDCVerifier) Verify(ctx context.Context, token string) (*Principal, error) {
	idToken, err := v.verifier.Verify(ctx, token)
	if err != nil {
		return nil, errors.Wrap(err, "invalid ID token")
	}
	var claims map[string]interface{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, errors.Wrap(err, "cannot decode ID token claims")
	}
	p := &Principal{Subject: idToken.Subject}
	if admin, ok := claims[v.adminClaim].(bool); ok && admin {
		p.Admin = true
	}
	if groups, ok := claims["groups"].([]interface{}); ok && v.adminGroup != "" {
		for _, g := range groups {
			if g == v.adminGroup {
				p.Admin = true
			}
		}
	}
	return p, nil
}
