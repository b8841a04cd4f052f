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

package main

import (
	"flag"
	"fmt"
	"time"

	"gopkg.in/errgo.v1"

	"hkps/hkp/admin"
	"hkps/server/cmd"
)

var (
	configFile = flag.String("config", "", "config file")
	subject    = flag.String("subject", "", "token subject")
	ttl        = flag.Duration("ttl", time.Hour, "token lifetime")
	isAdmin    = flag.Bool("admin", true, "grant the admin claim")
)

// hkps-token issues an HS256 delete token signed with the configured
// jwtSecret.
func main() {
	flag.Parse()

	settings, err := cmd.LoadSettings(*configFile)
	if err != nil {
		cmd.Die(err)
	}
	if settings.Admin.JWTSecret == "" {
		cmd.Die(errgo.New("admin.jwtSecret is not configured"))
	}
	if *subject == "" {
		cmd.Die(errgo.New("missing -subject"))
	}

	token, err := admin.IssueHMACToken(settings.Admin.JWTSecret, *subject, *isAdmin, time.Now().Add(*ttl))
	if err != nil {
		cmd.Die(errgo.Mask(err))
	}
	fmt.Println(token)
	cmd.Die(nil)
}
