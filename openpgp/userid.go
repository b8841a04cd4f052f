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

package openpgp

import (
	"strings"
)

// ParseUserID splits a user ID of the form "Name (Comment) <email>" into its
// parts. Missing parts are returned empty; the email is lower-cased.
func ParseUserID(uid string) (name, comment, email string) {
	s := strings.TrimSpace(uid)
	if i := strings.LastIndex(s, "<"); i >= 0 {
		if j := strings.Index(s[i:], ">"); j > 0 {
			email = strings.ToLower(strings.TrimSpace(s[i+1 : i+j]))
			s = strings.TrimSpace(s[:i] + s[i+j+1:])
		}
	} else if strings.Contains(s, "@") && !strings.ContainsAny(s, " ()") {
		return "", "", strings.ToLower(s)
	}
	if i := strings.Index(s, "("); i >= 0 {
		if j := strings.LastIndex(s, ")"); j > i {
			comment = strings.TrimSpace(s[i+1 : j])
			s = strings.TrimSpace(s[:i] + s[j+1:])
		}
	}
	name = s
	return name, comment, email
}
