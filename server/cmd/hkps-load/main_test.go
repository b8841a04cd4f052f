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
	"strings"
	stdtesting "testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"hkps/hkp/hkperrors"
)

const block = armorBegin + "\n\nxjMEZbc=\n=abcd\n" + armorEnd

func TestSplitArmored(t *stdtesting.T) {
	data := "garbage\n" + block + "\nbetween\n" + block + "\n" + armorBegin + "\ntruncated"
	blocks := splitArmored(data)
	assert.Len(t, blocks, 2)
	for _, b := range blocks {
		assert.True(t, strings.HasPrefix(b, armorBegin))
		assert.True(t, strings.HasSuffix(b, armorEnd+"\n"))
	}
	assert.Empty(t, splitArmored("no keys here"))
}

func TestLoadCounts(t *stdtesting.T) {
	var lc loadCounts
	lc.record("a.asc", nil)
	lc.record("a.asc", &hkperrors.DuplicateKeyError{KeyID: "0123456789ABCDEF"})
	lc.record("a.asc", errors.New("bad armor"))
	assert.Equal(t, loadCounts{added: 1, duplicate: 1, rejected: 1}, lc)
}
