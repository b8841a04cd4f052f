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

package sqlhkp

import (
	"strings"
	"time"

	"github.com/pkg/errors"

	"hkps/hkp/query"
	hkpstorage "hkps/hkp/storage"
)

var keyColumns = map[query.Field]string{
	query.FieldKeyID:          "k.keyid",
	query.FieldFingerprint:    "k.fingerprint",
	query.FieldAlgorithm:      "k.algorithm",
	query.FieldKeySize:        "k.keysize",
	query.FieldCreationDate:   "k.creation_date",
	query.FieldExpirationDate: "k.expiration_date",
	query.FieldRevoked:        "k.revoked",
	query.FieldExpired:        "k.expired",
}

var userIDColumns = map[query.Field]string{
	query.FieldUIDEmail: "u.email",
	query.FieldUIDName:  "u.name",
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// whereClause is a compiled query: a SQL condition on pgp_keys aliased as k,
// written with ? placeholders, and its arguments.
type whereClause struct {
	sql  string
	args []interface{}
}

// compile translates q into SQL. Columns and operators come only from
// fixed tables; every value is bound as a parameter.
func compile(q *query.Query) (*whereClause, error) {
	var keyConds, uidConds []string
	var keyArgs, uidArgs []interface{}
	for _, p := range q.Predicates {
		var col string
		var ok bool
		if p.Field.Identity() {
			col, ok = userIDColumns[p.Field]
		} else {
			col, ok = keyColumns[p.Field]
		}
		if !ok {
			return nil, errors.Errorf("unsupported search field %q", p.Field)
		}
		cond, arg, err := condition(col, p.Op, p.Value)
		if err != nil {
			return nil, errors.Wrapf(err, "field %q", p.Field)
		}
		if p.Field.Identity() {
			uidConds = append(uidConds, cond)
			uidArgs = append(uidArgs, arg)
		} else {
			keyConds = append(keyConds, cond)
			keyArgs = append(keyArgs, arg)
		}
	}
	if len(uidConds) > 0 || q.Joined(query.JoinUserIDs) {
		sub := "k.id IN (SELECT u.key_id FROM key_user_ids u"
		if len(uidConds) > 0 {
			sub += " WHERE " + strings.Join(uidConds, " AND ")
		}
		sub += ")"
		keyConds = append([]string{sub}, keyConds...)
		keyArgs = append(uidArgs, keyArgs...)
	}
	w := &whereClause{sql: "1 = 1", args: keyArgs}
	if len(keyConds) > 0 {
		w.sql = strings.Join(keyConds, " AND ")
	}
	return w, nil
}

func condition(col string, op query.Op, value interface{}) (string, interface{}, error) {
	arg, err := bindValue(value)
	if err != nil {
		return "", nil, err
	}
	switch op {
	case query.OpEqual:
		return col + " = ?", arg, nil
	case query.OpGreaterEqual:
		return col + " >= ?", arg, nil
	case query.OpLessEqual:
		return col + " <= ?", arg, nil
	case query.OpContains:
		s, ok := arg.(string)
		if !ok {
			return "", nil, errors.Errorf("substring match on %T", value)
		}
		return "LOWER(" + col + `) LIKE LOWER(?) ESCAPE '\'`, "%" + likeEscaper.Replace(s) + "%", nil
	case query.OpHasSuffix:
		s, ok := arg.(string)
		if !ok {
			return "", nil, errors.Errorf("suffix match on %T", value)
		}
		return col + ` LIKE ? ESCAPE '\'`, "%" + likeEscaper.Replace(s), nil
	}
	return "", nil, errors.Errorf("unsupported operator %q", op)
}

func bindValue(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case string, int, bool:
		return v, nil
	case time.Time:
		return timestamp(v), nil
	}
	return nil, errors.Errorf("unsupported value type %T", value)
}

func orderBy(order hkpstorage.Order) (string, error) {
	switch order {
	case hkpstorage.NewestFirst:
		return "k.creation_date DESC, k.id ASC", nil
	case hkpstorage.OldestFirst:
		return "k.creation_date ASC, k.id ASC", nil
	}
	return "", errors.Errorf("unsupported order %d", order)
}
