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
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	hkpstorage "hkps/hkp/storage"
)

// aggregateScope identifies the server-wide counter row. Key rows use the
// key record ID as their scope.
const aggregateScope = "*"

const dayFormat = "2006-01-02"

const upsertCounterSQL = `INSERT INTO key_stats (id, scope, key_id, day, lookup_count, download_count)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (scope, day) DO UPDATE SET
lookup_count = key_stats.lookup_count + excluded.lookup_count,
download_count = key_stats.download_count + excluded.download_count`

func (st *storage) UpsertCounter(ctx context.Context, keyID *string, day time.Time, lookupDelta, downloadDelta int) error {
	scope := aggregateScope
	if keyID != nil {
		scope = *keyID
	}
	_, err := st.db.ExecContext(ctx, st.db.Rebind(upsertCounterSQL),
		uuid.NewString(), scope, keyID, day.UTC().Format(dayFormat), lookupDelta, downloadDelta)
	if err != nil {
		return errors.Wrapf(err, "cannot update counter %q", scope)
	}
	return nil
}

func (st *storage) KeyUsage(ctx context.Context, keyID string, since time.Time) (*hkpstorage.Usage, error) {
	return st.usage(ctx, keyID, since)
}

func (st *storage) usage(ctx context.Context, scope string, since time.Time) (*hkpstorage.Usage, error) {
	var usage hkpstorage.Usage
	err := st.db.GetContext(ctx, &usage, st.db.Rebind(`SELECT
COALESCE(SUM(lookup_count), 0) AS lookups,
COALESCE(SUM(download_count), 0) AS downloads
FROM key_stats WHERE scope = ? AND day >= ?`), scope, since.UTC().Format(dayFormat))
	if err != nil {
		return nil, errors.Wrapf(err, "cannot sum counters %q", scope)
	}
	return &usage, nil
}

const summarySQL = `SELECT
COUNT(*) AS total,
COALESCE(SUM(CASE WHEN revoked THEN 1 ELSE 0 END), 0) AS revoked,
COALESCE(SUM(CASE WHEN expired AND NOT revoked THEN 1 ELSE 0 END), 0) AS expired,
COALESCE(SUM(CASE WHEN keysize < 2048 THEN 1 ELSE 0 END), 0) AS weak,
COALESCE(SUM(CASE WHEN keysize >= 2048 AND keysize < 4096 THEN 1 ELSE 0 END), 0) AS medium,
COALESCE(SUM(CASE WHEN keysize >= 4096 THEN 1 ELSE 0 END), 0) AS strong,
COALESCE(SUM(CASE WHEN upload_date >= ? THEN 1 ELSE 0 END), 0) AS recent_uploads,
COALESCE(SUM(CASE WHEN expiration_date IS NOT NULL AND expiration_date >= ? AND expiration_date <= ?
    AND NOT revoked AND NOT expired THEN 1 ELSE 0 END), 0) AS expiring_soon
FROM pgp_keys`

type summaryRow struct {
	Total         int `db:"total"`
	Revoked       int `db:"revoked"`
	Expired       int `db:"expired"`
	Weak          int `db:"weak"`
	Medium        int `db:"medium"`
	Strong        int `db:"strong"`
	RecentUploads int `db:"recent_uploads"`
	ExpiringSoon  int `db:"expiring_soon"`
}

type algorithmCount struct {
	Algorithm string `db:"algorithm"`
	Count     int    `db:"n"`
}

func (st *storage) Summary(ctx context.Context, now time.Time) (*hkpstorage.Summary, error) {
	now = timestamp(now)
	since := now.Add(-hkpstorage.StatsWindow)
	until := now.Add(hkpstorage.StatsWindow)

	var row summaryRow
	err := st.db.GetContext(ctx, &row, st.db.Rebind(summarySQL), since, now, until)
	if err != nil {
		return nil, errors.Wrap(err, "cannot summarize keys")
	}

	var counts []algorithmCount
	err = st.db.SelectContext(ctx, &counts,
		"SELECT algorithm, COUNT(*) AS n FROM pgp_keys GROUP BY algorithm ORDER BY algorithm")
	if err != nil {
		return nil, errors.Wrap(err, "cannot count algorithms")
	}

	usage, err := st.usage(ctx, aggregateScope, since)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	summary := &hkpstorage.Summary{
		Total:         row.Total,
		ByAlgorithm:   make(map[string]int, len(counts)),
		Active:        row.Total - row.Revoked - row.Expired,
		Revoked:       row.Revoked,
		Expired:       row.Expired,
		Weak:          row.Weak,
		Medium:        row.Medium,
		Strong:        row.Strong,
		RecentUploads: row.RecentUploads,
		ExpiringSoon:  row.ExpiringSoon,
		Usage:         *usage,
	}
	for _, ac := range counts {
		summary.ByAlgorithm[ac.Algorithm] = ac.Count
	}
	return summary, nil
}
