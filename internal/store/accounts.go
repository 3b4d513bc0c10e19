package store

import (
	"context"
	"database/sql"
	"time"
)

// UpsertAccount inserts a new account or, on conflict with an existing id,
// updates only its mutable fields (username, profile url, follower count,
// full-scan flag). id is the upstream platform's own numeric user key and
// is never reassigned by this call.
func (s *Store) UpsertAccount(ctx context.Context, a Account) error {
	now := formatTime(time.Now())
	return withRetry(ctx, "upsert_account", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO accounts (id, username, profile_url, followers_count, full_scan, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				username = excluded.username,
				profile_url = excluded.profile_url,
				followers_count = excluded.followers_count,
				full_scan = excluded.full_scan,
				updated_at = excluded.updated_at
		`, a.ID, a.Username, a.ProfileURL, a.FollowersCount, a.FullScan, now, now)
		return err
	})
}

// InsertAccountIfNotExists inserts a new account and reports whether it was
// actually inserted. An existing row with the same id is left untouched —
// this is the conflict-skip path used by the bulk seed endpoint, as
// opposed to UpsertAccount's conflict-update path used by discover's
// follower-count refresh.
func (s *Store) InsertAccountIfNotExists(ctx context.Context, a Account) (bool, error) {
	now := formatTime(time.Now())
	var inserted bool
	err := withRetry(ctx, "insert_account_if_not_exists", func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO accounts (id, username, profile_url, followers_count, full_scan, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`, a.ID, a.Username, a.ProfileURL, a.FollowersCount, a.FullScan, now, now)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		inserted = rows > 0
		return nil
	})
	return inserted, err
}

// ListAccounts returns every tracked account, ordered by username.
func (s *Store) ListAccounts(ctx context.Context) ([]Account, error) {
	var accounts []Account
	err := withRetry(ctx, "list_accounts", func() error {
		accounts = nil
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, username, profile_url, followers_count, full_scan, created_at, updated_at
			FROM accounts ORDER BY username
		`)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			a, err := scanAccount(rows)
			if err != nil {
				return err
			}
			accounts = append(accounts, a)
		}
		return rows.Err()
	})
	return accounts, err
}

// AccountWithCounts is the account list row shape backing the Admin API,
// joining in derived video and metric counts.
type AccountWithCounts struct {
	Account
	VideoCount  int64
	MetricCount int64
}

// ListAccountsWithCounts returns every account alongside the number of
// videos and metric samples attributed to it.
func (s *Store) ListAccountsWithCounts(ctx context.Context) ([]AccountWithCounts, error) {
	var out []AccountWithCounts
	err := withRetry(ctx, "list_accounts_with_counts", func() error {
		out = nil
		rows, err := s.db.QueryContext(ctx, `
			SELECT a.id, a.username, a.profile_url, a.followers_count, a.full_scan, a.created_at, a.updated_at,
				(SELECT COUNT(*) FROM videos v WHERE v.account_id = a.id) AS video_count,
				(SELECT COUNT(*) FROM metrics m JOIN videos v ON v.id = m.video_id WHERE v.account_id = a.id) AS metric_count
			FROM accounts a ORDER BY a.username
		`)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			var row AccountWithCounts
			var profileURL sql.NullString
			var createdAt, updatedAt string
			var fullScan int
			if err := rows.Scan(&row.ID, &row.Username, &profileURL, &row.FollowersCount, &fullScan,
				&createdAt, &updatedAt, &row.VideoCount, &row.MetricCount); err != nil {
				return err
			}
			row.ProfileURL = profileURL.String
			row.FullScan = fullScan != 0
			row.CreatedAt = parseTime(sql.NullString{String: createdAt, Valid: true})
			row.UpdatedAt = parseTime(sql.NullString{String: updatedAt, Valid: true})
			out = append(out, row)
		}
		return rows.Err()
	})
	return out, err
}

func scanAccount(row interface{ Scan(dest ...interface{}) error }) (Account, error) {
	var a Account
	var profileURL sql.NullString
	var createdAt, updatedAt string
	var fullScan int
	err := row.Scan(&a.ID, &a.Username, &profileURL, &a.FollowersCount, &fullScan, &createdAt, &updatedAt)
	if err != nil {
		return Account{}, err
	}
	a.ProfileURL = profileURL.String
	a.FullScan = fullScan != 0
	a.CreatedAt = parseTime(sql.NullString{String: createdAt, Valid: true})
	a.UpdatedAt = parseTime(sql.NullString{String: updatedAt, Valid: true})
	return a, nil
}
