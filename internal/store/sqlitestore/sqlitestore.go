package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"perch/internal/model"
	"perch/internal/store"
)

// DB is a SQLite-backed storage collaborator. Posts and profiles are keyed
// by ID with secondary date and name indices; favorites and deletes land in
// an event log; membership sets and config are small KV tables.
type DB struct{ sql *sql.DB }

func Open(path string) (*DB, error) {
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := d.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;`); err != nil {
		return nil, err
	}
	db := &DB{sql: d}
	if err := db.migrate(); err != nil {
		_ = d.Close()
		return nil, err
	}
	return db, nil
}

func (d *DB) Close() error { return d.sql.Close() }

func (d *DB) migrate() error {
	_, err := d.sql.Exec(`
	CREATE TABLE IF NOT EXISTS posts (
	  id TEXT PRIMARY KEY,
	  author_id TEXT,
	  ts_ms TEXT,
	  deleted INTEGER NOT NULL DEFAULT 0,
	  body TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_posts_ts ON posts(ts_ms);
	CREATE INDEX IF NOT EXISTS idx_posts_author ON posts(author_id);
	CREATE TABLE IF NOT EXISTS profiles (
	  id TEXT PRIMARY KEY,
	  name TEXT,
	  handle TEXT,
	  ts_ms TEXT,
	  body TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_profiles_handle ON profiles(handle);
	CREATE TABLE IF NOT EXISTS events (
	  id INTEGER PRIMARY KEY AUTOINCREMENT,
	  type TEXT NOT NULL,
	  post_id TEXT,
	  ts_ms TEXT,
	  payload TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_events_post ON events(post_id);
	CREATE TABLE IF NOT EXISTS user_sets (
	  kind TEXT NOT NULL,
	  member_id TEXT NOT NULL,
	  PRIMARY KEY(kind, member_id)
	);
	CREATE TABLE IF NOT EXISTS config (
	  key TEXT PRIMARY KEY,
	  value TEXT
	);
	`)
	return err
}

// WriteQueue applies one record batch in a single transaction.
func (d *DB) WriteQueue(ctx context.Context, recs []model.Record) (store.Counts, error) {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()
	counts := store.Counts{}
	for _, r := range recs {
		changed, err := d.applyRecord(ctx, tx, r)
		if err != nil {
			return nil, fmt.Errorf("apply %s: %w", r.Type, err)
		}
		if changed {
			counts[r.Type]++
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return counts, nil
}

func (d *DB) applyRecord(ctx context.Context, tx *sql.Tx, r model.Record) (bool, error) {
	switch r.Type {
	case model.RecUserTweet, model.RecOtherTweet:
		p, ok := r.Data.(*model.Post)
		if !ok {
			return false, fmt.Errorf("bad post payload %T", r.Data)
		}
		body, err := json.Marshal(p)
		if err != nil {
			return false, err
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO posts(id, author_id, ts_ms, body) VALUES(?,?,?,?)
			ON CONFLICT(id) DO UPDATE SET body=excluded.body, ts_ms=excluded.ts_ms
			WHERE excluded.ts_ms <> '' AND (posts.ts_ms = '' OR posts.ts_ms IS NULL)`,
			p.ID, p.AuthorID(), p.TimestampMS, string(body))
		if err != nil {
			return false, err
		}
		n, _ := res.RowsAffected()
		return n > 0, nil

	case model.RecUser:
		prof, ok := r.Data.(model.Profile)
		if !ok {
			return false, fmt.Errorf("bad profile payload %T", r.Data)
		}
		body, err := json.Marshal(prof)
		if err != nil {
			return false, err
		}
		name, _ := prof["name"].(string)
		handle, _ := prof["screen_name"].(string)
		_, err = tx.ExecContext(ctx, `
			INSERT INTO profiles(id, name, handle, body) VALUES(?,?,?,?)
			ON CONFLICT(id) DO UPDATE SET name=excluded.name, handle=excluded.handle, body=excluded.body`,
			prof.ID(), name, handle, string(body))
		return err == nil, err

	case model.RecFavorite, model.RecUnfavorite:
		f, ok := r.Data.(model.FavoriteData)
		if !ok {
			return false, fmt.Errorf("bad favorite payload %T", r.Data)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO events(type, post_id, ts_ms) VALUES(?,?,?)`,
			r.Type, f.PostID, f.TimestampMS)
		return err == nil, err

	case model.RecDelete:
		del, ok := r.Data.(model.DeleteData)
		if !ok {
			return false, fmt.Errorf("bad delete payload %T", r.Data)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE posts SET deleted=1 WHERE id=?`, del.PostID); err != nil {
			return false, err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO events(type, post_id, ts_ms) VALUES(?,?,?)`,
			r.Type, del.PostID, del.TimestampMS)
		return err == nil, err

	case model.RecUserSet:
		us, ok := r.Data.(model.UserSetData)
		if !ok {
			return false, fmt.Errorf("bad user_set payload %T", r.Data)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM user_sets WHERE kind=?`, string(us.Kind)); err != nil {
			return false, err
		}
		for _, id := range us.IDs {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO user_sets(kind, member_id) VALUES(?,?)`,
				string(us.Kind), id); err != nil {
				return false, err
			}
		}
		return true, nil

	case model.RecConfig:
		kv, ok := r.Data.(map[string]string)
		if !ok {
			return false, fmt.Errorf("bad config payload %T", r.Data)
		}
		for k, v := range kv {
			if err := setConfigTx(ctx, tx, k, v); err != nil {
				return false, err
			}
		}
		return true, nil

	default:
		// Log-type records never reach storage; anything else is a data
		// error confined to this record.
		return false, fmt.Errorf("unknown record type %q", r.Type)
	}
}

func (d *DB) GetUserSet(ctx context.Context, kind model.SetKind) ([]string, error) {
	rows, err := d.sql.QueryContext(ctx,
		`SELECT member_id FROM user_sets WHERE kind=? ORDER BY member_id`, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (d *DB) GetConfig(ctx context.Context, key string) (string, error) {
	row := d.sql.QueryRowContext(ctx, `SELECT value FROM config WHERE key=?`, key)
	var v sql.NullString
	if err := row.Scan(&v); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return v.String, nil
}

func (d *DB) SetConfig(ctx context.Context, key, value string) error {
	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO config(key, value) VALUES(?,?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value)
	return err
}

func setConfigTx(ctx context.Context, tx *sql.Tx, key, value string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO config(key, value) VALUES(?,?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value)
	return err
}

func (d *DB) HasPost(ctx context.Context, id string) (bool, error) {
	row := d.sql.QueryRowContext(ctx, `SELECT 1 FROM posts WHERE id=?`, id)
	var one int
	if err := row.Scan(&one); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
