// Package store persists collected posts in PostgreSQL or SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/blackmichael/bluesky-importer/internal/batch"
	"github.com/blackmichael/bluesky-importer/internal/domain"
	"github.com/blackmichael/bluesky-importer/internal/metrics"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// ErrUnknownIdentifier is returned when a table or column name is not part
// of the storage schema.
var ErrUnknownIdentifier = errors.New("unknown table or column")

// Store implements domain.PostRepository and domain.CursorRepository.
type Store struct {
	db      *sql.DB
	dialect dialect
	logger  *slog.Logger
}

var (
	_ domain.PostRepository   = (*Store)(nil)
	_ domain.CursorRepository = (*Store)(nil)
)

// Open connects to the database at databaseURL, verifies the connection, and
// returns a new Store. postgres:// and postgresql:// URLs use PostgreSQL;
// sqlite://path, file: URIs and :memory: use SQLite. The caller should call
// Close when the store is no longer needed.
func Open(ctx context.Context, databaseURL string, logger *slog.Logger) (*Store, error) {
	d, dsn, err := parseDatabaseURL(databaseURL)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if d.name == sqliteDialect.name {
		// SQLite allows one writer, and an in-memory database only exists
		// on the connection that created it.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db, dialect: d, logger: logger}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Dialect returns the backend name, "postgres" or "sqlite".
func (s *Store) Dialect() string {
	return s.dialect.name
}

// Migrate creates the post tables and the cursors table if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range createStatements(s.dialect) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Persist inserts every row of b into tableName inside one transaction. Each
// row runs under its own savepoint so a failing row is rolled back alone and
// the rest of the batch still commits. Rows whose conflictKey already exists
// are skipped.
func (s *Store) Persist(ctx context.Context, b *batch.Batch, tableName, conflictKey string) (domain.PersistResult, error) {
	var res domain.PersistResult
	if b == nil || b.Len() == 0 {
		s.logger.Info("nothing to insert", "table", tableName)
		return res, nil
	}

	t, ok := lookupTable(tableName)
	if !ok {
		return res, fmt.Errorf("%w: table %q", ErrUnknownIdentifier, tableName)
	}
	if conflictKey != t.conflictKey {
		return res, fmt.Errorf("%w: %q is not a unique key of %s", ErrUnknownIdentifier, conflictKey, tableName)
	}

	columns := b.Columns()
	for _, c := range columns {
		if !t.hasColumn(c) {
			return res, fmt.Errorf("%w: column %q in %s", ErrUnknownIdentifier, c, tableName)
		}
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING",
		t.name, strings.Join(columns, ", "), s.dialect.placeholders(1, len(columns)), t.conflictKey)

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return res, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return res, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := 0; i < b.Len(); i++ {
		res.Attempted++

		if _, err := tx.ExecContext(ctx, "SAVEPOINT persist_row"); err != nil {
			return res, fmt.Errorf("savepoint: %w", err)
		}

		result, execErr := stmt.ExecContext(ctx, b.Values(i)...)
		if execErr != nil {
			if _, err := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT persist_row"); err != nil {
				return res, fmt.Errorf("rollback to savepoint: %w", err)
			}
			if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT persist_row"); err != nil {
				return res, fmt.Errorf("release savepoint: %w", err)
			}
			res.Failed++
			metrics.IncSkipped("insert")
			key, _ := b.Value(i, t.conflictKey)
			s.logger.Error("failed to insert row", "table", t.name, "row", i, t.conflictKey, key, "error", execErr)
			continue
		}

		if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT persist_row"); err != nil {
			return res, fmt.Errorf("release savepoint: %w", err)
		}

		if n, err := result.RowsAffected(); err == nil && n > 0 {
			res.Inserted++
		} else {
			res.Conflicts++
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.PersistResult{}, fmt.Errorf("commit transaction: %w", err)
	}

	return res, nil
}

// ListPosts retrieves posts from tableName paginated by cursor, newest
// collection first. The cursor format is "collectedAt::post_uri" (unix
// micros::uri).
func (s *Store) ListPosts(ctx context.Context, tableName string, limit int, cursor string) ([]domain.StoredPost, string, error) {
	t, ok := lookupTable(tableName)
	if !ok {
		return nil, "", fmt.Errorf("%w: table %q", ErrUnknownIdentifier, tableName)
	}

	orNull := func(col string) string {
		if col == "" {
			return "NULL"
		}
		return col
	}
	selectList := strings.Join([]string{
		"post_uri", orNull(t.urlColumn), orNull(t.authorColumn), orNull(t.authorDIDColumn),
		orNull(t.textColumn), orNull(t.createdColumn),
		"like_count", "repost_count", "reply_count", "collected_at",
	}, ", ")

	var (
		rows *sql.Rows
		err  error
	)

	if cursor != "" {
		cursorTime, cursorURI, parseErr := parseCursor(cursor)
		if parseErr != nil {
			return nil, "", fmt.Errorf("%w: invalid cursor '%s': %v", domain.ErrInvalidRequest, cursor, parseErr)
		}

		d := s.dialect
		rows, err = s.db.QueryContext(ctx, fmt.Sprintf(`
			SELECT %s
			FROM %s
			WHERE collected_at < %s OR (collected_at = %s AND post_uri < %s)
			ORDER BY collected_at DESC, post_uri DESC
			LIMIT %s`,
			selectList, t.name, d.placeholder(1), d.placeholder(2), d.placeholder(3), d.placeholder(4)),
			cursorTime, cursorTime, cursorURI, limit,
		)
		if err != nil {
			return nil, "", fmt.Errorf("query posts with cursor (time=%v, uri=%s, limit=%d): %w", cursorTime, cursorURI, limit, err)
		}
	} else {
		rows, err = s.db.QueryContext(ctx, fmt.Sprintf(`
			SELECT %s
			FROM %s
			ORDER BY collected_at DESC, post_uri DESC
			LIMIT %s`,
			selectList, t.name, s.dialect.placeholder(1)),
			limit,
		)
		if err != nil {
			return nil, "", fmt.Errorf("query posts without cursor (limit=%d): %w", limit, err)
		}
	}
	defer rows.Close()

	var posts []domain.StoredPost
	for rows.Next() {
		var (
			p                            domain.StoredPost
			url, author, authorDID, body sql.NullString
			createdAt                    sql.NullTime
		)
		err := rows.Scan(
			&p.URI,
			&url,
			&author,
			&authorDID,
			&body,
			&createdAt,
			&p.LikeCount,
			&p.RepostCount,
			&p.ReplyCount,
			&p.CollectedAt,
		)
		if err != nil {
			return nil, "", fmt.Errorf("scan post: %w", err)
		}
		p.URL = url.String
		p.Author = author.String
		p.AuthorDID = authorDID.String
		p.Text = body.String
		if createdAt.Valid {
			c := createdAt.Time.UTC()
			p.CreatedAt = &c
		}
		p.CollectedAt = p.CollectedAt.UTC()
		posts = append(posts, p)
	}

	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("iterate posts: %w", err)
	}

	var nextCursor string
	if len(posts) == limit {
		last := posts[len(posts)-1]
		nextCursor = fmt.Sprintf("%d::%s", last.CollectedAt.UnixMicro(), last.URI)
	}

	return posts, nextCursor, nil
}

// DeleteCollectedBefore removes posts collected before cutoff from every post
// table. Returns the total number of rows deleted.
func (s *Store) DeleteCollectedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var deleted int64
	for _, t := range postTables {
		res, err := tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE collected_at < %s", t.name, s.dialect.placeholder(1)),
			cutoff.UTC(),
		)
		if err != nil {
			return 0, fmt.Errorf("delete expired posts from %s: %w", t.name, err)
		}
		n, _ := res.RowsAffected()
		deleted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}

	return deleted, nil
}

// GetCursor retrieves the saved firehose cursor for a service.
func (s *Store) GetCursor(ctx context.Context, service string) (int64, error) {
	var cursor int64
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT cursor_value FROM cursors WHERE service = %s", s.dialect.placeholder(1)), service,
	).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return cursor, err
}

// UpdateCursor upserts the firehose cursor for a service.
func (s *Store) UpdateCursor(ctx context.Context, service string, cursor int64) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO cursors (service, cursor_value, updated_at)
		VALUES (%s)
		ON CONFLICT (service) DO UPDATE SET cursor_value = excluded.cursor_value, updated_at = excluded.updated_at`,
		s.dialect.placeholders(1, 3)),
		service, cursor, time.Now().UTC(),
	)
	return err
}

func parseCursor(cursor string) (time.Time, string, error) {
	parts := strings.SplitN(cursor, "::", 2)
	if len(parts) != 2 || parts[1] == "" {
		return time.Time{}, "", fmt.Errorf("cursor must be in format 'timestamp::uri'")
	}
	micros, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("invalid timestamp in cursor: %w", err)
	}
	return time.UnixMicro(micros).UTC(), parts[1], nil
}
