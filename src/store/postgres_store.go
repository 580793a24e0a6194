package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	cm "github.com/mosaicnetworks/ledgerd/src/common"
	"github.com/mosaicnetworks/ledgerd/src/ledger"
	"github.com/sirupsen/logrus"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS ledgerd_headers (
	seq  BIGINT PRIMARY KEY,
	hash BYTEA NOT NULL,
	data BYTEA NOT NULL
);
CREATE TABLE IF NOT EXISTS ledgerd_results (
	seq  BIGINT PRIMARY KEY,
	data BYTEA NOT NULL
);
CREATE TABLE IF NOT EXISTS ledgerd_values (
	seq  BIGINT PRIMARY KEY,
	data BYTEA NOT NULL
);
CREATE TABLE IF NOT EXISTS ledgerd_accounts (
	id   TEXT PRIMARY KEY,
	data BYTEA NOT NULL
);
CREATE TABLE IF NOT EXISTS ledgerd_lcl (
	id  INT PRIMARY KEY CHECK (id = 1),
	seq BIGINT NOT NULL
);
`

// PostgresStore implements the Store interface on a PostgreSQL database. Every
// Commit and Reset runs in one SQL transaction.
type PostgresStore struct {
	pool   *pgxpool.Pool
	dsn    string
	ctx    context.Context
	logger *logrus.Entry
}

// NewPostgresStore connects to the database and creates the tables if needed.
// ctx bounds the lifetime of every query made by the store.
func NewPostgresStore(ctx context.Context, dsn string, logger *logrus.Entry) (*PostgresStore, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &PostgresStore{
		pool:   pool,
		dsn:    dsn,
		ctx:    ctx,
		logger: logger,
	}, nil
}

// LastClosed implements the Store interface.
func (s *PostgresStore) LastClosed() (ledger.HeaderEntry, error) {
	query := `
		SELECT h.data
		FROM ledgerd_lcl l JOIN ledgerd_headers h ON h.seq = l.seq
		WHERE l.id = 1
	`
	var data []byte
	err := s.pool.QueryRow(s.ctx, query).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.HeaderEntry{}, cm.NewStoreErr("LastClosed", cm.Empty, "")
	}
	if err != nil {
		return ledger.HeaderEntry{}, fmt.Errorf("failed to get last closed ledger: %w", err)
	}
	h, err := decodeHeader(data)
	if err != nil {
		return ledger.HeaderEntry{}, cm.NewStoreErr("LastClosed", cm.Corrupted, "")
	}
	return h, nil
}

// GetHeader implements the Store interface.
func (s *PostgresStore) GetHeader(seq uint32) (ledger.HeaderEntry, error) {
	data, err := s.getBySeq("ledgerd_headers", "Header", seq)
	if err != nil {
		return ledger.HeaderEntry{}, err
	}
	h, err := decodeHeader(data)
	if err != nil {
		return ledger.HeaderEntry{}, cm.NewStoreErr("Header", cm.Corrupted, seqKey(seq))
	}
	return h, nil
}

// GetResults implements the Store interface.
func (s *PostgresStore) GetResults(seq uint32) (ledger.ResultSet, error) {
	data, err := s.getBySeq("ledgerd_results", "Results", seq)
	if err != nil {
		return ledger.ResultSet{}, err
	}
	return decodeResults(data)
}

// GetValue implements the Store interface.
func (s *PostgresStore) GetValue(seq uint32) (*ledger.Value, error) {
	data, err := s.getBySeq("ledgerd_values", "Value", seq)
	if err != nil {
		return nil, err
	}
	return decodeValue(data)
}

// State implements the Store interface.
func (s *PostgresStore) State() (*ledger.State, error) {
	rows, err := s.pool.Query(s.ctx, `SELECT id, data FROM ledgerd_accounts`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []ledger.Account
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		a, err := decodeAccount(data)
		if err != nil {
			return nil, cm.NewStoreErr("Account", cm.Corrupted, id)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}
	return ledger.NewState(accounts...), nil
}

// Commit implements the Store interface.
func (s *PostgresStore) Commit(c *Commit) error {
	lcl, err := s.LastClosed()
	empty := cm.IsStore(err, cm.Empty)
	if err != nil && !empty {
		return err
	}
	if err := checkCommit(lcl, empty, c); err != nil {
		return err
	}

	tx, err := s.pool.Begin(s.ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(s.ctx)

	seq := int64(c.Header.Seq())
	if err := s.upsertHeader(tx, c.Header); err != nil {
		return err
	}
	val, err := c.Results.Marshal()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(s.ctx, `
		INSERT INTO ledgerd_results (seq, data) VALUES ($1, $2)
		ON CONFLICT (seq) DO UPDATE SET data = EXCLUDED.data
	`, seq, val); err != nil {
		return fmt.Errorf("failed to save results: %w", err)
	}
	if c.Value != nil {
		val, err := c.Value.Marshal()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(s.ctx, `
			INSERT INTO ledgerd_values (seq, data) VALUES ($1, $2)
			ON CONFLICT (seq) DO UPDATE SET data = EXCLUDED.data
		`, seq, val); err != nil {
			return fmt.Errorf("failed to save value: %w", err)
		}
	}
	for i := range c.Changes {
		val, err := c.Changes[i].Marshal()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(s.ctx, `
			INSERT INTO ledgerd_accounts (id, data) VALUES ($1, $2)
			ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data
		`, c.Changes[i].ID, val); err != nil {
			return fmt.Errorf("failed to save account: %w", err)
		}
	}
	if err := s.setPointer(tx, seq); err != nil {
		return err
	}

	return tx.Commit(s.ctx)
}

// Reset implements the Store interface. Accounts are bulk loaded with COPY.
func (s *PostgresStore) Reset(snap *Snapshot) error {
	if err := checkSnapshot(snap); err != nil {
		return err
	}

	tx, err := s.pool.Begin(s.ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(s.ctx)

	if _, err := tx.Exec(s.ctx, `DELETE FROM ledgerd_accounts`); err != nil {
		return fmt.Errorf("failed to clear accounts: %w", err)
	}

	rows := make([][]interface{}, len(snap.Accounts))
	for i := range snap.Accounts {
		val, err := snap.Accounts[i].Marshal()
		if err != nil {
			return err
		}
		rows[i] = []interface{}{snap.Accounts[i].ID, val}
	}
	if _, err := tx.CopyFrom(s.ctx,
		pgx.Identifier{"ledgerd_accounts"},
		[]string{"id", "data"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return fmt.Errorf("failed to load accounts: %w", err)
	}

	for _, h := range snap.Headers {
		if err := s.upsertHeader(tx, h); err != nil {
			return err
		}
	}
	if err := s.upsertHeader(tx, snap.Header); err != nil {
		return err
	}
	if err := s.setPointer(tx, int64(snap.Header.Seq())); err != nil {
		return err
	}

	return tx.Commit(s.ctx)
}

// Prune implements the Store interface.
func (s *PostgresStore) Prune(before uint32) error {
	tx, err := s.pool.Begin(s.ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(s.ctx)

	var pruned int64
	for _, table := range []string{"ledgerd_headers", "ledgerd_results", "ledgerd_values"} {
		query := fmt.Sprintf(`
			DELETE FROM %s
			WHERE seq < $1 AND seq NOT IN (SELECT seq FROM ledgerd_lcl)
		`, table)
		tag, err := tx.Exec(s.ctx, query, int64(before))
		if err != nil {
			return fmt.Errorf("failed to prune %s: %w", table, err)
		}
		if table == "ledgerd_headers" {
			pruned = tag.RowsAffected()
		}
	}

	if err := tx.Commit(s.ctx); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{
		"before": before,
		"pruned": pruned,
	}).Debug("Pruned ledger history")
	return nil
}

// Close implements the Store interface.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// StorePath implements the Store interface.
func (s *PostgresStore) StorePath() string {
	return s.dsn
}

func (s *PostgresStore) getBySeq(table, name string, seq uint32) ([]byte, error) {
	var data []byte
	query := fmt.Sprintf(`SELECT data FROM %s WHERE seq = $1`, table)
	err := s.pool.QueryRow(s.ctx, query, int64(seq)).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, cm.NewStoreErr(name, cm.KeyNotFound, seqKey(seq))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s %d: %w", name, seq, err)
	}
	return data, nil
}

func (s *PostgresStore) upsertHeader(tx pgx.Tx, h ledger.HeaderEntry) error {
	val, err := h.Header.Marshal()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(s.ctx, `
		INSERT INTO ledgerd_headers (seq, hash, data) VALUES ($1, $2, $3)
		ON CONFLICT (seq) DO UPDATE SET hash = EXCLUDED.hash, data = EXCLUDED.data
	`, int64(h.Seq()), h.Hash, val); err != nil {
		return fmt.Errorf("failed to save header: %w", err)
	}
	return nil
}

func (s *PostgresStore) setPointer(tx pgx.Tx, seq int64) error {
	if _, err := tx.Exec(s.ctx, `
		INSERT INTO ledgerd_lcl (id, seq) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET seq = EXCLUDED.seq
	`, seq); err != nil {
		return fmt.Errorf("failed to move last closed ledger: %w", err)
	}
	return nil
}
