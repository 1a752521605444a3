package sessionstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/go-sql-driver/mysql"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

// SQLConfig selects the MySQL table shared by a fleet of kiosks.
type SQLConfig struct {
	DSN        string
	Table      string
	TerminalID string
}

// SQLStore keeps one row per terminal in a MySQL table.
type SQLStore struct {
	db         *sql.DB
	table      string
	terminalID string
}

// normalizeDSN parses a MySQL DSN and turns on parseTime so DATETIME columns scan into time.Time.
func normalizeDSN(dsn string) (*mysql.Config, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	return cfg, nil
}

func validateSQLConfig(cfg SQLConfig) error {
	if cfg.DSN == "" {
		return errors.New("store dsn is required for the mysql backend")
	}
	if !tableNamePattern.MatchString(cfg.Table) {
		return fmt.Errorf("invalid store table name %q", cfg.Table)
	}
	if cfg.TerminalID == "" {
		return errors.New("terminal id is required for the mysql backend")
	}
	return nil
}

// OpenSQL connects, verifies the connection, and creates the table when missing.
func OpenSQL(ctx context.Context, cfg SQLConfig) (*SQLStore, error) {
	if err := validateSQLConfig(cfg); err != nil {
		return nil, err
	}
	mysqlCfg, err := normalizeDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}
	connector, err := mysql.NewConnector(mysqlCfg)
	if err != nil {
		return nil, fmt.Errorf("build mysql connector: %w", err)
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(2)
	db.SetConnMaxIdleTime(time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping session store: %w", err)
	}

	store := &SQLStore{db: db, table: cfg.Table, terminalID: cfg.TerminalID}
	if err := store.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		terminal_id VARCHAR(64) NOT NULL PRIMARY KEY,
		session_id VARCHAR(128) NOT NULL,
		updated_at DATETIME NOT NULL
	)`, s.table)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create session table: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Load(ctx context.Context) (string, error) {
	var id string
	query := fmt.Sprintf("SELECT session_id FROM %s WHERE terminal_id = ?", s.table)
	err := s.db.QueryRowContext(ctx, query, s.terminalID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}
	return id, nil
}

func (s *SQLStore) Save(ctx context.Context, sessionID string) error {
	query := fmt.Sprintf(
		"INSERT INTO %s (terminal_id, session_id, updated_at) VALUES (?, ?, ?) "+
			"ON DUPLICATE KEY UPDATE session_id = VALUES(session_id), updated_at = VALUES(updated_at)",
		s.table,
	)
	if _, err := s.db.ExecContext(ctx, query, s.terminalID, sessionID, time.Now().UTC()); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *SQLStore) Clear(ctx context.Context) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE terminal_id = ?", s.table)
	if _, err := s.db.ExecContext(ctx, query, s.terminalID); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
