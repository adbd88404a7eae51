package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"panorama-rulefinder/internal/model"
)

const tableName = "security_rules"

// StorageError is a failed write or query against the rule table.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Store is the relational rule table.
type Store struct {
	db      *sql.DB
	dialect dialect

	insertSQL string
	selectSQL string
}

// Open connects to driver ("mysql" or "sqlite") at dsn and checks the connection.
func Open(driver, dsn string) (*Store, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.name(), dsn)
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}
	if d.name() == "sqlite" {
		// One writer at a time; also keeps an in-memory database on one connection.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &StorageError{Op: "ping", Err: err}
	}
	return newStore(db, d), nil
}

func newStore(db *sql.DB, d dialect) *Store {
	lists := make([]string, len(model.ListFields))
	empties := make([]string, len(model.ListFields))
	for i, f := range model.ListFields {
		lists[i] = string(f)
		empties[i] = "'[]'"
	}

	insert := fmt.Sprintf(
		"INSERT INTO %s (rule_id, rule_name, device_group, negate_source, negate_destination, action, disabled, %s) VALUES (?, ?, ?, ?, ?, ?, ?, %s)",
		tableName, strings.Join(lists, ", "), strings.Join(empties, ", "))

	sel := fmt.Sprintf(
		"SELECT rule_id, rule_name, device_group, negate_source, negate_destination, action, disabled, %s FROM %s",
		strings.Join(lists, ", "), tableName)

	return &Store{db: db, dialect: d, insertSQL: insert, selectSQL: sel}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ResetSchema drops and recreates the rule table. Nothing may query the
// table until the following syncs have committed.
func (s *Store) ResetSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+tableName); err != nil {
		return &StorageError{Op: "drop table", Err: err}
	}
	for _, stmt := range s.dialect.createTable() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return &StorageError{Op: "create table", Err: err}
		}
	}
	slog.Info("Rule table recreated", "table", tableName, "dialect", s.dialect.name())
	return nil
}

// Tx is a write handle valid only inside WithTx.
type Tx struct {
	tx    *sql.Tx
	store *Store
}

// WithTx runs fn in a transaction, committing when fn returns nil and
// rolling back on an error or a panic.
func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StorageError{Op: "begin", Err: err}
	}

	defer func() {
		if p := recover(); p != nil {
			sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := sqlTx.Rollback(); rbErr != nil {
				slog.Warn("Rollback failed", "error", rbErr)
			}
			return
		}
		if cErr := sqlTx.Commit(); cErr != nil {
			err = &StorageError{Op: "commit", Err: cErr}
		}
	}()

	return fn(&Tx{tx: sqlTx, store: s})
}

// Sync writes records in a single transaction.
func (s *Store) Sync(ctx context.Context, records []model.RuleRecord) (int, error) {
	var written int
	err := s.WithTx(ctx, func(tx *Tx) error {
		var err error
		written, err = tx.Sync(ctx, records)
		return err
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

// Sync inserts one base row per record and then appends every list member
// with its own update keyed by rule id. The first failure stops the pass.
func (t *Tx) Sync(ctx context.Context, records []model.RuleRecord) (int, error) {
	insert, err := t.tx.PrepareContext(ctx, t.store.insertSQL)
	if err != nil {
		return 0, &StorageError{Op: "prepare insert", Err: err}
	}
	defer insert.Close()

	appends := make(map[model.ListField]*sql.Stmt, len(model.ListFields))
	for _, f := range model.ListFields {
		q := fmt.Sprintf("UPDATE %s SET %s = %s WHERE rule_id = ?", tableName, f, t.store.dialect.appendMember(string(f)))
		stmt, err := t.tx.PrepareContext(ctx, q)
		if err != nil {
			return 0, &StorageError{Op: "prepare append " + string(f), Err: err}
		}
		defer stmt.Close()
		appends[f] = stmt
	}

	written := 0
	for i := range records {
		r := &records[i]
		if _, err := insert.ExecContext(ctx, r.ID, r.Name, r.DeviceGroup, r.NegateSource, r.NegateDestination, r.Action, r.Disabled); err != nil {
			return written, &StorageError{Op: fmt.Sprintf("insert rule %s (%s)", r.ID, r.Name), Err: err}
		}
		for _, f := range model.ListFields {
			for _, member := range *r.List(f) {
				if _, err := appends[f].ExecContext(ctx, member, r.ID); err != nil {
					return written, &StorageError{Op: fmt.Sprintf("append %s to rule %s", f, r.ID), Err: err}
				}
			}
		}
		written++
	}
	return written, nil
}

// FindRulesByObjects returns, for each name in order, every rule whose
// source or destination addresses contain it. A rule matching several names
// is returned once per name.
func (s *Store) FindRulesByObjects(ctx context.Context, names []string) ([]model.RuleRecord, error) {
	q := fmt.Sprintf("%s WHERE %s OR %s ORDER BY device_group, rule_name, rule_id",
		s.selectSQL,
		s.dialect.contains(string(model.FieldSourceAddresses)),
		s.dialect.contains(string(model.FieldDestAddresses)))

	rules := []model.RuleRecord{}
	for _, name := range names {
		found, err := s.query(ctx, q, name, name)
		if err != nil {
			return nil, &StorageError{Op: fmt.Sprintf("find rules for object %s", name), Err: err}
		}
		rules = append(rules, found...)
	}
	return rules, nil
}

// Count returns the number of stored rules, optionally for one device group.
func (s *Store) Count(ctx context.Context, deviceGroup string) (int, error) {
	q := "SELECT COUNT(*) FROM " + tableName
	var args []any
	if deviceGroup != "" {
		q += " WHERE device_group = ?"
		args = append(args, deviceGroup)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, &StorageError{Op: "count rules", Err: err}
	}
	return n, nil
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]model.RuleRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []model.RuleRecord
	for rows.Next() {
		var r model.RuleRecord
		lists := make([]string, len(model.ListFields))
		dest := []any{&r.ID, &r.Name, &r.DeviceGroup, &r.NegateSource, &r.NegateDestination, &r.Action, &r.Disabled}
		for i := range lists {
			dest = append(dest, &lists[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		for i, f := range model.ListFields {
			members := []string{}
			if err := json.Unmarshal([]byte(lists[i]), &members); err != nil {
				return nil, fmt.Errorf("rule %s: decode %s: %w", r.ID, f, err)
			}
			if members == nil {
				members = []string{}
			}
			*r.List(f) = members
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}
