package recordstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tarik02/apiproxy/api"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS records (
	id        INTEGER PRIMARY KEY,
	fecha     TEXT    NOT NULL DEFAULT '',
	calorias  REAL    NOT NULL,
	peso      REAL    NOT NULL DEFAULT 0,
	edad      INTEGER NOT NULL,
	altura    REAL    NOT NULL,
	actividad TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_records_fecha ON records(fecha);
`

const recordColumns = "id, fecha, calorias, peso, edad, altura, actividad"

// SQLite stores records in a single table. Ids follow the same max(id)+1 rule as
// JSONFile since the primary key is a plain rowid alias.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("sqlite store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (api.Record, error) {
	var r api.Record
	err := row.Scan(&r.ID, &r.Fecha, &r.Calorias, &r.Peso, &r.Edad, &r.Altura, &r.Actividad)
	return r, err
}

func (s *SQLite) query(ctx context.Context, q string, args ...any) ([]api.Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := []api.Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

func (s *SQLite) List(ctx context.Context) ([]api.Record, error) {
	return s.query(ctx, "SELECT "+recordColumns+" FROM records ORDER BY id")
}

func (s *SQLite) Get(ctx context.Context, id int) (api.Record, error) {
	r, err := scanRecord(s.db.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM records WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return api.Record{}, ErrNotFound
	}
	return r, err
}

func (s *SQLite) Add(ctx context.Context, rec api.Record) (api.Record, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO records (fecha, calorias, peso, edad, altura, actividad) VALUES (?, ?, ?, ?, ?, ?)",
		rec.Fecha, rec.Calorias, rec.Peso, rec.Edad, rec.Altura, rec.Actividad,
	)
	if err != nil {
		return api.Record{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return api.Record{}, err
	}
	rec.ID = int(id)
	return rec, nil
}

func (s *SQLite) Update(ctx context.Context, rec api.Record) (api.Record, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE records SET fecha = ?, calorias = ?, peso = ?, edad = ?, altura = ?, actividad = ? WHERE id = ?",
		rec.Fecha, rec.Calorias, rec.Peso, rec.Edad, rec.Altura, rec.Actividad, rec.ID,
	)
	if err != nil {
		return api.Record{}, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return api.Record{}, err
	} else if n == 0 {
		return api.Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *SQLite) Delete(ctx context.Context, id int) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM records WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) Search(ctx context.Context, q Query) ([]api.Record, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	if q.Actividad != "" {
		where = append(where, "actividad = ? COLLATE NOCASE")
		args = append(args, q.Actividad)
	}
	if q.From != "" {
		where = append(where, "fecha >= ?")
		args = append(args, q.From)
	}
	if q.To != "" {
		where = append(where, "fecha <= ?")
		args = append(args, q.To)
	}

	stmt := "SELECT " + recordColumns + " FROM records"
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}

	// q.SortBy is checked against sortFields above
	order := "id"
	if q.SortBy != "" {
		order = q.SortBy
	}
	dir := "ASC"
	if q.Desc {
		dir = "DESC"
	}
	stmt += fmt.Sprintf(" ORDER BY %s %s, id ASC", order, dir)

	if q.Limit > 0 {
		stmt += " LIMIT ?"
		args = append(args, q.Limit)
	}

	return s.query(ctx, stmt, args...)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
