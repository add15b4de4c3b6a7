package kvstore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// mockRow implements pgx.Row for testing.
type mockRow struct {
	scanFunc func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error { return r.scanFunc(dest...) }

// mockDB implements the DB interface for testing.
type mockDB struct {
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if m.queryRowFunc != nil {
		return m.queryRowFunc(ctx, sql, args...)
	}
	return &mockRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
}

func (m *mockDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if m.execFunc != nil {
		return m.execFunc(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, nil
}

// tableDB emulates the kv_entries table with a map, keyed on the statement
// verb, which is enough to run the shared store checks.
func tableDB() *mockDB {
	var mu sync.Mutex
	rows := map[string][]byte{}
	return &mockDB{
		queryRowFunc: func(_ context.Context, sql string, args ...any) pgx.Row {
			mu.Lock()
			v, ok := rows[args[0].(string)]
			mu.Unlock()
			return &mockRow{scanFunc: func(dest ...any) error {
				if !ok {
					return pgx.ErrNoRows
				}
				*dest[0].(*[]byte) = v
				return nil
			}}
		},
		execFunc: func(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			mu.Lock()
			defer mu.Unlock()
			switch {
			case strings.Contains(sql, "INSERT INTO kv_entries"):
				rows[args[0].(string)] = args[1].([]byte)
				return pgconn.NewCommandTag("INSERT 0 1"), nil
			case strings.Contains(sql, "DELETE FROM kv_entries"):
				delete(rows, args[0].(string))
				return pgconn.NewCommandTag("DELETE 1"), nil
			}
			return pgconn.CommandTag{}, nil
		},
	}
}

func TestPostgresStore(t *testing.T) {
	t.Parallel()
	exerciseStore(t, NewPostgresStore(tableDB()))
}

func TestPostgresStore_Migrate(t *testing.T) {
	t.Parallel()

	var executed string
	db := &mockDB{execFunc: func(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
		executed = sql
		return pgconn.CommandTag{}, nil
	}}
	if err := NewPostgresStore(db).Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if !strings.Contains(executed, "CREATE TABLE IF NOT EXISTS kv_entries") {
		t.Errorf("Migrate executed %q", executed)
	}
}

func TestPostgresStore_Errors(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	db := &mockDB{
		queryRowFunc: func(context.Context, string, ...any) pgx.Row {
			return &mockRow{scanFunc: func(...any) error { return boom }}
		},
		execFunc: func(context.Context, string, ...any) (pgconn.CommandTag, error) {
			return pgconn.CommandTag{}, boom
		},
	}
	s := NewPostgresStore(db)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
	}{
		{"migrate", func() error { return s.Migrate(ctx) }},
		{"get", func() error { _, err := s.Get(ctx, "k"); return err }},
		{"set", func() error { return s.Set(ctx, "k", []byte("v")) }},
		{"delete", func() error { return s.Delete(ctx, "k") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if !errors.Is(err, boom) {
				t.Errorf("err = %v, want wrapped %v", err, boom)
			}
			if errors.Is(err, ErrNotFound) {
				t.Error("driver error reported as ErrNotFound")
			}
		})
	}
}

func TestPostgresStore_CloseLeavesCallerDB(t *testing.T) {
	t.Parallel()
	s := NewPostgresStore(&mockDB{})
	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping without a pinger: %v", err)
	}
}
