package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sheetql/sheetql/internal/schema"
)

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open(context.Background(), DBConfig{})
	if err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestBeginReadOnlySetsStatementTimeout(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET LOCAL statement_timeout = 2500")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	tx, err := Dialect{}.BeginReadOnly(context.Background(), db, 2500*time.Millisecond)
	if err != nil {
		t.Fatalf("BeginReadOnly() error = %v", err)
	}
	_ = tx.Rollback()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestBeginReadOnlyRollsBackWhenTimeoutFails(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET LOCAL statement_timeout")).WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	if _, err := (Dialect{}).BeginReadOnly(context.Background(), db, time.Second); err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestDialectMapsTypesAndPlaceholders(t *testing.T) {
	d := Dialect{}
	if d.Placeholder(3) != "$3" {
		t.Fatalf("Placeholder(3) = %q", d.Placeholder(3))
	}
	want := map[schema.ColumnType]string{
		schema.TypeInteger:   "BIGINT",
		schema.TypeReal:      "DOUBLE PRECISION",
		schema.TypeBoolean:   "BOOLEAN",
		schema.TypeTimestamp: "TIMESTAMPTZ",
		schema.TypeText:      "TEXT",
	}
	for typ, sqlType := range want {
		if got := d.ColumnType(typ); got != sqlType {
			t.Fatalf("ColumnType(%s) = %q, want %q", typ, got, sqlType)
		}
	}
}

func TestIsTimeoutRecognisesQueryCanceled(t *testing.T) {
	d := Dialect{}
	wrapped := fmt.Errorf("run: %w", &pgconn.PgError{Code: "57014", Message: "canceling statement due to statement timeout"})
	if !d.IsTimeout(wrapped) {
		t.Fatal("expected 57014 to be a timeout")
	}
	if d.IsTimeout(&pgconn.PgError{Code: "42P01"}) {
		t.Fatal("undefined_table is not a timeout")
	}
	if d.IsTimeout(sql.ErrConnDone) {
		t.Fatal("plain errors are not timeouts")
	}
}
