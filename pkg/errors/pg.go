package errors

import (
	stdErrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// pgDiagnostics is the subset of a Postgres error worth logging. Both the
// pgx and lib/pq drivers can surface one.
type pgDiagnostics struct {
	code, constraint, table, column, detail, message string
}

func postgresCause(err error) (pgDiagnostics, bool) {
	var pgxErr *pgconn.PgError
	if stdErrors.As(err, &pgxErr) {
		return pgDiagnostics{pgxErr.Code, pgxErr.ConstraintName, pgxErr.TableName, pgxErr.ColumnName, pgxErr.Detail, pgxErr.Message}, true
	}
	var pqErr *pq.Error
	if stdErrors.As(err, &pqErr) {
		return pgDiagnostics{string(pqErr.Code), pqErr.Constraint, pqErr.Table, pqErr.Column, pqErr.Detail, pqErr.Message}, true
	}
	return pgDiagnostics{}, false
}

// LogFields flattens err into structured log fields: its code, every layer
// of the wrap chain, and Postgres diagnostics when a driver error is inside.
func LogFields(err error) map[string]any {
	if err == nil {
		return map[string]any{}
	}
	var chain []string
	for e := err; e != nil; e = stdErrors.Unwrap(e) {
		chain = append(chain, fmt.Sprintf("%T", e))
	}
	fields := map[string]any{
		"error_chain": chain,
		"error_code":  string(As(err).Code()),
	}
	if pg, ok := postgresCause(err); ok {
		for key, value := range map[string]string{
			"pg_code":       pg.code,
			"pg_constraint": pg.constraint,
			"pg_table":      pg.table,
			"pg_column":     pg.column,
			"pg_detail":     pg.detail,
			"pg_message":    pg.message,
		} {
			if value != "" {
				fields[key] = value
			}
		}
	}
	return fields
}
