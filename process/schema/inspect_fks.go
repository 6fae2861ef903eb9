// Package schema inspects the live Postgres schema of the ledger.
package schema

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// ForeignKey is one FK constraint as reported by pg_constraint.
type ForeignKey struct {
	Name            string
	Table           string
	Columns         string
	ReferencedTable string
	RefColumns      string
	Definition      string
}

const fkQuery = `
	SELECT
	  con.oid::regclass::text AS constraint_name,
	  rel.relname AS table_name,
	  array_agg(att.attname ORDER BY u.attnum) AS src_columns,
	  confrel.relname AS referenced_table,
	  array_agg(att2.attname ORDER BY u.confkey) AS ref_columns,
	  pg_get_constraintdef(con.oid) AS definition
	FROM pg_constraint con
	JOIN pg_class rel ON rel.oid = con.conrelid
	JOIN pg_class confrel ON confrel.oid = con.confrelid
	JOIN unnest(con.conkey) WITH ORDINALITY AS u(attnum, ord) ON true
	JOIN pg_attribute att ON att.attrelid = con.conrelid AND att.attnum = u.attnum
	LEFT JOIN unnest(con.confkey) WITH ORDINALITY AS v(confkey, ord2) ON v.ord2 = u.ord
	LEFT JOIN pg_attribute att2 ON att2.attrelid = con.confrelid AND att2.attnum = v.confkey
	WHERE con.contype = 'f'
	GROUP BY con.oid, rel.relname, confrel.relname
	ORDER BY rel.relname, constraint_name`

func ListForeignKeys(ctx context.Context, db *sql.DB) ([]ForeignKey, error) {
	rows, err := db.QueryContext(ctx, fkQuery)
	if err != nil {
		return nil, fmt.Errorf("query constraints: %w", err)
	}
	defer rows.Close()
	var out []ForeignKey
	for rows.Next() {
		var fk ForeignKey
		var srcCols, refCols sql.NullString
		if err := rows.Scan(&fk.Name, &fk.Table, &srcCols, &fk.ReferencedTable, &refCols, &fk.Definition); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		fk.Columns, fk.RefColumns = srcCols.String, refCols.String
		out = append(out, fk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return out, nil
}

// Requirement is a foreign key the ledger relies on.
type Requirement struct {
	Table, ReferencedTable string
	Cascade                bool
}

// LedgerRequirements: sub-accounts go away with their user.
var LedgerRequirements = []Requirement{
	{Table: "sub_accounts", ReferencedTable: "users", Cascade: true},
}

// Missing returns the requirements no foreign key in fks satisfies.
func Missing(fks []ForeignKey, reqs []Requirement) []Requirement {
	var out []Requirement
	for _, r := range reqs {
		found := false
		for _, fk := range fks {
			if fk.Table != r.Table || fk.ReferencedTable != r.ReferencedTable {
				continue
			}
			if r.Cascade && !strings.Contains(strings.ToUpper(fk.Definition), "ON DELETE CASCADE") {
				continue
			}
			found = true
			break
		}
		if !found {
			out = append(out, r)
		}
	}
	return out
}

// RunInspectFKs connects with pgx, prints every foreign key to w and reports
// the ledger requirements that are not met.
func RunInspectFKs(ctx context.Context, dsn string, w io.Writer) ([]Requirement, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	fks, err := ListForeignKeys(ctx, db)
	if err != nil {
		return nil, err
	}
	fmt.Fprintln(w, "Foreign keys:")
	for _, fk := range fks {
		fmt.Fprintf(w, "- %s: %s(%s) -> %s(%s)\n    def: %s\n", fk.Name, fk.Table, fk.Columns, fk.ReferencedTable, fk.RefColumns, fk.Definition)
	}
	return Missing(fks, LedgerRequirements), nil
}
