package sink

import (
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/lib/pq"
)

// dialect captures the SQL differences between the supported drivers.
type dialect struct {
	name        string
	quote       func(string) string
	placeholder func(int) string
	integer     string
	float       string
	boolean     string
	text        string

	// transactionalDDL is false where CREATE TABLE commits implicitly, so
	// it must not run inside the load transaction.
	transactionalDDL bool
	// copyIn streams rows with COPY FROM STDIN instead of one INSERT each.
	copyIn bool
}

var dialects = map[string]dialect{
	Postgres: {
		name:        Postgres,
		quote:       pq.QuoteIdentifier,
		placeholder: func(i int) string { return "$" + strconv.Itoa(i) },
		integer:     "BIGINT",
		float:       "DOUBLE PRECISION",
		boolean:     "BOOLEAN",
		text:        "TEXT",

		transactionalDDL: true,
		copyIn:           true,
	},
	MySQL: {
		name:        MySQL,
		quote:       func(s string) string { return "`" + strings.ReplaceAll(s, "`", "``") + "`" },
		placeholder: func(int) string { return "?" },
		integer:     "BIGINT",
		float:       "DOUBLE",
		boolean:     "BOOLEAN",
		text:        "TEXT",
	},
	SQLite: {
		name:        SQLite,
		quote:       pq.QuoteIdentifier,
		placeholder: func(int) string { return "?" },
		integer:     "INTEGER",
		float:       "REAL",
		boolean:     "INTEGER",
		text:        "TEXT",

		transactionalDDL: true,
	},
}

func (d dialect) columnType(dt arrow.DataType) string {
	id := dt.ID()
	switch {
	case arrow.IsInteger(id):
		return d.integer
	case arrow.IsFloating(id):
		return d.float
	case id == arrow.BOOL:
		return d.boolean
	}
	return d.text
}

func (d dialect) createTable(table string, schema *arrow.Schema) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(d.quote(table))
	b.WriteString(" (")
	for j, f := range schema.Fields() {
		if j > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.quote(f.Name))
		b.WriteByte(' ')
		b.WriteString(d.columnType(f.Type))
	}
	b.WriteString(")")
	return b.String()
}

func (d dialect) insert(table string, schema *arrow.Schema) string {
	cols := make([]string, schema.NumFields())
	params := make([]string, schema.NumFields())
	for j, f := range schema.Fields() {
		cols[j] = d.quote(f.Name)
		params[j] = d.placeholder(j + 1)
	}
	return "INSERT INTO " + d.quote(table) +
		" (" + strings.Join(cols, ", ") + ") VALUES (" + strings.Join(params, ", ") + ")"
}

// bulkInsert is the statement prepared once per load. For COPY the
// prepared statement must be executed once more without arguments to
// flush the buffered rows.
func (d dialect) bulkInsert(table string, schema *arrow.Schema) string {
	if !d.copyIn {
		return d.insert(table, schema)
	}
	cols := make([]string, schema.NumFields())
	for j, f := range schema.Fields() {
		cols[j] = f.Name
	}
	return pq.CopyIn(table, cols...)
}
