package cassandra

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"

	"github.com/couchcryptid/air-quality-etl/internal/config"
	"github.com/couchcryptid/air-quality-etl/internal/domain"
)

// Repository materializes change events into the wide per-city/per-day table.
type Repository struct {
	session  *gocql.Session
	keyspace string
	table    string
}

// NewRepository wraps an established session.
func NewRepository(session *gocql.Session, cfg *config.Config) *Repository {
	return &Repository{
		session:  session,
		keyspace: cfg.CassandraKeyspace,
		table:    cfg.CassandraTable,
	}
}

// WriteEvent upserts one event into its (city, date, hour) row, writing only
// the event's non-null pollutant columns plus ingest_time. CQL inserts only
// touch the named columns, so redelivery of the same event, or two events for
// the same row with disjoint columns, converge to the same final row.
func (r *Repository) WriteEvent(ctx context.Context, ev domain.ChangeEvent) error {
	key := domain.RowKeyFromEvent(ev)
	stmt, values := buildUpsert(r.keyspace, r.table, key, ev)

	if err := r.session.Query(stmt, values...).WithContext(ctx).Exec(); err != nil {
		return &domain.PersistenceError{Op: "insert_columnar", Err: err}
	}
	return nil
}

// Close releases the session.
func (r *Repository) Close() {
	r.session.Close()
}

// buildUpsert assembles the column-level insert. The statement text depends
// only on which pollutant columns are set, so gocql's prepared-statement
// cache keeps the variants prepared.
func buildUpsert(keyspace, table string, key domain.RowKey, ev domain.ChangeEvent) (string, []any) {
	columns := []string{"city", "date", "hour"}
	values := []any{key.City, key.Date, key.Hour}

	for _, p := range domain.Pollutants {
		if v := ev.Value(p); v != nil {
			columns = append(columns, string(p))
			values = append(values, *v)
		}
	}

	columns = append(columns, "ingest_time")
	values = append(values, time.UnixMilli(ev.IngestTimeMS).UTC())

	stmt := fmt.Sprintf(
		"INSERT INTO %s.%s (%s) VALUES (%s)",
		keyspace, table,
		strings.Join(columns, ", "),
		placeholders(len(columns)),
	)
	return stmt, values
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
