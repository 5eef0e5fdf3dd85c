package cassandra

import (
	"fmt"
	"log/slog"

	"github.com/cenkalti/backoff/v4"
	"github.com/gocql/gocql"

	"github.com/couchcryptid/air-quality-etl/internal/config"
)

// dialFunc produces a connected session, or an error for the retry loop.
type dialFunc func() (*gocql.Session, error)

// Connect establishes the Cassandra session with a bounded number of
// attempts at a fixed delay, ensuring the keyspace and table exist on each
// attempt. The consumer must not start without a usable session, so
// exhausting the retries surfaces the last connection error as fatal.
func Connect(cfg *config.Config, logger *slog.Logger) (*gocql.Session, error) {
	dial := func() (*gocql.Session, error) {
		cluster := gocql.NewCluster(cfg.CassandraHosts...)
		cluster.Timeout = cfg.CassandraConnTimeout
		cluster.ConnectTimeout = cfg.CassandraConnTimeout

		session, err := cluster.CreateSession()
		if err != nil {
			return nil, err
		}
		if err := ensureSchema(session, cfg.CassandraKeyspace, cfg.CassandraTable); err != nil {
			session.Close()
			return nil, err
		}
		return session, nil
	}
	return connectWithRetry(dial, cfg, logger)
}

func connectWithRetry(dial dialFunc, cfg *config.Config, logger *slog.Logger) (*gocql.Session, error) {
	var session *gocql.Session
	attempt := 0

	op := func() error {
		attempt++
		logger.Info("connecting to cassandra",
			"hosts", cfg.CassandraHosts,
			"attempt", attempt,
			"max_attempts", cfg.CassandraConnRetries,
		)
		s, err := dial()
		if err != nil {
			logger.Warn("cassandra not ready", "attempt", attempt, "error", err)
			return err
		}
		session = s
		return nil
	}

	bo := backoff.WithMaxRetries(
		backoff.NewConstantBackOff(cfg.CassandraConnDelay),
		uint64(cfg.CassandraConnRetries-1),
	)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, fmt.Errorf("cassandra unavailable after %d attempts: %w", attempt, err)
	}

	logger.Info("cassandra session established")
	return session, nil
}

// ensureSchema creates the keyspace and table if missing. Idempotent, runs on
// every connection attempt.
func ensureSchema(session *gocql.Session, keyspace, table string) error {
	createKeyspace := fmt.Sprintf(`
		CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {
			'class': 'SimpleStrategy',
			'replication_factor': '1'
		}`, keyspace)
	if err := session.Query(createKeyspace).Exec(); err != nil {
		return fmt.Errorf("create keyspace %s: %w", keyspace, err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.%s (
			city text,
			date text,
			hour int,
			pm2_5 double,
			pm10 double,
			ozone double,
			carbon_monoxide double,
			nitrogen_dioxide double,
			sulphur_dioxide double,
			uv_index double,
			ingest_time timestamp,
			PRIMARY KEY ((city, date), hour)
		) WITH CLUSTERING ORDER BY (hour DESC)`, keyspace, table)
	if err := session.Query(createTable).Exec(); err != nil {
		return fmt.Errorf("create table %s.%s: %w", keyspace, table, err)
	}
	return nil
}
