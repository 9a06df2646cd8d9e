// Package sink appends scored records to a relational table. Each load
// runs in a single transaction so a failed batch leaves the table as it
// was.
package sink

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/TFMV/fraudpipe/errs"
	"github.com/TFMV/fraudpipe/frame"
	"github.com/TFMV/fraudpipe/metrics"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/golang/groupcache/lru"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

// DefaultTable is the table the load stage appends to.
const DefaultTable = "transactions"

// tripAfter consecutive connection failures open the breaker.
const tripAfter = 3

// Loader writes records into a database/sql sink.
type Loader struct {
	db      *sql.DB
	desc    Descriptor
	dialect dialect
	breaker *gobreaker.CircuitBreaker[struct{}]
	logger  *zap.Logger

	mu      sync.Mutex
	ensured *lru.Cache // tables known to exist
}

// Open connects to the sink described by d and verifies it is reachable.
func Open(ctx context.Context, d Descriptor, logger *zap.Logger) (*Loader, error) {
	driver, err := d.DriverName()
	if err != nil {
		return nil, err
	}
	dsn, err := d.DataSourceName()
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sink: open %s: %w: %w", d, errs.ErrConnection, err)
	}
	if driver == SQLite {
		// One writer at a time avoids SQLITE_BUSY between pooled conns.
		db.SetMaxOpenConns(1)
	}

	l := newLoader(db, d, dialects[driver], logger)
	if err := l.ping(ctx); err != nil {
		db.Close()
		return nil, err
	}
	l.logger.Info("Connected to sink", zap.Stringer("sink", d))
	return l, nil
}

func newLoader(db *sql.DB, d Descriptor, dl dialect, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("sink")

	name := "sink-" + dl.name
	metrics.SinkBreakerState.WithLabelValues(name).Set(float64(gobreaker.StateClosed))
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:    name,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= tripAfter
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.SinkBreakerState.WithLabelValues(name).Set(float64(to))
			logger.Warn("Sink circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &Loader{
		db:      db,
		desc:    d,
		dialect: dl,
		breaker: cb,
		logger:  logger,
		ensured: lru.New(128),
	}
}

// ----------------------------------------------------------------------------
// Connection
// ----------------------------------------------------------------------------

func (l *Loader) ping(ctx context.Context) error {
	_, err := l.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, l.db.PingContext(ctx)
	})
	if err != nil {
		return fmt.Errorf("sink: ping %s: %w: %w", l.desc, errs.ErrConnection, err)
	}
	return nil
}

func (l *Loader) begin(ctx context.Context) (*sql.Tx, error) {
	var tx *sql.Tx
	_, err := l.breaker.Execute(func() (struct{}, error) {
		var err error
		tx, err = l.db.BeginTx(ctx, nil)
		return struct{}{}, err
	})
	if err != nil {
		return nil, fmt.Errorf("sink: begin on %s: %w: %w", l.desc, errs.ErrConnection, err)
	}
	return tx, nil
}

// Close releases the connection pool.
func (l *Loader) Close() error {
	return l.db.Close()
}

// ----------------------------------------------------------------------------
// Load
// ----------------------------------------------------------------------------

// Load appends every row of rec to table, creating the table from the
// record schema when it does not exist. Existing rows are never touched.
// On failure the transaction is rolled back and nothing is committed.
func (l *Loader) Load(ctx context.Context, rec arrow.Record, table string) error {
	if table == "" {
		table = DefaultTable
	}

	if !l.dialect.transactionalDDL {
		// Runs before BEGIN; CREATE TABLE would otherwise commit the
		// transaction and leave the inserts in autocommit mode.
		if err := l.ensureTable(ctx, l.db, rec.Schema(), table); err != nil {
			return err
		}
	}

	tx, err := l.begin(ctx)
	if err != nil {
		return err
	}
	if err := l.write(ctx, tx, rec, table); err != nil {
		l.forget(table)
		if rbErr := tx.Rollback(); rbErr != nil {
			err = multierr.Append(err, fmt.Errorf("sink: rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		l.forget(table)
		return fmt.Errorf("sink: commit into %s: %w: %w", table, errs.ErrWrite, err)
	}

	l.markEnsured(table)
	metrics.RowsLoaded.WithLabelValues(table).Add(float64(rec.NumRows()))
	l.logger.Info("Loaded rows into sink",
		zap.String("table", table),
		zap.Int64("rows", rec.NumRows()))
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (l *Loader) ensureTable(ctx context.Context, ex execer, schema *arrow.Schema, table string) error {
	if l.isEnsured(table) {
		return nil
	}
	if _, err := ex.ExecContext(ctx, l.dialect.createTable(table, schema)); err != nil {
		return fmt.Errorf("sink: create table %s: %w: %w", table, errs.ErrWrite, err)
	}
	return nil
}

func (l *Loader) write(ctx context.Context, tx *sql.Tx, rec arrow.Record, table string) error {
	schema := rec.Schema()
	if l.dialect.transactionalDDL {
		if err := l.ensureTable(ctx, tx, schema, table); err != nil {
			return err
		}
	}
	if rec.NumRows() == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, l.dialect.bulkInsert(table, schema))
	if err != nil {
		return fmt.Errorf("sink: prepare insert into %s: %w: %w", table, errs.ErrWrite, err)
	}
	defer stmt.Close()

	args := make([]any, rec.NumCols())
	for i := 0; i < int(rec.NumRows()); i++ {
		for j, col := range rec.Columns() {
			args[j] = driverValue(col, i)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("sink: insert row %d into %s: %w: %w", i, table, errs.ErrWrite, err)
		}
	}
	if l.dialect.copyIn {
		if _, err := stmt.ExecContext(ctx); err != nil {
			return fmt.Errorf("sink: copy into %s: %w: %w", table, errs.ErrWrite, err)
		}
	}
	return nil
}

// driverValue maps a cell onto a database/sql argument. NaN has no
// portable SQL encoding and is stored as NULL.
func driverValue(arr arrow.Array, i int) any {
	v := frame.Value(arr, i)
	if f, ok := v.(float64); ok && math.IsNaN(f) {
		return nil
	}
	return v
}

func (l *Loader) isEnsured(table string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.ensured.Get(table)
	return ok
}

// forget drops table from the cache so the next load re-issues CREATE,
// which recovers from a table dropped behind our back.
func (l *Loader) forget(table string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensured.Remove(table)
}

func (l *Loader) markEnsured(table string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensured.Add(table, struct{}{})
}
