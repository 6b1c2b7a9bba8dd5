package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/ngrok/sqlmw"
	"github.com/prometheus/client_golang/prometheus"
)

// noStoreOperation labels driver calls made outside a store method (migrations, version probes).
const noStoreOperation = "none"

var (
	sqlVerbRegex = regexp.MustCompile(`^\s*(\w+)`)
	dbOpLatency  *prometheus.HistogramVec
	dbOpTotal    *prometheus.CounterVec
	dbOpErrors   *prometheus.CounterVec
)

type operationKey struct{}

// withOperation tags ctx with the store method issuing the queries.
func withOperation(ctx context.Context, op string) context.Context {
	return context.WithValue(ctx, operationKey{}, op)
}

func operationFromContext(ctx context.Context) string {
	if op, ok := ctx.Value(operationKey{}).(string); ok && op != "" {
		return op
	}
	return noStoreOperation
}

// metricInterceptor records every driver call, labelled with the driver call,
// the SQL verb when there is one, and the store method found in the context.
type metricInterceptor struct {
	sqlmw.NullInterceptor
}

func init() {
	dbOpLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:      "db_op_duration_milliseconds",
		Help:      "Time spent on a database driver call, by store operation",
		Subsystem: "cvbuilder",
		Buckets:   []float64{5, 25, 100, 300, 1000, 5000},
	},
		[]string{"op", "method", "store_op"},
	)
	dbOpTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "db_op_total",
		Help:      "Number of database driver calls, by store operation",
		Subsystem: "cvbuilder",
	},
		[]string{"op", "store_op"},
	)
	dbOpErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "db_op_errors_total",
		Help:      "Number of failed database driver calls, by store operation",
		Subsystem: "cvbuilder",
	},
		[]string{"op", "store_op"},
	)

	prometheus.MustRegister(dbOpLatency, dbOpTotal, dbOpErrors)
}

func (mi *metricInterceptor) ConnBeginTx(ctx context.Context, conn driver.ConnBeginTx, opts driver.TxOptions) (context.Context, driver.Tx, error) {
	start := time.Now()
	tx, err := conn.BeginTx(ctx, opts)
	mi.measure(ctx, "conn-begin-tx", "begin", start, err)
	return ctx, tx, err
}

func (mi *metricInterceptor) ConnPrepareContext(ctx context.Context, conn driver.ConnPrepareContext, query string) (context.Context, driver.Stmt, error) {
	start := time.Now()
	stmt, err := conn.PrepareContext(ctx, query)
	mi.measure(ctx, "conn-prepare-context", sqlVerb(query), start, err)
	return ctx, stmt, err
}

func (mi *metricInterceptor) ConnExecContext(ctx context.Context, conn driver.ExecerContext, query string, args []driver.NamedValue) (driver.Result, error) {
	start := time.Now()
	res, err := conn.ExecContext(ctx, query, args)
	mi.measure(ctx, "conn-exec-context", sqlVerb(query), start, err)
	return res, err
}

func (mi *metricInterceptor) ConnQueryContext(ctx context.Context, conn driver.QueryerContext, query string, args []driver.NamedValue) (context.Context, driver.Rows, error) {
	start := time.Now()
	rows, err := conn.QueryContext(ctx, query, args)
	mi.measure(ctx, "conn-query-context", sqlVerb(query), start, err)
	return ctx, rows, err
}

func (mi *metricInterceptor) StmtExecContext(ctx context.Context, conn driver.StmtExecContext, query string, args []driver.NamedValue) (driver.Result, error) {
	start := time.Now()
	res, err := conn.ExecContext(ctx, args)
	mi.measure(ctx, "stmt-exec-context", sqlVerb(query), start, err)
	return res, err
}

func (mi *metricInterceptor) StmtQueryContext(ctx context.Context, conn driver.StmtQueryContext, query string, args []driver.NamedValue) (context.Context, driver.Rows, error) {
	start := time.Now()
	rows, err := conn.QueryContext(ctx, args)
	mi.measure(ctx, "stmt-query-context", sqlVerb(query), start, err)
	return ctx, rows, err
}

func (mi *metricInterceptor) TxCommit(ctx context.Context, conn driver.Tx) error {
	start := time.Now()
	err := conn.Commit()
	mi.measure(ctx, "tx-commit", "commit", start, err)
	return err
}

func (mi *metricInterceptor) TxRollback(ctx context.Context, conn driver.Tx) error {
	start := time.Now()
	err := conn.Rollback()
	mi.measure(ctx, "tx-rollback", "rollback", start, err)
	return err
}

func (mi *metricInterceptor) measure(ctx context.Context, op, method string, start time.Time, err error) {
	storeOp := operationFromContext(ctx)

	dbOpTotal.WithLabelValues(op, storeOp).Inc()
	dbOpLatency.WithLabelValues(op, method, storeOp).Observe(float64(time.Since(start).Milliseconds()))

	// ErrSkip asks database/sql to fall back to another path, it is not a failure
	if err != nil && !errors.Is(err, driver.ErrSkip) && !errors.Is(err, io.EOF) {
		dbOpErrors.WithLabelValues(op, storeOp).Inc()
	}
}

func sqlVerb(query string) string {
	if m := sqlVerbRegex.FindStringSubmatch(query); len(m) > 1 {
		return strings.ToLower(m[1])
	}
	return "unknown"
}
