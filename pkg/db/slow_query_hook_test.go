package db

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"freelancehub/pkg/config"
)

func TestSlowQueryTracerLogsOnlySlowQueries(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	tr := NewSlowQueryTracer(zap.New(core), 5*time.Millisecond)

	fast := tr.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	tr.TraceQueryEnd(fast, nil, pgx.TraceQueryEndData{CommandTag: pgconn.NewCommandTag("SELECT 1")})
	assert.Equal(t, 0, logs.Len())

	slow := tr.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "UPDATE projects\n   SET version = 2"})
	time.Sleep(10 * time.Millisecond)
	tr.TraceQueryEnd(slow, nil, pgx.TraceQueryEndData{CommandTag: pgconn.NewCommandTag("UPDATE 1")})

	entries := logs.FilterMessage("slow-query").All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, "UPDATE projects SET version = 2", entries[0].ContextMap()["sql"])
	}
}

func TestOperationOf(t *testing.T) {
	assert.Equal(t, "select", operationOf("  SELECT * FROM projects"))
	assert.Equal(t, "unknown", operationOf(""))
}

func TestDSN(t *testing.T) {
	dsn := DSN(config.DBConfig{Host: "db", Port: 5432, User: "app", Password: "p@ss", Name: "market"})
	assert.Equal(t, "postgres://app:p%40ss@db:5432/market?sslmode=disable", dsn)
}

func TestExtractUpMigration(t *testing.T) {
	content := "-- +migrate Up\nCREATE TABLE a(id int);\n-- +migrate Down\nDROP TABLE a;\n"
	assert.Equal(t, "\nCREATE TABLE a(id int);\n", ExtractUpMigration(content))
	assert.Equal(t, "SELECT 1;", ExtractUpMigration("SELECT 1;"))
}
