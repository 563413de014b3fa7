// Package dbtest opens an isolated in-memory database for package tests.
package dbtest

import (
	"fmt"
	"io"
	"strings"
	"testing"

	"compensation-engine/internal/config"
	"compensation-engine/internal/database"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// Logger returns a logger that discards output.
func Logger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// Open returns a migrated sqlite database private to t.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.New(config.DatabaseConfig{
		Driver: "sqlite",
		DBName: fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
	}, Logger())
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = db.Close()
	})
	return db.DB
}
