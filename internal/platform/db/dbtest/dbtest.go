// Package dbtest opens migrated in-memory SQLite databases for package tests.
package dbtest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/fatflowers/entitlement/internal/platform/db"
	cfgpkg "github.com/fatflowers/entitlement/pkg/config"
)

// New returns a fresh database private to t.
func New(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)

	l := zap.NewNop().Sugar()
	gdb, err := db.Open(l, cfgpkg.DBDriverSQLite, dsn, gormlogger.Silent)
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(l, gdb))

	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return gdb
}
