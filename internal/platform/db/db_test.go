package db

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/fatflowers/entitlement/internal/models"
	cfgpkg "github.com/fatflowers/entitlement/pkg/config"
)

func TestOpen_RejectsBadInput(t *testing.T) {
	l := zap.NewNop().Sugar()
	_, err := Open(l, cfgpkg.DBDriverSQLite, "", gormlogger.Silent)
	require.Error(t, err)

	_, err = Open(l, "mysql", "dsn", gormlogger.Silent)
	require.Error(t, err)
}

func TestAutoMigrate_SQLite(t *testing.T) {
	l := zap.NewNop().Sugar()
	gdb, err := Open(l, cfgpkg.DBDriverSQLite, "file:automigrate?mode=memory&cache=shared", gormlogger.Silent)
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(l, gdb))

	for _, table := range []any{&models.Subscription{}, &models.SubscriptionLog{}, &models.Transaction{}, &models.TransactionLog{}, &models.PaymentNotificationLog{}} {
		require.True(t, gdb.Migrator().HasTable(table))
	}
	require.True(t, gdb.Migrator().HasIndex(&models.Subscription{}, "OriginalTransactionID"))
}
