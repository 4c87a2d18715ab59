package app

import (
	"time"

	"go.uber.org/fx"

	"github.com/fatflowers/entitlement/internal/app/api/server"
	"github.com/fatflowers/entitlement/internal/app/service/entitlement"
	notificationhandler "github.com/fatflowers/entitlement/internal/app/service/notification_handler"
	notificationlog "github.com/fatflowers/entitlement/internal/app/service/notification_log"
	"github.com/fatflowers/entitlement/internal/app/service/purchase"
	"github.com/fatflowers/entitlement/internal/app/service/reconcile"
	"github.com/fatflowers/entitlement/internal/app/service/refresh"
	"github.com/fatflowers/entitlement/internal/app/service/statistics"
	"github.com/fatflowers/entitlement/internal/app/service/subscription"
	"github.com/fatflowers/entitlement/internal/platform/cache"
	"github.com/fatflowers/entitlement/internal/platform/db"
	"github.com/fatflowers/entitlement/internal/platform/marketplace"
	"github.com/fatflowers/entitlement/internal/platform/mq"
	"github.com/fatflowers/entitlement/pkg/config"
	"github.com/fatflowers/entitlement/pkg/logger"
)

const (
	DefaultStartTimeout = 15 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

// Infra provides everything except the HTTP server; command line tools reuse it.
var Infra = fx.Options(
	logger.Module,
	config.Module,
	db.Module,
	cache.Module,
	mq.Module,
	marketplace.Module,
	entitlement.Module,
	subscription.Module,
	reconcile.Module,
	refresh.Module,
	notificationlog.Module,
	notificationhandler.Module,
	purchase.Module,
	statistics.Module,
)

var Module = fx.Options(
	Infra,
	server.Module,
)
