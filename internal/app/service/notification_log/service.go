package notification_log

import (
	"context"
	"sync"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/entitlement/internal/models"
	"github.com/fatflowers/entitlement/pkg/logctx"
	"github.com/fatflowers/entitlement/pkg/tool"
)

type Service struct {
	db      *gorm.DB
	log     *zap.SugaredLogger
	pending sync.WaitGroup
}

func New(db *gorm.DB, log *zap.SugaredLogger) *Service { return &Service{db: db, log: log} }

// Save asynchronously persists a payment notification log. Nil input is ignored.
func (s *Service) Save(ctx context.Context, log *models.PaymentNotificationLog) {
	if log == nil {
		return
	}
	if log.ID == "" {
		log.ID = tool.GenerateUUIDV7()
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.db.Save(log).Error; err != nil {
			logctx.FromCtx(ctx, s.log).Errorf("failed to save notification log: %v", err)
		}
	}()
}

// Wait blocks until every pending Save has finished.
func (s *Service) Wait() {
	s.pending.Wait()
}

// ListByNotificationUUID returns the log rows of one notification delivery, oldest first.
func (s *Service) ListByNotificationUUID(ctx context.Context, notificationUUID string) ([]*models.PaymentNotificationLog, error) {
	var out []*models.PaymentNotificationLog
	if err := s.db.WithContext(ctx).
		Where("notification_uuid = ?", notificationUUID).
		Order("id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func newService(lc fx.Lifecycle, db *gorm.DB, log *zap.SugaredLogger) *Service {
	s := New(db, log)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			s.Wait()
			return nil
		},
	})
	return s
}

var Module = fx.Options(
	fx.Provide(newService),
)
