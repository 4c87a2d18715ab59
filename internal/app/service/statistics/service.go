package statistics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/fatflowers/entitlement/internal/models"
	"github.com/fatflowers/entitlement/pkg/types"
)

type StatisticType string

const (
	// Current subscription table breakdowns
	StatisticTypeEntitlementCount StatisticType = "entitlement_count"
	StatisticTypeStatusCount      StatisticType = "status_count"
	StatisticTypeTrialUsedCount   StatisticType = "trial_used_count"

	// Activity over time
	StatisticTypeDailyUpdateCount  StatisticType = "daily_update_count"
	StatisticTypeDailyWebhookCount StatisticType = "daily_webhook_count"
)

// subscriptionStatistics read the subscription table and honour request filters.
var subscriptionStatistics = []StatisticType{
	StatisticTypeEntitlementCount,
	StatisticTypeStatusCount,
	StatisticTypeTrialUsedCount,
}

var filterFields = map[string]bool{
	"entitlement":         true,
	"subscription_status": true,
	"subscription_type":   true,
	"product_id":          true,
	"auto_renew_enabled":  true,
	"last_update_source":  true,
}

type EntitlementStatisticDataItem struct {
	ID StatisticType `json:"id"`
}

type EntitlementStatisticRequest struct {
	Filters   types.CommonFilters             `json:"filters"`
	DataItems []*EntitlementStatisticDataItem `json:"data_items"`
}

// Validate rejects unknown filter columns and unknown statistic ids.
func (r *EntitlementStatisticRequest) Validate() error {
	if r == nil || len(r.DataItems) == 0 {
		return fmt.Errorf("data_items is required")
	}
	for _, f := range r.Filters {
		if err := f.Validate(filterFields); err != nil {
			return err
		}
	}
	for _, item := range r.DataItems {
		switch item.ID {
		case StatisticTypeEntitlementCount, StatisticTypeStatusCount, StatisticTypeTrialUsedCount,
			StatisticTypeDailyUpdateCount, StatisticTypeDailyWebhookCount:
		default:
			return fmt.Errorf("invalid data item id: %s", item.ID)
		}
	}
	return nil
}

type EntitlementStatisticResponseDataItem struct {
	Date  string `json:"date,omitempty"`
	Label string `json:"label,omitempty"`
	Value int64  `json:"value"`
}

type EntitlementStatisticResponse struct {
	DataItems map[StatisticType][]EntitlementStatisticResponseDataItem `json:"data_items"`
}

// Service provides statistics operations
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

func New(db *gorm.DB) *Service { return &Service{db: db, now: time.Now} }

// dailyWindow bounds the per-day statistics.
const dailyWindow = 30 * 24 * time.Hour

func (s *Service) countBy(ctx context.Context, column string, filters types.CommonFilters) ([]EntitlementStatisticResponseDataItem, error) {
	var results []EntitlementStatisticResponseDataItem
	q := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Select(column + " as label, count(*) as value").
		Where(filters).
		Group(column).
		Order("label")
	if err := q.Scan(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getTrialUsedCount(ctx context.Context, filters types.CommonFilters) ([]EntitlementStatisticResponseDataItem, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where(filters).
		Where("has_used_trial = ?", true).
		Count(&total).Error; err != nil {
		return nil, err
	}
	return []EntitlementStatisticResponseDataItem{{Label: "has_used_trial", Value: total}}, nil
}

// daily groups rows of table created in the last 30 days by day and labelColumn.
func (s *Service) daily(ctx context.Context, table, labelColumn string) ([]EntitlementStatisticResponseDataItem, error) {
	var results []EntitlementStatisticResponseDataItem
	q := s.db.WithContext(ctx).Table(table).
		Select("CAST(DATE(created_at) AS TEXT) as date, "+labelColumn+" as label, count(*) as value").
		Where("created_at >= ?", s.now().Add(-dailyWindow)).
		Group("CAST(DATE(created_at) AS TEXT)").
		Group(labelColumn).
		Order("date DESC").
		Order("label")
	if err := q.Scan(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getEntitlementStatistic(ctx context.Context, request *EntitlementStatisticRequest, dataItem *EntitlementStatisticDataItem) ([]EntitlementStatisticResponseDataItem, error) {
	switch dataItem.ID {
	case StatisticTypeEntitlementCount:
		return s.countBy(ctx, "entitlement", request.Filters)
	case StatisticTypeStatusCount:
		return s.countBy(ctx, "subscription_status", request.Filters)
	case StatisticTypeTrialUsedCount:
		return s.getTrialUsedCount(ctx, request.Filters)
	case StatisticTypeDailyUpdateCount:
		return s.daily(ctx, (models.SubscriptionLog{}).TableName(), "reason")
	case StatisticTypeDailyWebhookCount:
		return s.daily(ctx, (models.PaymentNotificationLog{}).TableName(), "status")
	default:
		return nil, fmt.Errorf("invalid data item id: %s", dataItem.ID)
	}
}

// GetEntitlementStatistic computes every requested data item concurrently. Filters only apply
// to statistics over the subscription table; log-based items come back nil when filters are set.
func (s *Service) GetEntitlementStatistic(ctx context.Context, request *EntitlementStatisticRequest) (*EntitlementStatisticResponse, error) {
	if err := request.Validate(); err != nil {
		return nil, err
	}

	var wg sync.WaitGroup
	errChan := make(chan error, len(request.DataItems))
	resChan := make(chan *lo.Entry[StatisticType, []EntitlementStatisticResponseDataItem], len(request.DataItems))

	for _, item := range request.DataItems {
		wg.Add(1)
		go func(di *EntitlementStatisticDataItem) {
			defer wg.Done()
			if len(request.Filters) > 0 && !lo.Contains(subscriptionStatistics, di.ID) {
				resChan <- &lo.Entry[StatisticType, []EntitlementStatisticResponseDataItem]{Key: di.ID, Value: nil}
				return
			}
			res, err := s.getEntitlementStatistic(ctx, request, di)
			if err != nil {
				errChan <- fmt.Errorf("failed to compute %s: %w", di.ID, err)
				return
			}
			resChan <- &lo.Entry[StatisticType, []EntitlementStatisticResponseDataItem]{Key: di.ID, Value: res}
		}(item)
	}

	go func() { wg.Wait(); close(errChan); close(resChan) }()

	results := make(map[StatisticType][]EntitlementStatisticResponseDataItem)
	for i := 0; i < len(request.DataItems); i++ {
		select {
		case err := <-errChan:
			if err != nil {
				return nil, err
			}
		case entry := <-resChan:
			if entry != nil {
				results[entry.Key] = entry.Value
			}
		}
	}
	return &EntitlementStatisticResponse{DataItems: results}, nil
}

var Module = fx.Options(
	fx.Provide(New),
)
