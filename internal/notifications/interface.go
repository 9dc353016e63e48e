package notifications

import (
	"context"

	"github.com/xsentiment/sentiment-bot/internal/models"
)

// NotificationInterface defines the contract for notification services
type NotificationInterface interface {
	SendReport(ctx context.Context, report *models.DailyReport) error
	SendAlert(ctx context.Context, alert *models.Alert) error
}
