package notifications

import "github.com/azure/discussion-pulse/internal/models"

// NotificationInterface defines the contract for notification services
type NotificationInterface interface {
	SendAlert(alert *models.Alert) error
}
