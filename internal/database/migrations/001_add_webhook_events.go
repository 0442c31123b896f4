package migrations

import (
	"github.com/swiftdrop/fulfillment-api/internal/types"
	"gorm.io/gorm"
)

// AddWebhookEvents creates the replay-protection table before the rest
// of the schema so its unique index exists ahead of any webhook writes.
func AddWebhookEvents(db *gorm.DB) error {
	return db.AutoMigrate(&types.WebhookEvent{})
}
