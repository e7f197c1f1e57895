package realtime

import (
	"context"

	"table-bidding/internal/models"
)

// Publisher delivers change events to viewers
type Publisher interface {
	Publish(ctx context.Context, event models.ChangeEvent) error
}
