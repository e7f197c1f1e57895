package repository

import (
	"fmt"

	model "table-bidding/internal/models"
)

// FallbackTables is the placeholder seating map served when the store is unreachable.
// The tables carry no window so viewers see a loading state rather than a live one.
func FallbackTables() []model.Table {
	tables := make([]model.Table, 0, 12)
	for i := 1; i <= 8; i++ {
		tables = append(tables, model.Table{
			ID:         fmt.Sprintf("vip%d", i),
			Name:       fmt.Sprintf("VIP %d", i),
			Category:   model.CategoryVIP,
			Pax:        "6-8",
			BasePrice:  30000,
			CurrentBid: 30000,
		})
	}
	for i := 1; i <= 4; i++ {
		tables = append(tables, model.Table{
			ID:         fmt.Sprintf("standing%d", i),
			Name:       fmt.Sprintf("Standing %d", i),
			Category:   model.CategoryStanding,
			Pax:        "5",
			BasePrice:  25000,
			CurrentBid: 25000,
		})
	}
	return tables
}
