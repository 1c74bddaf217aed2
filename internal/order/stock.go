package order

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/gofrs/uuid"
)

type stockLine struct {
	productID uuid.UUID
	quantity  int
}

// stockLines sums quantities per product and sorts by product ID, so every
// transaction locks product rows in the same order.
func stockLines(items []LineItem) []stockLine {
	index := make(map[uuid.UUID]int, len(items))
	lines := make([]stockLine, 0, len(items))
	for _, item := range items {
		if i, ok := index[item.ProductID]; ok {
			lines[i].quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(lines)
		lines = append(lines, stockLine{productID: item.ProductID, quantity: item.Quantity})
	}
	sort.Slice(lines, func(i, j int) bool {
		return bytes.Compare(lines[i].productID[:], lines[j].productID[:]) < 0
	})
	return lines
}

// reserveStock decrements stock for every product inside tx. The first product
// without enough stock aborts the whole unit of work.
func reserveStock(ctx context.Context, tx Tx, items []LineItem) error {
	for _, line := range stockLines(items) {
		if err := tx.ReserveStock(ctx, line.productID, line.quantity); err != nil {
			return fmt.Errorf("reserve stock for product %s: %w", line.productID, err)
		}
	}
	return nil
}

func releaseStock(ctx context.Context, tx Tx, items []LineItem) error {
	for _, line := range stockLines(items) {
		if err := tx.ReleaseStock(ctx, line.productID, line.quantity); err != nil {
			return fmt.Errorf("release stock for product %s: %w", line.productID, err)
		}
	}
	return nil
}
