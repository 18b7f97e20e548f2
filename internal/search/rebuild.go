package search

import (
	"context"
	"fmt"

	"github.com/devrev/paracore/internal/model"
	"github.com/devrev/paracore/internal/store"
	"go.uber.org/zap"
)

// RebuildIndex pages all stored objects of the tenant into the destination index.
// Objects with indexed=false are skipped.
func (x *MemoryIndex) RebuildIndex(ctx context.Context, st store.Store, tenantID, destination string) (int, error) {
	if destination == "" {
		destination = tenantID
	}

	pager := model.NewPager(model.MaxPageLimit)
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		page, err := st.ReadPage(ctx, tenantID, pager)
		if err != nil {
			return total, fmt.Errorf("failed to read page after %q: %w", pager.LastKey, err)
		}
		if len(page) == 0 {
			break
		}

		batch := make([]*model.Object, 0, len(page))
		for _, obj := range page {
			if obj.IsIndexed() {
				batch = append(batch, obj)
			}
		}
		if err := x.IndexAll(ctx, destination, batch); err != nil {
			return total, err
		}
		total += len(batch)
	}

	x.logger.Info("Index rebuilt",
		zap.String("tenant_id", tenantID),
		zap.String("destination", destination),
		zap.Int("indexed", total))
	return total, nil
}
