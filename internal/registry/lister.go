package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/felipepmaragno/model-router/internal/domain"
)

// MultiLister merges the listings of several providers in the given order.
// It fails only when every lister fails.
type MultiLister []Lister

func (m MultiLister) ListModels(ctx context.Context) ([]domain.DiscoveredModel, error) {
	var all []domain.DiscoveredModel
	var errs []error

	for _, l := range m {
		models, err := l.ListModels(ctx)
		if err != nil {
			slog.Warn("model listing failed", "lister", fmt.Sprintf("%T", l), "error", err)
			errs = append(errs, err)
			continue
		}
		all = append(all, models...)
	}

	if len(all) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return all, nil
}

// ListerFunc adapts a function to Lister.
type ListerFunc func(ctx context.Context) ([]domain.DiscoveredModel, error)

func (f ListerFunc) ListModels(ctx context.Context) ([]domain.DiscoveredModel, error) {
	return f(ctx)
}
