package cache

import (
	"context"

	"github.com/sells-group/scopesignal/internal/model"
)

// Nop is a cache that never stores anything. Every Get is a miss.
type Nop struct{}

func (Nop) Get(context.Context, string) (*model.ClassificationResult, bool, error) {
	return nil, false, nil
}

func (Nop) Set(context.Context, string, model.ClassificationResult) error { return nil }

func (Nop) Stats(context.Context) (Stats, error) { return Stats{Backend: "none"}, nil }

func (Nop) Clear(context.Context) (int, error) { return 0, nil }

func (Nop) Purge(context.Context) (int, error) { return 0, nil }

func (Nop) Close() error { return nil }
