package imagery

import (
	"context"
	"fmt"
	"time"

	"github.com/gogpu/tilecache/internal/metrics"
)

// Provider produces imagery for a key.
//
// Name identifies the provider: two providers with the same name must
// return the same imagery for equal keys, because managers sharing a Hub
// treat them as interchangeable. Fetch returns nil data when there is no
// image for key. Fetch must honor ctx.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, key any) (*Data, error)
}

// ImmediateProvider is a Provider that can sometimes answer without
// blocking, for example from memory. Such fetches run on the requesting
// goroutine instead of an Executor.
type ImmediateProvider interface {
	Provider
	CanProvideImmediately() bool
}

// ObservableProvider is a Provider that pushes updated imagery.
// Observe calls fn with every new Data for key until cancel is called.
type ObservableProvider interface {
	Provider
	Observe(key any, fn func(*Data)) (cancel func())
}

// fetchFrom calls p.Fetch, recording metrics and turning a panic into an
// error so that one broken provider cannot take down its caller.
func fetchFrom(ctx context.Context, p Provider, key any) (data *Data, err error) {
	name := p.Name()
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			data, err = nil, fmt.Errorf("imagery: provider %s panicked: %v", name, r)
		}
		metrics.FetchDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		result := metrics.ResultOK
		switch {
		case ctx.Err() != nil:
			result = metrics.ResultCancelled
		case err != nil:
			result = metrics.ResultError
		case data == nil:
			result = metrics.ResultEmpty
		}
		metrics.Fetches.WithLabelValues(name, result).Inc()
	}()
	return p.Fetch(ctx, key)
}
