// Package routing plans and quotes swaps between two currencies.
//
// A direct pool always wins. Only when none exists does the engine fall back
// to a two-hop route through the hub currency; multi-hop is never benchmarked
// against a direct pool by price.
package routing

import (
	"errors"
	"fmt"
	"math"

	"github.com/holiman/uint256"

	"github.com/prismfinance/synth-engine/internal/amm"
	"github.com/prismfinance/synth-engine/internal/fixedpoint"
	"github.com/prismfinance/synth-engine/internal/model"
)

var (
	// ErrNoRouteAvailable is returned when neither a direct pool nor both hub
	// legs exist for a pair.
	ErrNoRouteAvailable = errors.New("routing: no route available")

	// ErrSameCurrency is returned when source and destination are equal.
	ErrSameCurrency = errors.New("routing: source and destination are the same currency")
)

// NeedsMultiHop reports whether no direct pool exists between from and to.
func NeedsMultiHop(from, to string, index model.PoolIndex) bool {
	_, ok := index.Lookup(from, to)
	return !ok
}

// PlanRoute returns the direct route when a pool for (from, to) exists and
// otherwise the two-hop route from -> hub -> to. A paused pool still counts
// as existing; quoting it reports amm.ErrPoolPaused.
func PlanRoute(from, to string, index model.PoolIndex, hub string) (model.Route, error) {
	if from == to {
		return nil, fmt.Errorf("%w: %s", ErrSameCurrency, from)
	}
	if pool, ok := index.Lookup(from, to); ok {
		return model.DirectRoute{Pool: pool, From: from, To: to}, nil
	}
	if from == hub || to == hub {
		return nil, fmt.Errorf("%w: %s -> %s has no direct pool", ErrNoRouteAvailable, from, to)
	}

	first, ok := index.Lookup(from, hub)
	if !ok {
		return nil, fmt.Errorf("%w: %s -> %s (missing %s/%s leg)", ErrNoRouteAvailable, from, to, from, hub)
	}
	second, ok := index.Lookup(hub, to)
	if !ok {
		return nil, fmt.Errorf("%w: %s -> %s (missing %s/%s leg)", ErrNoRouteAvailable, from, to, hub, to)
	}
	return model.TwoHopRoute{First: first, Second: second, From: from, Hub: hub, To: to}, nil
}

// QuoteRoute quotes amountIn along route. Each hop's output is the next
// hop's input. FeeAmount and PriceImpactBps are the sums of the hop values;
// SnapshotAt is the oldest oracle timestamp of the pools used.
func QuoteRoute(route model.Route, amountIn *uint256.Int) (model.Quote, error) {
	switch r := route.(type) {
	case model.DirectRoute:
		q, err := amm.QuoteSwapExactIn(r.Pool, r.From, amountIn)
		if err != nil {
			return model.Quote{}, err
		}
		if q.Hops[0].TokenOut != r.To {
			return model.Quote{}, fmt.Errorf("%w: pool %s does not pay %s", ErrNoRouteAvailable, r.Pool.Key(), r.To)
		}
		q.Route = r
		return q, nil

	case model.TwoHopRoute:
		first, err := amm.QuoteSwapExactIn(r.First, r.From, amountIn)
		if err != nil {
			return model.Quote{}, fmt.Errorf("hop 1 (%s): %w", r.First.Key(), err)
		}
		if first.Hops[0].TokenOut != r.Hub {
			return model.Quote{}, fmt.Errorf("%w: pool %s does not pay hub %s", ErrNoRouteAvailable, r.First.Key(), r.Hub)
		}
		second, err := amm.QuoteSwapExactIn(r.Second, r.Hub, first.OutputAmount)
		if err != nil {
			return model.Quote{}, fmt.Errorf("hop 2 (%s): %w", r.Second.Key(), err)
		}
		if second.Hops[0].TokenOut != r.To {
			return model.Quote{}, fmt.Errorf("%w: pool %s does not pay %s", ErrNoRouteAvailable, r.Second.Key(), r.To)
		}
		return compose(r, amountIn, first, second)

	default:
		return model.Quote{}, fmt.Errorf("routing: unsupported route type %T", route)
	}
}

func compose(r model.TwoHopRoute, amountIn *uint256.Int, first, second model.Quote) (model.Quote, error) {
	fee, err := fixedpoint.Add(first.FeeAmount, second.FeeAmount)
	if err != nil {
		return model.Quote{}, err
	}
	snapshotAt := first.SnapshotAt
	if second.SnapshotAt.Before(snapshotAt) {
		snapshotAt = second.SnapshotAt
	}
	return model.Quote{
		InputAmount:    amountIn.Clone(),
		OutputAmount:   second.OutputAmount.Clone(),
		FeeAmount:      fee,
		PriceImpactBps: addBps(first.PriceImpactBps, second.PriceImpactBps),
		Route:          r,
		Hops:           []model.HopQuote{first.Hops[0], second.Hops[0]},
		SnapshotAt:     snapshotAt,
	}, nil
}

// addBps adds two impacts, saturating at the int64 bounds.
func addBps(a, b int64) int64 {
	sum := a + b
	switch {
	case a > 0 && b > 0 && sum < 0:
		return math.MaxInt64
	case a < 0 && b < 0 && sum >= 0:
		return math.MinInt64
	}
	return sum
}

// Quote plans a route from the index and quotes it.
func Quote(from, to string, amountIn *uint256.Int, index model.PoolIndex, hub string) (model.Quote, error) {
	route, err := PlanRoute(from, to, index, hub)
	if err != nil {
		return model.Quote{}, err
	}
	return QuoteRoute(route, amountIn)
}
