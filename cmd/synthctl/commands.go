package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/holiman/uint256"
	"github.com/spf13/cobra"

	"github.com/prismfinance/synth-engine/internal/amm"
	"github.com/prismfinance/synth-engine/internal/fixedpoint"
	"github.com/prismfinance/synth-engine/internal/intent"
	"github.com/prismfinance/synth-engine/internal/liquidity"
	"github.com/prismfinance/synth-engine/internal/model"
	"github.com/prismfinance/synth-engine/internal/pair"
	"github.com/prismfinance/synth-engine/internal/routing"
)

type rootOptions struct {
	snapshot string
	hub      string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "synthctl",
		Short:         "Offline quoting against a pool snapshot",
		Long:          `Plan routes, quote swaps and plan liquidity changes against a JSON pool snapshot without a running server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.snapshot, "snapshot", os.Getenv("SYNTH_SNAPSHOT"), "pool snapshot file (JSON array of pools)")
	root.PersistentFlags().StringVar(&opts.hub, "hub", envOr("HUB_SYMBOL", "sUSD"), "hub currency for two-hop routes")

	root.AddCommand(newRouteCmd(opts), newQuoteCmd(opts), newLiquidityCmd(opts))
	return root
}

func newRouteCmd(opts *rootOptions) *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Show the route a swap would take",
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := loadIndex(opts.snapshot)
			if err != nil {
				return err
			}
			route, err := routing.PlanRoute(from, to, index, opts.hub)
			if err != nil {
				return err
			}
			pools := make([]string, 0, 2)
			for _, p := range route.Pools() {
				pools = append(pools, p.Key().String())
			}
			return printJSON(cmd, map[string]any{
				"kind":  route.Kind(),
				"from":  route.Source(),
				"to":    route.Destination(),
				"pools": pools,
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "source currency")
	cmd.Flags().StringVar(&to, "to", "", "destination currency")
	cmd.MarkFlagRequired("from")
	cmd.MarkFlagRequired("to")
	return cmd
}

func newQuoteCmd(opts *rootOptions) *cobra.Command {
	var from, to, amount string
	var slippage uint64
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Quote a swap and its slippage floor",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := fixedpoint.ParseAmount(amount)
			if err != nil {
				return err
			}
			index, err := loadIndex(opts.snapshot)
			if err != nil {
				return err
			}
			q, err := routing.Quote(from, to, in, index, opts.hub)
			if err != nil {
				return err
			}
			minOut, err := intent.MinOut(q.OutputAmount, slippage)
			if err != nil {
				return err
			}
			return printJSON(cmd, struct {
				RouteKind model.RouteKind `json:"route_kind"`
				model.Quote
				MinAmountOut *uint256.Int `json:"min_amount_out"`
				SlippageBps  uint64       `json:"slippage_bps"`
			}{q.Route.Kind(), q, minOut, slippage})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "source currency")
	cmd.Flags().StringVar(&to, "to", "", "destination currency")
	cmd.Flags().StringVar(&amount, "amount", "", "input amount in base units")
	cmd.Flags().Uint64Var(&slippage, "slippage-bps", intent.DefaultSlippageBps, "slippage tolerance in basis points")
	for _, f := range []string{"from", "to", "amount"} {
		cmd.MarkFlagRequired(f)
	}
	return cmd
}

func newLiquidityCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "liquidity",
		Short: "Plan adding or removing pool liquidity",
	}

	var addPair, amountA, amountB string
	add := &cobra.Command{
		Use:   "add",
		Short: "Plan a deposit; the B side is derived from the pool ratio",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := loadPool(opts.snapshot, addPair)
			if err != nil {
				return err
			}
			a, err := fixedpoint.ParseAmount(amountA)
			if err != nil {
				return err
			}
			var b *uint256.Int
			if amountB != "" {
				if b, err = fixedpoint.ParseAmount(amountB); err != nil {
					return err
				}
			}
			plan, err := liquidity.PlanAdd(pool, a, b)
			if err != nil {
				return err
			}
			return printJSON(cmd, plan)
		},
	}
	add.Flags().StringVar(&addPair, "pair", "", "pool, as A-B")
	add.Flags().StringVar(&amountA, "amount-a", "", "deposit of the pool's A token")
	add.Flags().StringVar(&amountB, "amount-b", "", "deposit of the B token, first deposit only")
	add.MarkFlagRequired("pair")
	add.MarkFlagRequired("amount-a")

	var removePair, lp string
	remove := &cobra.Command{
		Use:   "remove",
		Short: "Plan burning LP shares",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := loadPool(opts.snapshot, removePair)
			if err != nil {
				return err
			}
			shares, err := fixedpoint.ParseAmount(lp)
			if err != nil {
				return err
			}
			plan, err := liquidity.PlanRemove(pool, shares)
			if err != nil {
				return err
			}
			return printJSON(cmd, plan)
		},
	}
	remove.Flags().StringVar(&removePair, "pair", "", "pool, as A-B")
	remove.Flags().StringVar(&lp, "lp", "", "LP shares to burn")
	remove.MarkFlagRequired("pair")
	remove.MarkFlagRequired("lp")

	var spotPair, base string
	spot := &cobra.Command{
		Use:   "spot",
		Short: "Show a pool's marginal price",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := loadPool(opts.snapshot, spotPair)
			if err != nil {
				return err
			}
			if base == "" {
				base = pool.TokenA
			}
			price, err := amm.SpotPrice(pool, base)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]string{
				"pair":  pool.Key().String(),
				"base":  base,
				"price": price.String(),
			})
		},
	}
	spot.Flags().StringVar(&spotPair, "pair", "", "pool, as A-B")
	spot.Flags().StringVar(&base, "base", "", "token priced; defaults to the pool's A token")
	spot.MarkFlagRequired("pair")

	cmd.AddCommand(add, remove, spot)
	return cmd
}

// --- Snapshot loading ---

func loadSnapshot(path string) ([]model.Pool, error) {
	if path == "" {
		return nil, errors.New("--snapshot (or SYNTH_SNAPSHOT) is required")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var pools []model.Pool
	if err := json.Unmarshal(raw, &pools); err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", path, err)
	}
	for i, p := range pools {
		if _, err := pair.Of(p.TokenA, p.TokenB); err != nil {
			return nil, fmt.Errorf("snapshot pool %d: %w", i, err)
		}
	}
	return pools, nil
}

func loadIndex(path string) (model.PoolIndex, error) {
	pools, err := loadSnapshot(path)
	if err != nil {
		return nil, err
	}
	return model.NewPoolIndex(pools...), nil
}

func loadPool(path, rawPair string) (model.Pool, error) {
	key, err := pair.Parse(rawPair)
	if err != nil {
		return model.Pool{}, err
	}
	index, err := loadIndex(path)
	if err != nil {
		return model.Pool{}, err
	}
	pool, ok := index[key]
	if !ok {
		return model.Pool{}, fmt.Errorf("pool %s not in snapshot", key)
	}
	return pool, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
