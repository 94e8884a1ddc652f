package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/defistate/concentrated-liquidity-go/pair"
	"github.com/defistate/concentrated-liquidity-go/position"
	"github.com/defistate/concentrated-liquidity-go/protocols/clpool"
	"github.com/defistate/concentrated-liquidity-go/protocols/clpool/calculator"
	"github.com/defistate/concentrated-liquidity-go/protocols/clpool/calculator/decimalmath"
	"github.com/defistate/concentrated-liquidity-go/store"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"lukechampine.com/uint128"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "clpool",
		Short:        "Concentrated-liquidity pool engine",
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "config file path")
	pf.String("db", "./data/clpool.db", "SQLite state database")
	pf.String("journal", "", "append committed events to this JSONL file")
	pf.String("pg-dsn", "", "record committed events in Postgres")
	pf.String("metrics-out", "", "write Prometheus metrics to this file on exit")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.Int("max-swap-steps", calculator.DefaultMaxSteps, "maximum ticks a swap may visit")
	pf.Int32("tick-range-limit", pair.DefaultTickRangeLimit, "maximum upper-lower of a new position")
	pf.String("sender", "", "address acting in mutating commands")

	root.AddCommand(
		newPoolCmd(),
		newProvideCmd(),
		newWithdrawCmd(),
		newSwapCmd(),
		newSimulateCmd(),
		newClaimCmd(),
		newTransferCmd(),
		newPositionCmd(),
		newSnapshotCmd(),
	)
	return root
}

// withApp builds the app for a command and closes it afterwards.
func withApp(run func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		return run(cmd, a, args)
	}
}

func (a *app) sender() (common.Address, error) {
	if a.cfg.Sender == (common.Address{}) {
		return common.Address{}, errors.New("sender is required (--sender or CLPOOL_SENDER)")
	}
	return a.cfg.Sender, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%q is not a hex address", s)
	}
	return common.HexToAddress(s), nil
}

func parsePoolID(s string) (clpool.PoolID, error) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return clpool.PoolID{}, fmt.Errorf("%q is not a pool id", s)
	}
	return common.BytesToHash(b), nil
}

func parseAmount(s string) (uint128.Uint128, error) {
	if s == "" {
		return uint128.Zero, nil
	}
	u, err := uint128.FromString(s)
	if err != nil {
		return uint128.Zero, fmt.Errorf("amount %q: %w", s, err)
	}
	return u, nil
}

// parseOptionalDecimal returns nil when the flag was not given.
func parseOptionalDecimal(cmd *cobra.Command, name string) (*decimalmath.Decimal, error) {
	if !cmd.Flags().Changed(name) {
		return nil, nil
	}
	s, _ := cmd.Flags().GetString(name)
	d, err := decimalmath.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &d, nil
}

type poolView struct {
	ID          clpool.PoolID       `json:"id"`
	Asset0      common.Address      `json:"asset0"`
	Asset1      common.Address      `json:"asset1"`
	TickSpacing uint16              `json:"tickSpacing"`
	FeeRate     decimalmath.Decimal `json:"feeRate"`
	TickIndex   int32               `json:"tickIndex"`
	SqrtPrice   string              `json:"sqrtPrice"`
	Price       string              `json:"price,omitempty"`
	Volume      [2]string           `json:"cumulativeVolume"`
}

func newPoolView(p clpool.PoolState) poolView {
	return poolView{
		ID:          p.ID,
		Asset0:      p.Key.Asset0,
		Asset1:      p.Key.Asset1,
		TickSpacing: p.Key.TickSpacing,
		FeeRate:     p.Key.FeeRate,
		TickIndex:   p.TickIndex,
		SqrtPrice:   p.SqrtPrice.Dec(),
		Volume:      [2]string{p.Volume[0].String(), p.Volume[1].String()},
	}
}

type tickView struct {
	Index          int32               `json:"index"`
	FeeGrowth0     decimalmath.Decimal `json:"feeGrowth0"`
	FeeGrowth1     decimalmath.Decimal `json:"feeGrowth1"`
	TotalLiquidity string              `json:"totalLiquidity"`
}

func newTickViews(ticks []clpool.TickInfo) []tickView {
	views := make([]tickView, 0, len(ticks))
	for _, t := range ticks {
		views = append(views, tickView{Index: t.Index, FeeGrowth0: t.FeeGrowth0, FeeGrowth1: t.FeeGrowth1, TotalLiquidity: t.TotalLiquidity.String()})
	}
	return views
}

type positionView struct {
	ID        uint64         `json:"id"`
	PoolID    clpool.PoolID  `json:"poolId"`
	Owner     common.Address `json:"owner"`
	Liquidity string         `json:"liquidity"`
	Lower     int32          `json:"lowerTickIndex"`
	Upper     int32          `json:"upperTickIndex"`
}

func newPositionView(p clpool.Position) positionView {
	return positionView{ID: p.ID, PoolID: p.PoolID, Owner: p.Owner, Liquidity: p.Liquidity.String(), Lower: p.Lower, Upper: p.Upper}
}

func pair128(v [2]uint128.Uint128) [2]string {
	return [2]string{v[0].String(), v[1].String()}
}

func rewards(r position.Rewards) [2]string {
	return pair128(r)
}

func newPoolCmd() *cobra.Command {
	poolCmd := &cobra.Command{Use: "pool", Short: "Create and inspect pools"}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a pool at an initial price (token1 per token0)",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			sender, err := a.sender()
			if err != nil {
				return err
			}
			f := cmd.Flags()
			asset0, _ := f.GetString("asset0")
			asset1, _ := f.GetString("asset1")
			spacing, _ := f.GetUint16("tick-spacing")
			feeStr, _ := f.GetString("fee-rate")
			priceStr, _ := f.GetString("price")

			key := clpool.PoolKey{TickSpacing: spacing}
			if key.Asset0, err = parseAddress(asset0); err != nil {
				return err
			}
			if key.Asset1, err = parseAddress(asset1); err != nil {
				return err
			}
			if key.FeeRate, err = decimalmath.Parse(feeStr); err != nil {
				return fmt.Errorf("fee-rate: %w", err)
			}
			price, err := decimalmath.Parse(priceStr)
			if err != nil {
				return fmt.Errorf("price: %w", err)
			}

			pool, err := a.engine.CreatePool(cmd.Context(), sender, key, price)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), newPoolView(pool))
		}),
	}
	createCmd.Flags().String("asset0", "", "lower asset address")
	createCmd.Flags().String("asset1", "", "higher asset address")
	createCmd.Flags().Uint16("tick-spacing", 10, "ticks per tick index")
	createCmd.Flags().String("fee-rate", "0.003", "fee rate as a decimal fraction")
	createCmd.Flags().String("price", "1", "initial price")

	infoCmd := &cobra.Command{
		Use:   "info <pool-id>",
		Short: "Show a pool and its current price",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			id, err := parsePoolID(args[0])
			if err != nil {
				return err
			}
			info, err := a.engine.PoolInfo(cmd.Context(), id)
			if err != nil {
				return err
			}
			view := newPoolView(info.PoolState)
			view.Price = info.Price.String()
			return printJSON(cmd.OutOrStdout(), view)
		}),
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List pools",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			pools, err := a.engine.Pools(cmd.Context())
			if err != nil {
				return err
			}
			views := make([]poolView, 0, len(pools))
			for _, p := range pools {
				views = append(views, newPoolView(p))
			}
			return printJSON(cmd.OutOrStdout(), views)
		}),
	}

	ticksCmd := &cobra.Command{
		Use:   "ticks <pool-id>",
		Short: "Page through the ticks of a pool",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			id, err := parsePoolID(args[0])
			if err != nil {
				return err
			}
			var startAfter *int32
			if cmd.Flags().Changed("start-after") {
				v, _ := cmd.Flags().GetInt32("start-after")
				startAfter = &v
			}
			limit, _ := cmd.Flags().GetInt("limit")
			ticks, err := a.engine.TickInfos(cmd.Context(), id, startAfter, limit)
			if err != nil {
				return err
			}
			if table, _ := cmd.Flags().GetBool("table"); table {
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 4, ' ', 0)
				fmt.Fprintln(w, "INDEX\tLIQUIDITY\tFEE GROWTH 0\tFEE GROWTH 1\t")
				for _, t := range ticks {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t\n", t.Index, t.TotalLiquidity, t.FeeGrowth0, t.FeeGrowth1)
				}
				return w.Flush()
			}
			return printJSON(cmd.OutOrStdout(), newTickViews(ticks))
		}),
	}
	ticksCmd.Flags().Int32("start-after", 0, "tick index to start after")
	ticksCmd.Flags().Int("limit", pair.DefaultTickInfosLimit, "page size")
	ticksCmd.Flags().Bool("table", false, "print an aligned table instead of JSON")

	volumeCmd := &cobra.Command{
		Use:   "volume <pool-id>",
		Short: "Show the cumulative traded volume",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			id, err := parsePoolID(args[0])
			if err != nil {
				return err
			}
			volume, err := a.engine.CumulativeVolume(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), pair128(volume))
		}),
	}

	poolCmd.AddCommand(createCmd, infoCmd, listCmd, ticksCmd, volumeCmd)
	return poolCmd
}

func newProvideCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provide <pool-id>",
		Short: "Provide liquidity to a new position or an existing one",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			f := cmd.Flags()
			id, err := parsePoolID(args[0])
			if err != nil {
				return err
			}

			if f.Changed("quote") {
				asset, err := parseAddress(mustString(f.GetString("quote")))
				if err != nil {
					return err
				}
				amount, err := parseAmount(mustString(f.GetString("amount")))
				if err != nil {
					return err
				}
				lower, _ := f.GetInt32("lower")
				upper, _ := f.GetInt32("upper")
				other, need, err := a.engine.ProvideCalculation(cmd.Context(), id, asset, amount, upper, lower)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]string{"asset": other.Hex(), "amount": need.String()})
			}

			sender, err := a.sender()
			if err != nil {
				return err
			}
			req := pair.ProvideRequest{Pool: id, Sender: sender}
			for i, name := range []string{"amount0", "amount1"} {
				if req.Amounts[i], err = parseAmount(mustString(f.GetString(name))); err != nil {
					return err
				}
			}
			req.PositionID, _ = f.GetUint64("position")
			if f.Changed("lower") || f.Changed("upper") {
				lower, _ := f.GetInt32("lower")
				upper, _ := f.GetInt32("upper")
				req.Range = &pair.TickRange{Lower: lower, Upper: upper}
			}

			res, err := a.engine.Provide(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"position":  newPositionView(res.Position),
				"liquidity": res.Liquidity.String(),
				"provided":  pair128(res.Provided),
				"refund":    pair128(res.Refund),
				"rewards":   rewards(res.Rewards),
			})
		}),
	}
	f := cmd.Flags()
	f.String("amount0", "", "token0 offered")
	f.String("amount1", "", "token1 offered")
	f.Uint64("position", 0, "add to this position instead of opening one")
	f.Int32("lower", 0, "lower tick index of a new position")
	f.Int32("upper", 0, "upper tick index of a new position")
	f.String("quote", "", "only quote the other asset needed alongside --amount of this asset")
	f.String("amount", "", "amount of the quoted asset")
	return cmd
}

func mustString(s string, _ error) string { return s }

func newWithdrawCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "withdraw <position-id>",
		Short: "Withdraw liquidity from a position",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			positionID, err := parsePositionID(args[0])
			if err != nil {
				return err
			}
			if quote, _ := cmd.Flags().GetBool("quote"); quote {
				amounts, err := a.engine.WithdrawCalculation(cmd.Context(), positionID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), pair128(amounts))
			}

			sender, err := a.sender()
			if err != nil {
				return err
			}
			req := pair.WithdrawRequest{Sender: sender, PositionID: positionID}
			if cmd.Flags().Changed("liquidity") {
				l, err := parseAmount(mustString(cmd.Flags().GetString("liquidity")))
				if err != nil {
					return err
				}
				req.Liquidity = &l
			}
			res, err := a.engine.Withdraw(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"position":  newPositionView(res.Position),
				"liquidity": res.Liquidity.String(),
				"amounts":   pair128(res.Amounts),
				"rewards":   rewards(res.Rewards),
				"burned":    res.Burned,
			})
		}),
	}
	cmd.Flags().String("liquidity", "", "liquidity to withdraw, all of it when omitted")
	cmd.Flags().Bool("quote", false, "only quote the amounts of a full withdrawal")
	return cmd
}

func addSwapFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("asset", "", "offered asset (asked asset with --reverse)")
	f.String("amount", "", "amount of --asset")
}

func newSwapCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "swap <pool-id>",
		Short: "Swap one asset of a pool for the other",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			sender, err := a.sender()
			if err != nil {
				return err
			}
			id, err := parsePoolID(args[0])
			if err != nil {
				return err
			}
			f := cmd.Flags()
			req := pair.SwapRequest{Pool: id, Sender: sender}
			if req.OfferAsset, err = parseAddress(mustString(f.GetString("asset"))); err != nil {
				return err
			}
			if req.Amount, err = parseAmount(mustString(f.GetString("amount"))); err != nil {
				return err
			}
			if r := mustString(f.GetString("receiver")); r != "" {
				if req.Receiver, err = parseAddress(r); err != nil {
					return err
				}
			}
			if req.BeliefPrice, err = parseOptionalDecimal(cmd, "belief-price"); err != nil {
				return err
			}
			if req.MaxSlippage, err = parseOptionalDecimal(cmd, "max-slippage"); err != nil {
				return err
			}

			res, err := a.engine.Swap(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"receiver":         res.Receiver,
				"returnAsset":      res.ReturnAsset,
				"returnAmount":     res.NetReturn.String(),
				"commissionAmount": res.Commission.String(),
				"tickIndex":        res.TickIndex,
				"steps":            len(res.Steps),
			})
		}),
	}
	addSwapFlags(cmd)
	cmd.Flags().String("receiver", "", "recipient of the return, the sender when omitted")
	cmd.Flags().String("belief-price", "", "expected price, offer per return")
	cmd.Flags().String("max-slippage", "", "tolerated shortfall against --belief-price")
	return cmd
}

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate <pool-id>",
		Short: "Quote a swap without executing it",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			id, err := parsePoolID(args[0])
			if err != nil {
				return err
			}
			f := cmd.Flags()
			asset, err := parseAddress(mustString(f.GetString("asset")))
			if err != nil {
				return err
			}
			amount, err := parseAmount(mustString(f.GetString("amount")))
			if err != nil {
				return err
			}

			if reverse, _ := f.GetBool("reverse"); reverse {
				res, err := a.engine.ReverseSimulate(cmd.Context(), id, asset, amount)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]string{
					"offerAmount":      res.OfferAmount.String(),
					"commissionAmount": res.Commission.String(),
				})
			}
			res, err := a.engine.Simulate(cmd.Context(), id, asset, amount)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{
				"returnAmount":     res.NetReturn.String(),
				"commissionAmount": res.Commission.String(),
			})
		}),
	}
	addSwapFlags(cmd)
	cmd.Flags().Bool("reverse", false, "quote the offer needed to receive --amount of --asset")
	return cmd
}

func parsePositionID(s string) (uint64, error) {
	var id uint64
	if _, err := fmt.Sscan(s, &id); err != nil {
		return 0, fmt.Errorf("position id %q: %w", s, err)
	}
	return id, nil
}

func newClaimCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "claim <position-id>",
		Short: "Claim the fees a position has earned",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			sender, err := a.sender()
			if err != nil {
				return err
			}
			id, err := parsePositionID(args[0])
			if err != nil {
				return err
			}
			r, err := a.engine.ClaimReward(cmd.Context(), sender, id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rewards(r))
		}),
	}
}

func newTransferCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transfer <position-id>",
		Short: "Hand a position to another owner",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			sender, err := a.sender()
			if err != nil {
				return err
			}
			id, err := parsePositionID(args[0])
			if err != nil {
				return err
			}
			to, err := parseAddress(mustString(cmd.Flags().GetString("to")))
			if err != nil {
				return err
			}
			p, err := a.engine.Transfer(cmd.Context(), sender, id, to)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), newPositionView(p))
		}),
	}
	cmd.Flags().String("to", "", "recipient address")
	return cmd
}

func newPositionCmd() *cobra.Command {
	positionCmd := &cobra.Command{Use: "position", Short: "Inspect positions"}

	showCmd := &cobra.Command{
		Use:   "show <position-id>",
		Short: "Show a position and its unclaimed fees",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			id, err := parsePositionID(args[0])
			if err != nil {
				return err
			}
			p, err := a.engine.Position(cmd.Context(), id)
			if err != nil {
				return err
			}
			r, err := a.engine.Reward(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"position": newPositionView(p),
				"rewards":  rewards(r),
			})
		}),
	}

	listCmd := &cobra.Command{
		Use:   "list <owner>",
		Short: "List the positions of an owner",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			owner, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			var startAfter *uint64
			if cmd.Flags().Changed("start-after") {
				v, _ := cmd.Flags().GetUint64("start-after")
				startAfter = &v
			}
			limit, _ := cmd.Flags().GetInt("limit")
			positions, err := a.engine.Positions(cmd.Context(), owner, startAfter, limit)
			if err != nil {
				return err
			}
			if table, _ := cmd.Flags().GetBool("table"); table {
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 4, ' ', 0)
				fmt.Fprintln(w, "ID\tPOOL\tRANGE\tLIQUIDITY\t")
				for _, p := range positions {
					fmt.Fprintf(w, "%d\t%s\t[%d, %d]\t%s\t\n", p.ID, p.PoolID.TerminalString(), p.Lower, p.Upper, p.Liquidity)
				}
				return w.Flush()
			}
			views := make([]positionView, 0, len(positions))
			for _, p := range positions {
				views = append(views, newPositionView(p))
			}
			return printJSON(cmd.OutOrStdout(), views)
		}),
	}
	listCmd.Flags().Uint64("start-after", 0, "position id to start after")
	listCmd.Flags().Int("limit", 0, "page size, unlimited when zero")
	listCmd.Flags().Bool("table", false, "print an aligned table instead of JSON")

	positionCmd.AddCommand(showCmd, listCmd)
	return positionCmd
}

func readSnapshotFile(path string) (*store.Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return store.ReadSnapshot(f)
}

type diffView struct {
	Additions []store.PoolSnapshot `yaml:"additions,omitempty"`
	Updates   []store.PoolSnapshot `yaml:"updates,omitempty"`
	Deletions []clpool.PoolID      `yaml:"deletions,omitempty"`
}

func (v diffView) poolsDiff() (clpool.PoolsDiff, error) {
	d := clpool.PoolsDiff{Deletions: v.Deletions}
	for _, ps := range v.Additions {
		p, err := ps.Pool()
		if err != nil {
			return clpool.PoolsDiff{}, err
		}
		d.Additions = append(d.Additions, p)
	}
	for _, ps := range v.Updates {
		p, err := ps.Pool()
		if err != nil {
			return clpool.PoolsDiff{}, err
		}
		d.Updates = append(d.Updates, p)
	}
	return d, nil
}

func newSnapshotCmd() *cobra.Command {
	snapshotCmd := &cobra.Command{Use: "snapshot", Short: "Export, import and compare state snapshots"}

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write the whole state as YAML",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			snap, err := store.Export(cmd.Context(), a.store)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if path, _ := cmd.Flags().GetString("out"); path != "" {
				f, err := os.Create(path)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			a.logger.Info("exporting snapshot", "pools", len(snap.Pools), "positions", len(snap.Positions))
			return store.WriteSnapshot(out, snap)
		}),
	}
	exportCmd.Flags().String("out", "", "output file, stdout when omitted")

	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Load a YAML snapshot into the state database",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			snap, err := readSnapshotFile(args[0])
			if err != nil {
				return err
			}
			if err := store.Import(cmd.Context(), a.store, snap); err != nil {
				return err
			}
			a.logger.Info("imported snapshot", "pools", len(snap.Pools), "positions", len(snap.Positions))
			return nil
		}),
	}

	// diff works on files only and needs no state database.
	diffCmd := &cobra.Command{
		Use:   "diff <old> <new>",
		Short: "Show the pool changes between two snapshots",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var sets [2][]clpool.Pool
			for i, path := range args {
				snap, err := readSnapshotFile(path)
				if err != nil {
					return err
				}
				if sets[i], err = snap.PoolSet(); err != nil {
					return err
				}
			}

			d := clpool.Diff(sets[0], sets[1])
			view := diffView{Deletions: d.Deletions}
			for _, p := range d.Additions {
				view.Additions = append(view.Additions, store.NewPoolSnapshot(p))
			}
			for _, p := range d.Updates {
				view.Updates = append(view.Updates, store.NewPoolSnapshot(p))
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(view); err != nil {
				return err
			}
			return enc.Close()
		},
	}

	patchCmd := &cobra.Command{
		Use:   "patch <base> <diff>",
		Short: "Apply a pool diff to a snapshot and print the result",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := readSnapshotFile(args[0])
			if err != nil {
				return err
			}
			pools, err := base.PoolSet()
			if err != nil {
				return err
			}
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()
			var view diffView
			if err := yaml.NewDecoder(f).Decode(&view); err != nil {
				return fmt.Errorf("decode diff: %w", err)
			}
			d, err := view.poolsDiff()
			if err != nil {
				return err
			}

			patched, err := clpool.Patch(pools, d)
			if err != nil {
				return err
			}
			base.Pools = base.Pools[:0]
			for _, p := range patched {
				base.Pools = append(base.Pools, store.NewPoolSnapshot(p))
			}
			return store.WriteSnapshot(cmd.OutOrStdout(), base)
		},
	}

	snapshotCmd.AddCommand(exportCmd, importCmd, diffCmd, patchCmd)
	return snapshotCmd
}
