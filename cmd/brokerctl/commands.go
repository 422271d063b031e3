package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"brokerhub/internal/broker"
	"brokerhub/internal/domain"
	"brokerhub/internal/engine"
	"brokerhub/internal/store"
)

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

func newBrokersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "brokers",
		Short: "List registered brokers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.load(); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tNAME\tSTATUS\tAVAILABLE\tASSETS\tTESTNET")
			for _, info := range a.reg.List() {
				assets := make([]string, len(info.AssetClasses))
				for i, c := range info.AssetClasses {
					assets[i] = string(c)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%t\n",
					info.Key, info.Name, info.Status, info.Available, strings.Join(assets, ","), info.SupportsTestnet)
			}
			return tw.Flush()
		},
	}
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show registry statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.load(); err != nil {
				return err
			}
			return a.printJSON(a.reg.Stats())
		},
	}
}

// ---------------------------------------------------------------------------
// Session
// ---------------------------------------------------------------------------

func newAuthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Authenticate the selected account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := a.open(cmd)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s: authenticated (connected=%t)\n", b.Name(), b.IsConnected())
			return nil
		},
	}
}

func newPingCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check the selected account's backend is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.load(); err != nil {
				return err
			}
			name, err := a.accountName()
			if err != nil {
				return err
			}
			b, err := a.accounts.Create(name)
			if err != nil {
				return err
			}
			defer b.Close()
			start := time.Now()
			if !b.TestConnection(cmd.Context()) {
				return fmt.Errorf("%s: unreachable", name)
			}
			fmt.Fprintf(a.out, "%s: ok (%s)\n", name, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}

// ---------------------------------------------------------------------------
// Account state
// ---------------------------------------------------------------------------

func newBalanceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show the account balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := a.open(cmd)
			if err != nil {
				return err
			}
			bal, err := b.GetBalance(cmd.Context())
			if err != nil {
				return err
			}
			return a.printJSON(bal)
		},
	}
}

func newPositionsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "positions",
		Short: "List open positions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := a.open(cmd)
			if err != nil {
				return err
			}
			positions, err := b.GetPositions(cmd.Context())
			if err != nil {
				return err
			}
			if positions == nil {
				positions = []domain.Position{}
			}
			return a.printJSON(positions)
		},
	}
}

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

func newQuoteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "quote SYMBOL",
		Short: "Show the top-of-book quote and record it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.engine(cmd)
			if err != nil {
				return err
			}
			q, err := e.Quote(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printJSON(q)
		},
	}
}

func newFeesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "fees SYMBOL",
		Short: "Show the fee schedule for a symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := a.open(cmd)
			if err != nil {
				return err
			}
			fees, err := b.GetFees(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printJSON(fees)
		},
	}
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

func newOrderCmd(a *app) *cobra.Command {
	var (
		side, typ, tif, clientID string
		qty, limit, stop         string
	)
	cmd := &cobra.Command{
		Use:   "order SYMBOL",
		Short: "Submit an order",
		Example: `  brokerctl -a paper order AAPL --side buy --qty 10
  brokerctl -a kraken order BTC/USD --side sell --qty 0.01 --type limit --limit 65000 --tif gtc`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			order, err := buildOrder(args[0], side, typ, tif, clientID, qty, limit, stop)
			if err != nil {
				return err
			}
			e, err := a.engine(cmd)
			if err != nil {
				return err
			}
			rec, err := e.CreateOrder(cmd.Context(), order)
			if err != nil {
				return err
			}
			return a.printJSON(rec)
		},
	}
	f := cmd.Flags()
	f.StringVar(&side, "side", "", "buy, sell, short or cover (required)")
	f.StringVar(&typ, "type", "market", "market, limit, stop or stop_limit")
	f.StringVar(&qty, "qty", "", "quantity (required)")
	f.StringVar(&limit, "limit", "", "limit price")
	f.StringVar(&stop, "stop", "", "stop price")
	f.StringVar(&tif, "tif", "", "day, gtc, ioc or fok (default day)")
	f.StringVar(&clientID, "client-id", "", "client order id")
	cmd.MarkFlagRequired("side")
	cmd.MarkFlagRequired("qty")
	return cmd
}

// buildOrder parses order flags. Semantic checks are left to the adapter.
func buildOrder(symbol, side, typ, tif, clientID, qty, limit, stop string) (domain.Order, error) {
	o := domain.Order{
		Symbol:        symbol,
		Side:          domain.OrderSide(strings.ToUpper(side)),
		Type:          domain.OrderType(strings.ToUpper(typ)),
		TimeInForce:   domain.TimeInForce(strings.ToUpper(tif)),
		ClientOrderID: clientID,
	}
	var err error
	if o.Quantity, err = decimal.NewFromString(qty); err != nil {
		return domain.Order{}, fmt.Errorf("parsing --qty %q: %w", qty, err)
	}
	if o.LimitPrice, err = optionalDecimal("limit", limit); err != nil {
		return domain.Order{}, err
	}
	if o.StopPrice, err = optionalDecimal("stop", stop); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

func optionalDecimal(flag, v string) (*decimal.Decimal, error) {
	if v == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return nil, fmt.Errorf("parsing --%s %q: %w", flag, v, err)
	}
	return &d, nil
}

func newCancelCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ORDER_ID",
		Short: "Cancel an open order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.engine(cmd)
			if err != nil {
				return err
			}
			ok, err := e.CancelOrder(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("order %s: nothing to cancel", args[0])
			}
			fmt.Fprintf(a.out, "order %s cancelled\n", args[0])
			return nil
		},
	}
}

func newHistoryCmd(a *app) *cobra.Command {
	var (
		limit   int
		symbol  string
		since   time.Duration
		journal bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent orders and refresh the local journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.engine(cmd)
			if err != nil {
				return err
			}
			var from time.Time
			if since > 0 {
				from = time.Now().Add(-since)
			}
			var recs []domain.OrderRecord
			if journal {
				recs, err = e.Orders(cmd.Context(), store.OrderFilter{Symbol: broker.CleanSymbol(symbol), Since: from, Limit: limit})
			} else {
				recs, err = e.SyncHistory(cmd.Context(), domain.HistoryQuery{Limit: limit, Symbol: symbol, Since: from})
			}
			if err != nil {
				return err
			}
			if recs == nil {
				recs = []domain.OrderRecord{}
			}
			return a.printJSON(recs)
		},
	}
	f := cmd.Flags()
	f.IntVar(&limit, "limit", domain.DefaultHistoryLimit, "maximum orders")
	f.StringVar(&symbol, "symbol", "", "only this symbol")
	f.DurationVar(&since, "since", 0, "only orders newer than this (e.g. 72h)")
	f.BoolVar(&journal, "journal", false, "read the local journal instead of the broker")
	return cmd
}

// ---------------------------------------------------------------------------
// Comparison
// ---------------------------------------------------------------------------

func newCompareCmd(a *app) *cobra.Command {
	var (
		names   []string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "compare SYMBOL QUANTITY",
		Short: "Rank accounts by estimated cost of a trade",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(); err != nil {
				return err
			}
			qty, err := decimal.NewFromString(args[1])
			if err != nil {
				return fmt.Errorf("parsing quantity %q: %w", args[1], err)
			}
			if len(names) == 0 {
				names = a.accounts.Names()
			}
			opened, failed := a.accounts.OpenAll(cmd.Context(), names)
			for _, name := range sortedKeys(failed) {
				fmt.Fprintf(cmd.ErrOrStderr(), "skipping %s: %v\n", name, failed[name])
			}
			if timeout == 0 {
				timeout = a.cfg.Compare.Timeout
			}
			c := engine.NewComparator(engine.CompareOptions{
				Timeout:     timeout,
				MaxParallel: a.cfg.Compare.MaxParallel,
			}, a.logger).WithStore(store.NewParquetStore(a.cfg.Storage.DataDir))

			cmp, err := c.Compare(cmd.Context(), args[0], qty, opened)
			if err != nil {
				return err
			}
			return a.printJSON(cmp)
		},
	}
	cmd.Flags().StringSliceVar(&names, "accounts", nil, "accounts to compare (default all)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "per-account timeout (default from config)")
	return cmd
}
