package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"slices"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"krakenBot/internal/domain"
	"krakenBot/internal/ports"
	"krakenBot/internal/strategy/analytics"
	"krakenBot/internal/strategy/strategies"
	"krakenBot/internal/utils"
)

const version = "0.3.0"

// deps opens the resources a command needs. The returned func releases them.
type deps struct {
	gateway func(ctx context.Context) (ports.ExchangeGateway, func(), error)
	trades  func(ctx context.Context) (ports.TradeRepository, func(), error)
}

var timeout time.Duration

func newRootCmd(d deps) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "krakenctl",
		Short:         "Operator commands for the Kraken trading bot",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall deadline of the command")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(balanceCmd(d))
	rootCmd.AddCommand(depthCmd(d))
	rootCmd.AddCommand(openOrdersCmd(d))
	rootCmd.AddCommand(queryOrdersCmd(d))
	rootCmd.AddCommand(cancelCmd(d))
	rootCmd.AddCommand(cancelAllCmd(d))
	rootCmd.AddCommand(strategiesCmd())
	rootCmd.AddCommand(statsCmd(d))
	rootCmd.AddCommand(exportTradesCmd(d))
	return rootCmd
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeout)
}

func withGateway(cmd *cobra.Command, d deps, fn func(ctx context.Context, gw ports.ExchangeGateway) error) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()
	gw, release, err := d.gateway(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx, gw)
}

func withTrades(cmd *cobra.Command, d deps, fn func(ctx context.Context, repo ports.TradeRepository) error) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()
	repo, release, err := d.trades(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx, repo)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "krakenctl version %s\n", version)
		},
	}
}

func balanceCmd(d deps) *cobra.Command {
	var showZero bool
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Show account balances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGateway(cmd, d, func(ctx context.Context, gw ports.ExchangeGateway) error {
				balances, err := gw.GetBalances(ctx)
				if err != nil {
					return err
				}
				assets := make([]string, 0, len(balances))
				for asset := range balances {
					assets = append(assets, asset)
				}
				sort.Strings(assets)

				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintln(tw, "ASSET\tBALANCE")
				for _, asset := range assets {
					if balances[asset].IsZero() && !showZero {
						continue
					}
					fmt.Fprintf(tw, "%s\t%s\n", asset, balances[asset].String())
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&showZero, "all", false, "Include zero balances")
	return cmd
}

func depthCmd(d deps) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "depth PAIR",
		Short: "Show the order book of a pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGateway(cmd, d, func(ctx context.Context, gw ports.ExchangeGateway) error {
				book, err := gw.GetOrderBookDepth(ctx, args[0], count)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				tw := newTable(out)
				fmt.Fprintln(tw, "BID VOLUME\tBID\tASK\tASK VOLUME")
				rows := max(len(book.Bids), len(book.Asks))
				for i := 0; i < rows; i++ {
					var bid, bidVol, ask, askVol string
					if i < len(book.Bids) {
						bid, bidVol = book.Bids[i].Price.String(), book.Bids[i].Volume.String()
					}
					if i < len(book.Asks) {
						ask, askVol = book.Asks[i].Price.String(), book.Asks[i].Volume.String()
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", bidVol, bid, ask, askVol)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				if spread, ok := book.Spread(); ok {
					pct, _ := book.SpreadPercent()
					fmt.Fprintf(out, "spread %s (%.4f%%)\n", spread.String(), pct)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 10, "Price levels per side")
	return cmd
}

func openOrdersCmd(d deps) *cobra.Command {
	var trades bool
	cmd := &cobra.Command{
		Use:   "open-orders",
		Short: "List open orders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGateway(cmd, d, func(ctx context.Context, gw ports.ExchangeGateway) error {
				orders, err := gw.GetOpenOrders(ctx, trades)
				if err != nil {
					return err
				}
				list := make([]*domain.OrderDetail, 0, len(orders))
				for _, o := range orders {
					list = append(list, o)
				}
				sort.Slice(list, func(i, j int) bool {
					if !list[i].OpenedAt.Equal(list[j].OpenedAt) {
						return list[i].OpenedAt.Before(list[j].OpenedAt)
					}
					return list[i].ID < list[j].ID
				})

				return printOrders(cmd.OutOrStdout(), list, trades)
			})
		},
	}
	cmd.Flags().BoolVar(&trades, "trades", false, "Include trade ids")
	return cmd
}

func queryOrdersCmd(d deps) *cobra.Command {
	return &cobra.Command{
		Use:   "query-orders TXID [TXID...]",
		Short: "Show open or closed orders by transaction id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGateway(cmd, d, func(ctx context.Context, gw ports.ExchangeGateway) error {
				orders, err := gw.QueryOrders(ctx, args)
				if err != nil {
					return err
				}
				list := make([]*domain.OrderDetail, 0, len(args))
				var missing []string
				for _, txid := range args {
					if o, ok := orders[txid]; ok {
						list = append(list, o)
					} else {
						missing = append(missing, txid)
					}
				}
				if err := printOrders(cmd.OutOrStdout(), list, false); err != nil {
					return err
				}
				if len(missing) > 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "unknown: %s\n", strings.Join(missing, ","))
				}
				return nil
			})
		},
	}
}

func printOrders(w io.Writer, list []*domain.OrderDetail, trades bool) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "TXID\tCL_ORD_ID\tPAIR\tSIDE\tTYPE\tVOLUME\tFILLED\tLIMIT\tSTATUS\tOPENED")
	for _, o := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%g\t%g\t%g\t%s\t%s\n",
			o.ID, o.ClientOrderID, o.Pair, o.Side, o.Type, o.Volume, o.VolumeExecuted, o.LimitPrice, o.Status, o.OpenedAt.UTC().Format(time.RFC3339))
		if trades && len(o.Trades) > 0 {
			fmt.Fprintf(tw, "\ttrades: %s\n", strings.Join(o.Trades, ","))
		}
	}
	return tw.Flush()
}

func cancelCmd(d deps) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel TXID [TXID...]",
		Short: "Cancel orders by transaction id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGateway(cmd, d, func(ctx context.Context, gw ports.ExchangeGateway) error {
				var res *ports.CancelResult
				var err error
				if len(args) == 1 {
					res, err = gw.CancelOrder(ctx, args[0])
				} else {
					res, err = gw.CancelOrders(ctx, args)
				}
				if res != nil {
					printCancel(cmd.OutOrStdout(), res)
				}
				return err
			})
		},
	}
}

func cancelAllCmd(d deps) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "cancel-all",
		Short: "Cancel every open order of the account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to cancel every open order without --yes")
			}
			return withGateway(cmd, d, func(ctx context.Context, gw ports.ExchangeGateway) error {
				res, err := gw.CancelAllOrders(ctx)
				if res != nil {
					printCancel(cmd.OutOrStdout(), res)
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm cancelling every open order")
	return cmd
}

func printCancel(w io.Writer, res *ports.CancelResult) {
	fmt.Fprintf(w, "cancelled %d order(s)", res.Count)
	if res.Pending {
		fmt.Fprint(w, " (pending)")
	}
	fmt.Fprintln(w)
}

func strategiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "strategies",
		Short: "List registered strategies and their parameters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "STRATEGY\tPARAM\tTYPE\tDEFAULT\tMIN\tMAX")
			for _, name := range strategies.Names() {
				strat, err := strategies.New(name, nopLogger{}, nil)
				if err != nil {
					return err
				}
				params := strat.Config().Params
				names := make([]string, 0, len(params))
				for p := range params {
					names = append(names, p)
				}
				sort.Strings(names)
				for _, p := range names {
					spec := params[p]
					fmt.Fprintf(tw, "%s\t%s\t%s\t%g\t%g\t%g\n", name, p, spec.Type, spec.Default, spec.Min, spec.Max)
				}
			}
			return tw.Flush()
		},
	}
}

func loadTrades(ctx context.Context, repo ports.TradeRepository, pair string, limit int) ([]*domain.Trade, error) {
	if pair != "" {
		if limit <= 0 {
			limit = math.MaxInt32
		}
		trades, err := repo.FindByPair(ctx, pair, limit)
		if err != nil {
			return nil, err
		}
		// Newest first from the repository; export oldest first like FindAllTrades.
		slices.Reverse(trades)
		return trades, nil
	}
	trades, err := repo.FindAllTrades(ctx)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(trades) > limit {
		trades = trades[len(trades)-limit:]
	}
	return trades, nil
}

func statsCmd(d deps) *cobra.Command {
	var pair string
	var equity float64
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarise closed trades",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTrades(cmd, d, func(ctx context.Context, repo ports.TradeRepository) error {
				trades, err := loadTrades(ctx, repo, pair, 0)
				if err != nil {
					return err
				}
				printReport(cmd.OutOrStdout(), analytics.Analyze(trades, equity), analytics.Monthly(trades))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&pair, "pair", "", "Only trades of this pair")
	cmd.Flags().Float64Var(&equity, "equity", 0, "Starting equity for relative metrics")
	return cmd
}

func printReport(w io.Writer, r *analytics.Report, monthly []analytics.MonthlyPNL) {
	tw := newTable(w)
	fmt.Fprintf(tw, "trades\t%d\n", r.Trades)
	if r.Trades == 0 {
		tw.Flush()
		return
	}
	fmt.Fprintf(tw, "wins / losses\t%d / %d\n", r.Wins, r.Losses)
	fmt.Fprintf(tw, "win rate\t%.2f%%\n", r.WinRate*100)
	fmt.Fprintf(tw, "net pnl\t%.2f\n", r.NetPNL)
	fmt.Fprintf(tw, "profit factor\t%.2f\n", r.ProfitFactor)
	fmt.Fprintf(tw, "avg win / loss\t%.2f / %.2f\n", r.AverageWin, r.AverageLoss)
	fmt.Fprintf(tw, "expectancy\t%.2f\n", r.Expectancy)
	fmt.Fprintf(tw, "max drawdown\t%.2f (%.2f%%)\n", r.MaxDrawdownAbs, r.MaxDrawdown*100)
	fmt.Fprintf(tw, "streaks (win / loss)\t%d / %d\n", r.MaxConsecutiveWins, r.MaxConsecutiveLosses)
	fmt.Fprintf(tw, "average hold\t%s\n", r.AverageHold.Round(time.Second))
	if r.StartingEquity > 0 {
		fmt.Fprintf(tw, "return\t%.2f%%\n", r.Return*100)
		fmt.Fprintf(tw, "sharpe (per trade)\t%.3f\n", r.SharpeRatio)
	}
	tw.Flush()

	pairs := make([]string, 0, len(r.ByPair))
	for p := range r.ByPair {
		pairs = append(pairs, p)
	}
	sort.Strings(pairs)
	fmt.Fprintln(w)
	tw = newTable(w)
	fmt.Fprintln(tw, "PAIR\tTRADES\tWINS\tNET PNL")
	for _, p := range pairs {
		ps := r.ByPair[p]
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.2f\n", p, ps.Trades, ps.Wins, ps.NetPNL)
	}
	tw.Flush()

	fmt.Fprintln(w)
	tw = newTable(w)
	fmt.Fprintln(tw, "MONTH\tPNL")
	for _, m := range monthly {
		fmt.Fprintf(tw, "%s\t%.2f\n", m.Month.Format("2006-01"), m.PNL)
	}
	tw.Flush()
}

func exportTradesCmd(d deps) *cobra.Command {
	var pair string
	var limit int
	cmd := &cobra.Command{
		Use:   "export-trades [FILE]",
		Short: "Write closed trades as CSV to FILE or stdout",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTrades(cmd, d, func(ctx context.Context, repo ports.TradeRepository) error {
				trades, err := loadTrades(ctx, repo, pair, limit)
				if err != nil {
					return err
				}
				if len(args) == 0 || args[0] == "-" {
					return utils.WriteTradesCSV(cmd.OutOrStdout(), trades)
				}
				if err := utils.WriteTradesToFile(trades, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d trade(s) to %s\n", len(trades), args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&pair, "pair", "", "Only trades of this pair")
	cmd.Flags().IntVar(&limit, "limit", 0, "Most recent trades only; 0 exports all")
	return cmd
}

// nopLogger satisfies ports.Logger for strategies built only to read their schema.
type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}
