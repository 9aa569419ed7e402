package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hako/durafmt"
	"github.com/spf13/cobra"

	"github.com/tos-network/poolwatch/internal/coins"
	"github.com/tos-network/poolwatch/internal/pools"
	"github.com/tos-network/poolwatch/internal/util"
)

var fetchTimeout time.Duration

var fetchCmd = &cobra.Command{
	Use:   "fetch <pool> <coin> <address>",
	Short: "Fetch and print normalized stats for one wallet",
	Args:  cobra.ExactArgs(3),
	RunE:  runFetch,
}

var pricesCmd = &cobra.Command{
	Use:   "prices <symbol>...",
	Short: "Print USD prices for coin symbols",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPrices,
}

var poolsCmd = &cobra.Command{
	Use:   "pools",
	Short: "List supported pools and their coins",
	Args:  cobra.NoArgs,
	RunE:  runPools,
}

func init() {
	fetchCmd.Flags().DurationVar(&fetchTimeout, "timeout", time.Minute, "overall timeout including retries")
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), fetchTimeout)
	defer cancel()

	stats, err := newPoolClient(cfg).FetchWithRetry(ctx, args[0], args[1], args[2])
	if err != nil {
		return err
	}
	stale := pools.NewStaleFilter(cfg.Poll.StaleAfter)
	isStale := stale.IsStale(stats)
	stats = stale.Apply(stats)

	symbol := strings.ToUpper(args[1])
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Hashrate:\t%s\n", util.FormatHashrate(stats.Hashrate))
	fmt.Fprintf(w, "Hashrate 24h:\t%s\n", util.FormatHashrate(stats.Hashrate24h))
	fmt.Fprintf(w, "Workers:\t%d online / %d total\n", stats.WorkersOnline, stats.WorkersTotal)
	fmt.Fprintf(w, "Balance:\t%s %s\n", humanize.FormatFloat("#,###.########", stats.Balance), symbol)
	fmt.Fprintf(w, "Paid:\t%s %s\n", humanize.FormatFloat("#,###.########", stats.Paid), symbol)
	fmt.Fprintf(w, "Earnings 24h:\t%s %s\n", humanize.FormatFloat("#,###.########", stats.Earnings24h), symbol)
	if stats.LastShare > 0 {
		fmt.Fprintf(w, "Last share:\t%s\n", humanize.Time(stats.LastShareTime()))
	}
	if isStale {
		fmt.Fprintf(w, "Stale:\tno share for over %s\n", durafmt.Parse(cfg.Poll.StaleAfter).LimitFirstN(2))
	}
	w.Flush()

	if len(stats.Workers) == 0 {
		return nil
	}

	fmt.Println()
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WORKER\tHASHRATE\tSTATUS\tLAST SEEN")
	for _, wk := range stats.Workers {
		status := "online"
		if wk.Offline {
			status = "offline"
		}
		seen := "-"
		if wk.LastSeen > 0 {
			seen = humanize.Time(time.UnixMilli(wk.LastSeen))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", wk.Name, util.FormatHashrate(wk.Hashrate), status, seen)
	}
	return w.Flush()
}

func runPrices(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	symbols := make([]string, 0, len(args))
	for _, a := range args {
		sym := strings.ToLower(strings.TrimSpace(a))
		if _, ok := coins.Lookup(sym); !ok {
			return fmt.Errorf("unknown coin %q", a)
		}
		symbols = append(symbols, sym)
	}

	quotes := newPriceCache(cfg).GetPrices(cmd.Context(), symbols)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COIN\tUSD\t24H")
	for _, sym := range symbols {
		q, ok := quotes[sym]
		if !ok {
			fmt.Fprintf(w, "%s\t-\t-\n", strings.ToUpper(sym))
			continue
		}
		fmt.Fprintf(w, "%s\t$%s\t%+.2f%%\n", strings.ToUpper(sym), humanize.CommafWithDigits(q.USD, 4), q.Change24h)
	}
	return w.Flush()
}

func runPools(cmd *cobra.Command, args []string) error {
	list := pools.DefaultRegistry().Pools()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCOINS")
	for _, p := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\n", p.ID, p.Name, strings.ToUpper(strings.Join(p.Coins, ", ")))
	}
	return w.Flush()
}
