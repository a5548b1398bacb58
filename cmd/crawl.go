package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/price-harvester/internal/config"
	"github.com/JakeFAU/price-harvester/internal/orchestrator"
)

type crawlOptions struct {
	date      string
	yesterday bool
	all       bool
	lastWeek  bool
	lastMonth bool
	from      string
	to        string
	step      int
	threshold int
}

// window resolves the flags into one schedule window, or "range" for
// --from/--to, or "date" for --date.
func (o crawlOptions) window() (string, error) {
	var picked []string
	if o.date != "" {
		picked = append(picked, "date")
	}
	if o.yesterday {
		picked = append(picked, config.WindowYesterday)
	}
	if o.all {
		picked = append(picked, config.WindowAll)
	}
	if o.lastWeek {
		picked = append(picked, config.WindowLastWeek)
	}
	if o.lastMonth {
		picked = append(picked, config.WindowLastMonth)
	}
	if o.from != "" || o.to != "" {
		if o.from == "" || o.to == "" {
			return "", errors.New("--from and --to go together")
		}
		picked = append(picked, "range")
	}
	switch len(picked) {
	case 0:
		return "", nil
	case 1:
		return picked[0], nil
	default:
		return "", fmt.Errorf("choose one of %v", picked)
	}
}

func newCrawlCmd() *cobra.Command {
	var opts crawlOptions
	cmd := &cobra.Command{
		Use:   "crawl <source>",
		Short: "Crawl one source",
		Long: `Crawl one source once. Without a date flag a date-aware source crawls
yesterday in its own timezone and a single-shot source crawls its current page.`,
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{needsApp: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			window, err := opts.window()
			if err != nil {
				return err
			}
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			c, err := a.Crawler(args[0])
			if err != nil {
				return err
			}
			stop := serveOps(cmd.Context(), a, nil)
			defer stop()

			var n int
			switch window {
			case "date":
				n, err = c.Crawl(cmd.Context(), opts.date)
			case "range":
				var res orchestrator.RangeResult
				res, err = c.CrawlRange(cmd.Context(), opts.from, opts.to, opts.step, opts.threshold)
				n = res.Records
			default:
				n, err = runWindow(cmd.Context(), c, window)
			}
			if err != nil {
				return err
			}
			a.Logger.Info("crawl finished", zap.String("source", args[0]), zap.Int("records", n))
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: %d records\n", args[0], n)
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.date, "date", "", "crawl one date (YYYY-MM-DD)")
	f.BoolVar(&opts.yesterday, "yesterday", false, "crawl yesterday")
	f.BoolVar(&opts.all, "all", false, "crawl from yesterday back to the source's first date")
	f.BoolVar(&opts.lastWeek, "last-week", false, "crawl the last seven days")
	f.BoolVar(&opts.lastMonth, "last-month", false, "crawl the last month")
	f.StringVar(&opts.from, "from", "", "first date of a range")
	f.StringVar(&opts.to, "to", "", "last date of a range")
	f.IntVar(&opts.step, "step", 1, "days between two crawled dates of a range")
	f.IntVar(&opts.threshold, "threshold", 0, "empty runs in a row tolerated before a range stops (0 uses the configured value)")
	return cmd
}

// runWindow crawls c over a schedule window. The empty window crawls
// yesterday for date-aware sources and the current page otherwise.
func runWindow(ctx context.Context, c *orchestrator.Crawler, window string) (int, error) {
	byDate := c.Definition().Mode == orchestrator.ModeByDate
	switch window {
	case "", config.WindowYesterday:
		if !byDate {
			return c.Crawl(ctx, "")
		}
		return c.CrawlYesterday(ctx)
	case config.WindowSingle:
		return c.Crawl(ctx, "")
	case config.WindowLastWeek:
		res, err := c.CrawlLastWeek(ctx)
		return res.Records, err
	case config.WindowLastMonth:
		res, err := c.CrawlLastMonth(ctx)
		return res.Records, err
	case config.WindowAll:
		res, err := c.CrawlAll(ctx, 1)
		return res.Records, err
	default:
		return 0, fmt.Errorf("unknown window %q", window)
	}
}
