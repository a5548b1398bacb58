package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/price-harvester/internal/api"
	"github.com/JakeFAU/price-harvester/internal/app"
	"github.com/JakeFAU/price-harvester/internal/schedule"
)

func newScheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "schedule",
		Short:       "Run the configured crawl schedule until interrupted",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{needsApp: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			s, err := newScheduler(a)
			if err != nil {
				return err
			}
			stop := serveOps(cmd.Context(), a, func() []api.ScheduledRun { return scheduledRuns(s) })
			defer stop()
			return s.Run(cmd.Context())
		},
	}
}

func newScheduler(a *app.App) (*schedule.Scheduler, error) {
	entries := make([]schedule.Entry, 0, len(a.Config.Schedule.Entries))
	for _, e := range a.Config.Schedule.Entries {
		entries = append(entries, schedule.Entry{Spec: e.Cron, Source: e.Source, Window: e.Window})
	}
	return schedule.New(entries, func(ctx context.Context, e schedule.Entry) error {
		c, err := a.Crawler(e.Source)
		if err != nil {
			return err
		}
		_, err = runWindow(ctx, c, e.Window)
		return err
	}, a.Logger)
}

func scheduledRuns(s *schedule.Scheduler) []api.ScheduledRun {
	upcoming := s.Upcoming()
	runs := make([]api.ScheduledRun, 0, len(upcoming))
	for _, u := range upcoming {
		runs = append(runs, api.ScheduledRun{
			Source: u.Entry.Source,
			Window: u.Entry.Window,
			Spec:   u.Entry.Spec,
			Next:   u.Next,
		})
	}
	return runs
}
