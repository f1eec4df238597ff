package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/worker"
)

func scanCmd() *cobra.Command {
	var (
		async   bool
		wait    time.Duration
		full    bool
		through string
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run every detector and Benford analysis for a company",
		Long: `Runs a comprehensive scan in-process. With --async the request is published
for a running worker instead; add --wait to block for the worker's summary.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireCompany(); err != nil {
				return err
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if !async {
				result, err := a.svc.RunComprehensive(ctx, companyID)
				if err != nil {
					return err
				}
				if full {
					return printJSON(cmd, result)
				}
				return printJSON(cmd, result.Summary())
			}

			req := domain.ScanRequest{CompanyID: companyID, RequestedBy: through}
			target := worker.Target(a.cfg.Worker, companyID)

			if wait <= 0 {
				if err := bus.PublishJSON(ctx, a.bus, target, domain.TopicScanRequested, req); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "scan requested for %s\n", companyID)
				return nil
			}

			payload, err := json.Marshal(req)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(ctx, wait)
			defer cancel()
			reply, err := a.bus.Request(ctx, target, domain.TopicScanRequested, payload)
			if err != nil {
				return fmt.Errorf("waiting for scan summary: %w", err)
			}
			var summary domain.ScanSummary
			if err := json.Unmarshal(reply, &summary); err != nil {
				return fmt.Errorf("invalid scan summary: %w", err)
			}
			return printJSON(cmd, summary)
		},
	}

	cmd.Flags().BoolVar(&async, "async", false, "publish the request for a worker")
	cmd.Flags().DurationVar(&wait, "wait", 0, "with --async, wait this long for the summary")
	cmd.Flags().BoolVar(&full, "full", false, "print every detection instead of the summary")
	cmd.Flags().StringVar(&through, "requested-by", "cli", "requester recorded on the scan")
	return cmd
}

func detectCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "detect <fraud-type>",
		Short:     "Run one detector",
		Args:      cobra.ExactArgs(1),
		ValidArgs: fraudTypeNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireCompany(); err != nil {
				return err
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			detections, err := a.svc.Detect(cmd.Context(), companyID, domain.FraudType(args[0]))
			if err != nil {
				return err
			}
			return printJSON(cmd, detections)
		},
	}
}

func benfordCmd() *cobra.Command {
	var analysisID string

	cmd := &cobra.Command{
		Use:   "benford [data-type]",
		Short: "Analyze a data type against Benford's Law, or show a stored analysis",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireCompany(); err != nil {
				return err
			}
			if (len(args) == 0) == (analysisID == "") {
				return fmt.Errorf("pass either a data type or --id")
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if analysisID == "" {
				analysis, err := a.svc.AnalyzeBenford(ctx, companyID, domain.DataType(args[0]))
				if err != nil {
					return err
				}
				analysisID = analysis.ID
			}
			report, err := a.svc.BenfordReport(ctx, companyID, analysisID)
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}

	cmd.Flags().StringVar(&analysisID, "id", "", "show a stored analysis")
	return cmd
}

func resolveCmd() *cobra.Command {
	var (
		res   domain.Resolution
		ghost bool
	)

	cmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Resolve a detection or ghost employee report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireCompany(); err != nil {
				return err
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if ghost {
				report, err := a.svc.ResolveGhostReport(cmd.Context(), companyID, args[0], res)
				if err != nil {
					return err
				}
				return printJSON(cmd, report)
			}
			det, err := a.svc.Resolve(cmd.Context(), companyID, args[0], res)
			if err != nil {
				return err
			}
			return printJSON(cmd, det)
		},
	}

	cmd.Flags().StringVar(&res.Type, "type", "", "false_positive, confirmed_fraud, investigated, corrected or other")
	cmd.Flags().StringVar(&res.Notes, "notes", "", "resolution notes")
	cmd.Flags().BoolVar(&ghost, "ghost", false, "resolve a ghost employee report")
	return cmd
}

func dashboardCmd() *cobra.Command {
	var (
		trends  int
		benford bool
	)

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Show the 30-day dashboard or a trend series",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireCompany(); err != nil {
				return err
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			switch {
			case benford:
				points, err := a.svc.BenfordTrends(ctx, companyID, trends)
				if err != nil {
					return err
				}
				return printJSON(cmd, points)
			case trends > 0:
				series, err := a.svc.Trends(ctx, companyID, trends)
				if err != nil {
					return err
				}
				return printJSON(cmd, series)
			default:
				summary, err := a.svc.Dashboard(ctx, companyID)
				if err != nil {
					return err
				}
				return printJSON(cmd, summary)
			}
		},
	}

	cmd.Flags().IntVar(&trends, "trends", 0, "show a day-bucketed series over this many days")
	cmd.Flags().BoolVar(&benford, "benford", false, "show Benford trends instead of detections")
	return cmd
}

func fraudTypeNames() []string {
	types := domain.AllFraudTypes()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return names
}
