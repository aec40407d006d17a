package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/warp/estimate-engine/api"
	"github.com/warp/estimate-engine/app"
	"github.com/warp/estimate-engine/config"
	"github.com/warp/estimate-engine/estimate"
	"github.com/warp/estimate-engine/export"
	"github.com/warp/estimate-engine/generic"
	"github.com/warp/estimate-engine/holidays"
	"github.com/warp/estimate-engine/logging"
)

type rootOptions struct {
	configPath string
	dbPath     string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "estimatectl",
		Short: "Compute and apply estimate rules",
		Long: `estimatectl reads replace requests from YAML or JSON files and runs
them against the configured store, the same way PUT
/api/groupings/{id}/rules does.

Examples:
  # Show the days, segments and rules a request would produce
  estimatectl preview january.yaml

  # Replace grouping g1's rules
  estimatectl apply january.yaml --grouping g1

  # Export the stored rules
  estimatectl rules g1 --xlsx g1.xlsx

  # Import national holidays
  estimatectl holidays sync --year 2025`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML config file")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "SQLite database path (overrides config)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level")

	root.AddCommand(
		newPreviewCmd(opts),
		newApplyCmd(opts),
		newRulesCmd(opts),
		newDeleteCmd(opts),
		newHolidaysCmd(opts),
	)
	return root
}

func (o *rootOptions) open(cmd *cobra.Command) (*app.App, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.dbPath != "" {
		cfg.Database.Driver = config.DriverSQLite
		cfg.Database.DSN = o.dbPath
	}
	if cfg.Locker == config.LockerAdvisory && cfg.Database.Driver != config.DriverPostgres {
		cfg.Locker = config.LockerLocal
	}

	logger, err := logging.New(o.logLevel, "console", "estimatectl")
	if err != nil {
		return nil, err
	}
	return app.New(cmd.Context(), cfg, logger)
}

// loadRequest reads a replace request; .json files are decoded as JSON and
// anything else as YAML.
func loadRequest(path string) (api.ReplaceRequest, error) {
	var req api.ReplaceRequest

	data, err := os.ReadFile(path)
	if err != nil {
		return req, fmt.Errorf("read request: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &req)
	} else {
		err = yaml.Unmarshal(data, &req)
	}
	if err != nil {
		return req, fmt.Errorf("decode %s: %w", path, err)
	}
	return req, nil
}

// =============================================================================
// PREVIEW / APPLY
// =============================================================================

func newPreviewCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "preview <request-file>",
		Short: "Show the rules a request would produce without writing them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := loadRequest(args[0])
			if err != nil {
				return err
			}
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			groupingID := req.GroupingID.String()
			if groupingID == "" {
				groupingID = "preview"
			}
			plan, err := a.Service.Preview(cmd.Context(), req.ToDomain(groupingID))
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(plan)
			}
			printPlan(cmd.OutOrStdout(), plan)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the plan as JSON")
	return cmd
}

func printPlan(w io.Writer, plan *estimate.Plan) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GROUP\tSTART\tEND\tDAYS")
	for _, g := range plan.Groups {
		for _, seg := range g.Segments {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d\n", g.Index, seg.Start, seg.End, seg.Days)
		}
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d segments, %d rules, %s planned\n", plan.Segments(), len(plan.Rules), plan.PlannedEffort.Value.StringFixed(2)+" h")
}

func newApplyCmd(opts *rootOptions) *cobra.Command {
	var groupingID string

	cmd := &cobra.Command{
		Use:   "apply <request-file>",
		Short: "Replace a grouping's rules with the ones a request produces",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := loadRequest(args[0])
			if err != nil {
				return err
			}
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.Service.Replace(cmd.Context(), req.ToDomain(groupingID))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "grouping %s: %d rules in %d segments (%d batches), %s h planned\n",
				result.GroupingID, result.Count, result.Segments, result.Batches, result.PlannedEffort.Value.StringFixed(2))
			return nil
		},
	}
	cmd.Flags().StringVar(&groupingID, "grouping", "", "Grouping id (defaults to agrupador_id in the file)")
	return cmd
}

// =============================================================================
// RULES / DELETE
// =============================================================================

func newRulesCmd(opts *rootOptions) *cobra.Command {
	var xlsxPath string

	cmd := &cobra.Command{
		Use:   "rules <grouping-id>",
		Short: "List or export a grouping's stored rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			groupingID := generic.GroupingID(args[0])
			rules, err := a.Service.Rules(cmd.Context(), groupingID)
			if err != nil {
				return err
			}

			if xlsxPath != "" {
				data, err := export.RulesWorkbook(groupingID, rules, a.Service.Holidays)
				if err != nil {
					return err
				}
				if err := os.WriteFile(xlsxPath, data, 0o644); err != nil {
					return fmt.Errorf("write %s: %w", xlsxPath, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %d rules to %s\n", len(rules), xlsxPath)
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PRODUCT\tTASK\tRESPONSIBLE\tSTART\tEND\tMS/DAY")
			for _, r := range rules {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%d\n", r.ProductID, r.TaskID, r.ResponsibleID, r.SegmentStart, r.SegmentEnd, r.DailyEffort)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&xlsxPath, "xlsx", "", "Write an XLSX workbook instead of printing")
	return cmd
}

func newDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <grouping-id>",
		Short: "Delete every rule of a grouping",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Service.DeleteGrouping(cmd.Context(), generic.GroupingID(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d rules\n", n)
			return nil
		},
	}
}

// =============================================================================
// HOLIDAYS
// =============================================================================

func newHolidaysCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "holidays",
		Short: "Manage the holiday calendar",
	}

	var years []int
	sync := &cobra.Command{
		Use:   "sync",
		Short: "Import national holidays from the holiday API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if len(years) == 0 {
				year := time.Now().Year()
				years = []int{year, year + 1}
			}
			n, err := holidays.Import(cmd.Context(), a.Fetcher, a.Store, years...)
			if err != nil {
				a.Logger.Error("holiday import failed", zap.Error(err))
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d holidays for %v\n", n, years)
			return nil
		},
	}
	sync.Flags().IntSliceVar(&years, "year", nil, "Year to import (repeatable; default current and next)")

	list := &cobra.Command{
		Use:   "list [client-id]",
		Short: "List stored holidays",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			scope := ""
			if len(args) == 1 {
				scope = args[0]
			}
			all, err := a.Store.GetAllHolidays(cmd.Context(), scope)
			if err != nil {
				return err
			}
			for _, h := range all {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", h.Date, h.Name)
			}
			return nil
		},
	}

	cmd.AddCommand(sync, list)
	return cmd
}
