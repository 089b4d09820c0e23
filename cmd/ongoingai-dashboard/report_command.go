package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ongoingai/dashboard/internal/analytics"
	"github.com/ongoingai/dashboard/internal/dashboard"
	"github.com/ongoingai/dashboard/internal/observability"
)

const (
	defaultReportFormat = "text"
	defaultReportDays   = 30
	maxReportDays       = 366
	reportSchemaVersion = "dashboard-report.v1"
)

type reportDocument struct {
	SchemaVersion string                   `json:"schema_version"`
	GeneratedAt   time.Time                `json:"generated_at"`
	Storage       reportStorageInfo        `json:"storage"`
	Snapshot      dashboard.Meta           `json:"snapshot"`
	Monitoring    dashboard.MonitoringView `json:"monitoring"`
	Historical    dashboard.HistoricalView `json:"historical"`
	Overview      dashboard.OverviewView   `json:"overview"`
}

type reportStorageInfo struct {
	Driver string `json:"driver"`
	Path   string `json:"path,omitempty"`
}

func runReport(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("report", flag.ContinueOnError)
	flagSet.SetOutput(errOut)

	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	format := flagSet.String("format", defaultReportFormat, "Output format: text or json")
	windowRaw := flagSet.String("window", "", "Monitoring window: 1h, 6h, 24h, 7d, 30d or month (default from config)")
	days := flagSet.Int("days", defaultReportDays, "Historical range in days (1-366)")
	granularityRaw := flagSet.String("granularity", "", "Historical bucket size: day, week or month (default from config)")

	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 0 {
		fmt.Fprintln(errOut, "report does not accept positional arguments")
		return 2
	}

	normalizedFormat, err := normalizeTextJSONFormat("report", *format, defaultReportFormat)
	if err != nil {
		fmt.Fprintln(errOut, err.Error())
		return 2
	}
	if *days <= 0 || *days > maxReportDays {
		fmt.Fprintf(errOut, "days must be between 1 and %d\n", maxReportDays)
		return 2
	}

	cfg, stage, err := loadAndValidateConfig(*configPath)
	if err != nil {
		if stage == configStageLoad {
			fmt.Fprintf(errOut, "failed to load config: %v\n", err)
		} else {
			fmt.Fprintf(errOut, "config is invalid: %v\n", err)
		}
		return 1
	}

	window, err := cfg.Dashboard.Window()
	if *windowRaw != "" {
		window, err = analytics.ParseWindow(*windowRaw)
	}
	if err != nil {
		fmt.Fprintln(errOut, err.Error())
		return 2
	}
	granularity, err := cfg.Dashboard.Granularity()
	if *granularityRaw != "" {
		granularity, err = analytics.ParseGranularity(*granularityRaw)
	}
	if err != nil {
		fmt.Fprintln(errOut, err.Error())
		return 2
	}

	store, ok := openStoreForCommand(cfg, errOut)
	if !ok {
		return 1
	}
	defer closeStoreWithWarning(store, errOut)

	refresher, err := newRefresher(cfg, store, observability.NewLogger(errOut, "warn"), nil)
	if err != nil {
		fmt.Fprintf(errOut, "failed to initialize snapshot refresher: %v\n", err)
		return 1
	}
	snap, err := refresher.Refresh(context.Background())
	if err != nil {
		fmt.Fprintf(errOut, "failed to load usage snapshot: %s\n", observability.Redact(err.Error()))
		return 1
	}

	storage := reportStorageInfo{Driver: cfg.Storage.Driver}
	if cfg.Storage.Driver == "sqlite" {
		storage.Path = cfg.Storage.Path
	}
	report := reportDocument{
		SchemaVersion: reportSchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Storage:       storage,
		Monitoring:    dashboard.Monitoring(snap, window),
		Historical:    dashboard.Historical(snap, *days, granularity),
		Overview:      dashboard.Overview(snap),
	}
	report.Snapshot = report.Monitoring.Meta

	if err := writeReport(out, normalizedFormat, report); err != nil {
		fmt.Fprintf(errOut, "failed to write report: %v\n", err)
		return 1
	}
	return 0
}

func writeReport(out io.Writer, format string, report reportDocument) error {
	switch format {
	case "json":
		return writeReportJSON(out, report)
	default:
		return writeReportText(out, report)
	}
}

func writeReportJSON(out io.Writer, report reportDocument) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}

func writeReportText(out io.Writer, report reportDocument) error {
	fmt.Fprintln(out, "OngoingAI Usage Report")

	metadataWriter := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(metadataWriter, "Schema version\t%s\n", report.SchemaVersion)
	fmt.Fprintf(metadataWriter, "Generated at\t%s\n", report.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(metadataWriter, "Storage driver\t%s\n", report.Storage.Driver)
	if report.Storage.Path != "" {
		fmt.Fprintf(metadataWriter, "Storage path\t%s\n", report.Storage.Path)
	}
	fmt.Fprintf(metadataWriter, "Snapshot\t%s (seq %d)\n", report.Snapshot.SnapshotID, report.Snapshot.Seq)
	fmt.Fprintf(metadataWriter, "Snapshot taken at\t%s\n", report.Snapshot.TakenAt.Format(time.RFC3339))
	if err := metadataWriter.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\nMonitoring (last %s)\n", report.Monitoring.Window)
	if err := writeStatCards(out, report.Monitoring.Cards); err != nil {
		return err
	}

	fmt.Fprintln(out, "\nPopular Models")
	if len(report.Monitoring.PopularModels) == 0 {
		fmt.Fprintln(out, "(no requests in window)")
	} else {
		modelWriter := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(modelWriter, "MODEL\tREQUESTS\tTOKENS\tSHARE")
		for _, row := range report.Monitoring.PopularModels {
			fmt.Fprintf(modelWriter, "%s\t%s\t%s\t%d%%\n", valueOr(row.Model, "(unknown)"), humanize.Comma(row.Requests), humanize.Comma(row.Tokens), row.Share)
		}
		if err := modelWriter.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(out, "\nTop Errors")
	if len(report.Monitoring.TopErrors) == 0 {
		fmt.Fprintln(out, "(no errors in window)")
	} else {
		errorWriter := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(errorWriter, "MESSAGE\tSTATUS\tCOUNT\tLAST_SEEN")
		for _, row := range report.Monitoring.TopErrors {
			fmt.Fprintf(errorWriter, "%s\t%d\t%s\t%s\n", row.Message, row.StatusCode, humanize.Comma(row.Count), relativeTo(row.LastSeen, report.Snapshot.TakenAt))
		}
		if err := errorWriter.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(out, "\nActive Users")
	if len(report.Monitoring.ActiveUsers) == 0 {
		fmt.Fprintln(out, "(no active users in window)")
	} else {
		userWriter := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(userWriter, "USER\tREQUESTS\tTOKENS\tSUCCESS\tTOP_MODEL\tLAST_ACTIVE")
		for _, row := range report.Monitoring.ActiveUsers {
			fmt.Fprintf(
				userWriter,
				"%s\t%s\t%s\t%d%%\t%s\t%s\n",
				row.Key,
				humanize.Comma(row.Requests),
				humanize.Comma(row.Tokens),
				row.SuccessRate,
				valueOr(row.Top, "(none)"),
				relativeTo(row.LastActive, report.Snapshot.TakenAt),
			)
		}
		if err := userWriter.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "\nHistorical (%d days by %s)\n", report.Historical.Days, report.Historical.Granularity)
	if err := writeStatCards(out, report.Historical.Cards); err != nil {
		return err
	}
	trendWriter := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(trendWriter, "PERIOD\tREQUESTS\tTOKENS\tSUCCESS\tERRORS\tUNCLASSIFIED")
	for _, bucket := range report.Historical.DailyTrend {
		fmt.Fprintf(
			trendWriter,
			"%s\t%s\t%s\t%s\t%s\t%s\n",
			bucket.PeriodStart.Format("2006-01-02"),
			humanize.Comma(bucket.Metrics.Requests),
			humanize.Comma(bucket.Metrics.Tokens),
			humanize.Comma(bucket.Metrics.Successes),
			humanize.Comma(bucket.Metrics.Errors),
			humanize.Comma(bucket.Metrics.Unclassified),
		)
	}
	if err := trendWriter.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out, "\nOverview")
	if err := writeStatCards(out, report.Overview.Cards); err != nil {
		return err
	}
	mixWriter := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(mixWriter, "Free users\t%s\n", humanize.Comma(report.Overview.PlanMix.Free))
	fmt.Fprintf(mixWriter, "Pro users\t%s\n", humanize.Comma(report.Overview.PlanMix.Pro))
	fmt.Fprintf(mixWriter, "Enterprise users\t%s\n", humanize.Comma(report.Overview.PlanMix.Enterprise))
	fmt.Fprintf(mixWriter, "Active API keys\t%d of %d\n", report.Overview.ActiveKeys, report.Overview.TotalKeys)
	return mixWriter.Flush()
}

func writeStatCards(out io.Writer, cards []dashboard.StatCard) error {
	writer := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, card := range cards {
		fmt.Fprintf(writer, "%s\t%s\t%s\n", card.Label, formatCardValue(card), card.Trend)
	}
	return writer.Flush()
}

func formatCardValue(card dashboard.StatCard) string {
	switch card.Unit {
	case dashboard.UnitPercent:
		return fmt.Sprintf("%d%%", card.Value)
	case dashboard.UnitMillis:
		return fmt.Sprintf("%s ms", humanize.Comma(card.Value))
	default:
		return humanize.Comma(card.Value)
	}
}

func relativeTo(t, now time.Time) string {
	if t.IsZero() {
		return "(never)"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}
