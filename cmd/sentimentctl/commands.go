package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/xsentiment/sentiment-bot/internal/aggregation"
	"github.com/xsentiment/sentiment-bot/internal/app"
	"github.com/xsentiment/sentiment-bot/internal/models"
	"github.com/xsentiment/sentiment-bot/internal/pipeline"
	"github.com/xsentiment/sentiment-bot/internal/sentiment"
	"github.com/xsentiment/sentiment-bot/internal/storage"
)

const dateLayout = "2006-01-02"

// dayFlags are the --date/--from/--to flags shared by the day-based commands
type dayFlags struct {
	date string
	from string
	to   string
}

func (f *dayFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.date, "date", "", "single UTC day (YYYY-MM-DD), default yesterday")
	cmd.Flags().StringVar(&f.from, "from", "", "first UTC day of a range (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.to, "to", "", "last UTC day of a range (YYYY-MM-DD), inclusive")
}

// resolve returns the inclusive day range selected by the flags
func (f *dayFlags) resolve(now time.Time) (time.Time, time.Time, error) {
	switch {
	case f.date != "" && (f.from != "" || f.to != ""):
		return time.Time{}, time.Time{}, fmt.Errorf("--date cannot be combined with --from/--to")
	case f.date != "":
		day, err := parseDay(f.date)
		return day, day, err
	case f.from != "" || f.to != "":
		if f.from == "" || f.to == "" {
			return time.Time{}, time.Time{}, fmt.Errorf("--from and --to must be given together")
		}
		from, err := parseDay(f.from)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to, err := parseDay(f.to)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		if to.Before(from) {
			return time.Time{}, time.Time{}, fmt.Errorf("--to %s is before --from %s", f.to, f.from)
		}
		return from, to, nil
	default:
		day := pipeline.TargetDate(now)
		return day, day, nil
	}
}

func parseDay(value string) (time.Time, error) {
	day, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, use YYYY-MM-DD", value)
	}
	return day, nil
}

// parseTopics validates names, returning fallback when none are given
func parseTopics(names []string, fallback []models.Topic) ([]models.Topic, error) {
	if len(names) == 0 {
		return fallback, nil
	}
	topics := make([]models.Topic, 0, len(names))
	for _, name := range names {
		topic, err := models.ParseTopic(name)
		if err != nil {
			return nil, err
		}
		topics = append(topics, topic)
	}
	return topics, nil
}

func newCollectCmd() *cobra.Command {
	var hours int

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Search X for every configured topic and store new posts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if hours <= 0 {
					hours = a.Config.LookbackHours
				}
				since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)

				summary, err := a.Collector.Collect(ctx, a.Topics, since, uuid.NewString())
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), summary, func(w io.Writer) {
					for _, t := range summary.Topics {
						fmt.Fprintf(w, "%-18s fetched %4d  stored %4d  duplicates %4d  skipped %4d", t.Topic, t.Fetched, t.Stored, t.Duplicates, t.Skipped)
						if t.RateLimited {
							fmt.Fprint(w, "  (rate limited)")
						}
						fmt.Fprintln(w)
					}
					for _, e := range summary.Errors {
						fmt.Fprintf(w, "error: %s\n", e)
					}
				})
			})
		},
	}

	cmd.Flags().IntVar(&hours, "hours", 0, "look back this many hours (default LOOKBACK_HOURS)")
	return cmd
}

func newAnalyzeCmd() *cobra.Command {
	var days dayFlags

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Score stored posts that have no sentiment score or bot signal yet",
		Example: `  # Score yesterday's posts
  sentimentctl analyze

  # Score a week of posts
  sentimentctl analyze --from 2024-03-01 --to 2024-03-07`,
		RunE: func(cmd *cobra.Command, args []string) error {
			from, to, err := days.resolve(time.Now())
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				start, _ := aggregation.DayWindow(from)
				_, end := aggregation.DayWindow(to)

				stats, err := a.Analysis.AnalyzePending(ctx, storage.PostQuery{Start: start, End: end})
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), stats, func(w io.Writer) {
					fmt.Fprintf(w, "considered %d, classified %d (%d fallbacks), bot signals %d, skipped %d, deferred %d, errors %d\n",
						stats.Considered, stats.Classified, stats.Fallbacks, stats.BotScored, stats.Skipped, stats.Deferred, stats.Errors)
				})
			})
		},
	}

	days.register(cmd)
	return cmd
}

func newAggregateCmd() *cobra.Command {
	var days dayFlags
	var topics []string
	var algorithms []string

	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Compute daily aggregates for one day or a range of days",
		Long: `Compute the weighted daily sentiment for every topic and algorithm.

Each run inserts new aggregate rows; earlier rows for the same day are kept.`,
		Example: `  # Re-aggregate yesterday
  sentimentctl aggregate

  # Backfill March for Bitcoin with the llm scores
  sentimentctl aggregate --from 2024-03-01 --to 2024-03-31 --topic Bitcoin --algorithm llm`,
		RunE: func(cmd *cobra.Command, args []string) error {
			from, to, err := days.resolve(time.Now())
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				selected, err := parseTopics(topics, a.Topics)
				if err != nil {
					return err
				}
				algs := algorithms
				if len(algs) == 0 {
					algs = a.Config.AggregateAlgorithms
				}

				result, err := a.Engine.AggregateRange(ctx, from, to, selected, algs)
				if err != nil {
					return err
				}

				if err := printResult(cmd.OutOrStdout(), result, func(w io.Writer) {
					for _, agg := range result.Created {
						fmt.Fprintf(w, "%s %-18s %-8s posts %4d  %-8s %+.3f\n",
							agg.DateString(), agg.Topic, agg.AlgorithmID, agg.TotalPosts, agg.DominantSentiment, agg.WeightedScore)
					}
					for _, key := range result.Empty {
						fmt.Fprintf(w, "%s: no qualifying posts\n", key)
					}
				}); err != nil {
					return err
				}

				if len(result.Failed) > 0 {
					keys := make([]string, 0, len(result.Failed))
					for key, ferr := range result.Failed {
						keys = append(keys, fmt.Sprintf("%s: %v", key, ferr))
					}
					sort.Strings(keys)
					return fmt.Errorf("%d aggregations failed:\n  %s", len(keys), strings.Join(keys, "\n  "))
				}
				return nil
			})
		},
	}

	days.register(cmd)
	cmd.Flags().StringSliceVar(&topics, "topic", nil, "topics to aggregate (default TOPICS)")
	cmd.Flags().StringSliceVar(&algorithms, "algorithm", nil, "algorithms to aggregate (default AGGREGATE_ALGORITHMS)")
	return cmd
}

func newRunCmd() *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full daily pipeline once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				day := pipeline.TargetDate(time.Now())
				if date != "" {
					var err error
					if day, err = parseDay(date); err != nil {
						return err
					}
				}

				report, err := a.Pipeline.Run(ctx, day)
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), report, func(w io.Writer) {
					printReport(w, report)
				})
			})
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "UTC day to aggregate (YYYY-MM-DD), default yesterday")
	return cmd
}

func newReportCmd() *cobra.Command {
	var date string
	var send bool

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the stored aggregates of a day and optionally send them as the daily report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				day := pipeline.TargetDate(time.Now())
				if date != "" {
					var err error
					if day, err = parseDay(date); err != nil {
						return err
					}
				}

				rows, err := a.Repo.ListDailyAggregates(storage.AggregateQuery{From: day, To: day})
				if err != nil {
					return err
				}
				report := buildReport(day, rows, a.Topics, a.Config.AggregateAlgorithms)
				report.WeightingConfig = a.Weighting.Version()
				report.WeightingFormulas = a.Weighting.Describe()

				if send {
					if !a.Notifier.Enabled() {
						return fmt.Errorf("no notification channel configured")
					}
					if err := a.Notifier.SendReport(ctx, report); err != nil {
						return err
					}
				}
				return printResult(cmd.OutOrStdout(), report, func(w io.Writer) {
					printReport(w, report)
				})
			})
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "UTC day (YYYY-MM-DD), default yesterday")
	cmd.Flags().BoolVar(&send, "send", false, "send the report through the configured Teams/e-mail channels")
	return cmd
}

// buildReport keeps the newest row of every topic and algorithm and lists the keys without one
func buildReport(day time.Time, rows []models.DailyAggregate, topics []models.Topic, algorithms []string) *models.DailyReport {
	latest := make(map[string]models.DailyAggregate)
	for _, row := range rows {
		latest[string(row.Topic)+"/"+row.AlgorithmID] = row
	}

	report := &models.DailyReport{GeneratedAt: time.Now().UTC(), Date: day}
	for _, topic := range topics {
		for _, alg := range algorithms {
			key := string(topic) + "/" + alg
			if agg, ok := latest[key]; ok {
				report.Aggregates = append(report.Aggregates, agg)
			} else {
				report.EmptyCohorts = append(report.EmptyCohorts, key)
			}
		}
	}
	return report
}

func printReport(w io.Writer, report *models.DailyReport) {
	fmt.Fprintf(w, "Daily sentiment for %s\n", report.Date.Format(dateLayout))
	if report.BatchJobID != "" {
		fmt.Fprintf(w, "batch %s: %d posts collected, %d analyzed, %d fallbacks\n",
			report.BatchJobID, report.PostsCollected, report.PostsAnalyzed, report.FallbackCount)
	}
	for _, agg := range report.Aggregates {
		fmt.Fprintf(w, "  %-18s %-8s %-8s %+.3f  (%d posts, %.1f%% bullish, %.1f%% bearish)\n",
			agg.Topic, agg.AlgorithmID, agg.DominantSentiment, agg.WeightedScore,
			agg.TotalPosts, agg.BullishPercentage, agg.BearishPercentage)
	}
	for _, key := range report.EmptyCohorts {
		fmt.Fprintf(w, "  %s: no data\n", key)
	}
	if len(report.WeightingFormulas) > 0 {
		fmt.Fprintf(w, "weighting %s\n", report.WeightingConfig)
		for _, name := range sortedKeys(report.WeightingFormulas) {
			if name == "version" {
				continue
			}
			fmt.Fprintf(w, "  %-24s %s\n", name, report.WeightingFormulas[name])
		}
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// checkSample is classified by the llm analyzer to verify the completion API
const checkSample = "Bitcoin just broke its all time high, buying more"

func newCheckAPIsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-apis",
		Short: "Verify connectivity to the X search API and the configured LLM provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
				defer cancel()

				w := cmd.OutOrStdout()
				failed := 0

				fmt.Fprintln(w, "X search API")
				if !a.Collector.IsEnabled() {
					fmt.Fprintln(w, "  DISABLED (X_BEARER_TOKEN not set)")
				} else {
					for _, topic := range a.Topics {
						n, err := a.Collector.Probe(ctx, topic)
						if err != nil {
							failed++
							fmt.Fprintf(w, "  %-18s FAILED: %v\n", topic, err)
							continue
						}
						fmt.Fprintf(w, "  %-18s OK (%d posts in the last hour)\n", topic, n)
					}
				}

				fmt.Fprintln(w, "LLM classifier")
				if !a.Sentiment.Known(sentiment.AlgorithmLLM) {
					fmt.Fprintln(w, "  DISABLED (llm not selected)")
				} else {
					score, err := a.Sentiment.Classify(ctx, "check-apis", checkSample, sentiment.AlgorithmLLM)
					switch {
					case err != nil:
						failed++
						fmt.Fprintf(w, "  FAILED: %v\n", err)
					case score.Fallback:
						failed++
						fmt.Fprintf(w, "  FAILED: fell back to %s (%s)\n", score.AlgorithmID, score.FallbackReason)
					default:
						fmt.Fprintf(w, "  OK (%s, confidence %.2f)\n", score.Classification, score.Confidence)
					}
				}

				if failed > 0 {
					return fmt.Errorf("%d API checks failed", failed)
				}
				return nil
			})
		},
	}
}
