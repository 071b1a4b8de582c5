package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sharp-job-service/internal/repository/postgresql"
)

// --- job ---

var jobCmd = &cobra.Command{
	Use:   "job <job-id>",
	Short: "Show a job snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := uuid.Parse(args[0]); err != nil {
			return fmt.Errorf("job id must be a uuid: %w", err)
		}

		resp, err := newAPIClient().get(cmd.Context(), "/api/status/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var job map[string]any
		if err := decodeJSON(resp, &job); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), job)
	},
}

// --- generate ---

var generateCmd = &cobra.Command{
	Use:   "generate <image-id>",
	Short: "Submit a generation job for an uploaded image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := newAPIClient().post(cmd.Context(), "/api/generate", map[string]string{"imageId": args[0]})
		if err != nil {
			return err
		}
		var job map[string]any
		if err := decodeJSON(resp, &job); err != nil {
			return err
		}
		log.WithField("job_id", job["jobId"]).Debug("job submitted")
		return printJSON(cmd.OutOrStdout(), job)
	},
}

// --- queue ---

type queueStatus struct {
	ActiveJobs        int `json:"activeJobs"`
	QueuedJobs        int `json:"queuedJobs"`
	MaxConcurrent     int `json:"maxConcurrent"`
	AverageJobSeconds int `json:"averageJobSeconds"`
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show active and queued job counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := newAPIClient().get(cmd.Context(), "/api/queue")
		if err != nil {
			return err
		}
		var st queueStatus
		if err := decodeJSON(resp, &st); err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "ACTIVE\t%d/%d\n", st.ActiveJobs, st.MaxConcurrent)
		fmt.Fprintf(w, "QUEUED\t%d\n", st.QueuedJobs)
		fmt.Fprintf(w, "AVG JOB\t%ds\n", st.AverageJobSeconds)
		return w.Flush()
	},
}

// --- usage ---

type usageReport struct {
	Usage struct {
		AllTime         int64   `json:"allTime"`
		ThisHour        int     `json:"thisHour"`
		ThisDay         int     `json:"thisDay"`
		ThisMonth       int     `json:"thisMonth"`
		ThisYear        int     `json:"thisYear"`
		HourlyBreakdown [24]int `json:"hourlyBreakdown"`
	} `json:"usage"`
	Cost struct {
		ThisHour  float64 `json:"thisHour"`
		ThisDay   float64 `json:"thisDay"`
		ThisMonth float64 `json:"thisMonth"`
		ThisYear  float64 `json:"thisYear"`
		AllTime   float64 `json:"allTime"`
	} `json:"cost"`
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show completed-job counts and estimated GPU cost",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := newAPIClient().get(cmd.Context(), "/api/usage")
		if err != nil {
			return err
		}
		var r usageReport
		if err := decodeJSON(resp, &r); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "WINDOW\tJOBS\tCOST (USD)")
		fmt.Fprintf(w, "hour\t%d\t%.4f\n", r.Usage.ThisHour, r.Cost.ThisHour)
		fmt.Fprintf(w, "day\t%d\t%.4f\n", r.Usage.ThisDay, r.Cost.ThisDay)
		fmt.Fprintf(w, "month\t%d\t%.4f\n", r.Usage.ThisMonth, r.Cost.ThisMonth)
		fmt.Fprintf(w, "year\t%d\t%.4f\n", r.Usage.ThisYear, r.Cost.ThisYear)
		fmt.Fprintf(w, "all time\t%d\t%.4f\n", r.Usage.AllTime, r.Cost.AllTime)
		if err := w.Flush(); err != nil {
			return err
		}

		hourly, _ := cmd.Flags().GetBool("hourly")
		if hourly {
			fmt.Fprintln(out)
			fmt.Fprintln(out, "last 24h, oldest first:")
			fmt.Fprintln(out, sparkline(r.Usage.HourlyBreakdown[:]))
		}
		return nil
	},
}

func init() {
	usageCmd.Flags().Bool("hourly", false, "also print the 24-hour breakdown")
}

// --- migrate ---

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations (uses POSTGRES_DSN)",
	RunE: func(cmd *cobra.Command, args []string) error {
		v := viper.New()
		v.AutomaticEnv()
		dsn := v.GetString("POSTGRES_DSN")
		if dsn == "" {
			return fmt.Errorf("POSTGRES_DSN is required")
		}
		if err := postgresql.RunMigrations(dsn); err != nil {
			return err
		}
		log.Info("migrations applied")
		return nil
	},
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var sparkRunes = []rune("▁▂▃▄▅▆▇█")

func sparkline(counts []int) string {
	peak := 0
	for _, c := range counts {
		if c > peak {
			peak = c
		}
	}
	var b strings.Builder
	for _, c := range counts {
		if peak == 0 || c == 0 {
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(sparkRunes[(c*(len(sparkRunes)-1))/peak])
	}
	return b.String()
}
