package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rrh1441/agentops-replay/internal/adapter/openai"
	"github.com/rrh1441/agentops-replay/internal/adapter/tracefile"
	"github.com/rrh1441/agentops-replay/internal/resilience"
	"github.com/rrh1441/agentops-replay/internal/service"
)

var analyzeModel string

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file.csv>",
	Short: "Run one KPI extraction over a CSV file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := tracefile.New(cfg.Storage.Dir)
		if err != nil {
			return err
		}

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		client := openai.New(cfg.OpenAI)
		client.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

		analyzer := service.NewAnalyzer(st, client, client)
		res, err := analyzer.Analyze(cmd.Context(), service.AnalysisRequest{
			Filename: args[0],
			Data:     f,
			ModelKey: analyzeModel,
		})
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay <session-id>",
	Short: "Replay a recorded session and report the variance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := tracefile.New(cfg.Storage.Dir)
		if err != nil {
			return err
		}

		client := openai.New(cfg.OpenAI)
		client.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

		eng := service.NewReplayEngine(st, client)
		eng.SetCallTimeout(cfg.Replay.CallTimeout)

		res, err := eng.Replay(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recorded sessions, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := tracefile.New(cfg.Storage.Dir)
		if err != nil {
			return err
		}

		sessions, err := st.ListSessions(cmd.Context())
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SESSION\tCREATED\tMODEL\tSTATUS\tEVENTS\tVALID\tPARENT")
		for _, s := range sessions {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%v\t%s\n",
				s.ID, s.CreatedAt.Format("2006-01-02 15:04:05"), s.Model,
				s.Status, s.EventCount, s.Valid, s.ParentSessionID)
		}
		return tw.Flush()
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeModel, "model", openai.DefaultModelKey, "model configuration key")
}
