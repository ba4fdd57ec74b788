package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func (c *cli) modelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "models",
		Aliases: []string{"model"},
		Short:   "List and edit model configurations",
	}

	var provider, category, status, search string
	var enabledOnly bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List models with their usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			for k, v := range map[string]string{"provider": provider, "category": category, "status": status, "search": search} {
				if v != "" {
					q.Set(k, v)
				}
			}
			if enabledOnly {
				q.Set("enabled_only", "true")
			}
			data, err := c.call(cmd.Context(), http.MethodGet, withQuery("/models", q), nil)
			if err != nil {
				return err
			}
			models, _ := data["models"].([]any)
			if len(models) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No models registered.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "MODEL\tCATEGORY\tSTATUS\tPRIORITY\t$/1K\tREQUESTS\tAVG LATENCY\tENABLED")
			for _, m := range models {
				mm, _ := m.(map[string]any)
				usage, _ := mm["usage_stats"].(map[string]any)
				_, _ = fmt.Fprintf(tw, "%v\t%v\t%v\t%s\t%s\t%s\t%s\t%s\n",
					mm["id"], mm["category"], mm["status"], fmtNum(mm["priority"]),
					fmtCost(mm["cost_per_1k_tokens"]), fmtNum(usage["total_requests"]),
					fmtDuration(usage["avg_response_time"]), yesNo(mm["enabled"]))
			}
			return tw.Flush()
		},
	}
	list.Flags().StringVar(&provider, "provider", "", "filter by provider")
	list.Flags().StringVar(&category, "category", "", "filter by category")
	list.Flags().StringVar(&status, "status", "", "filter by status")
	list.Flags().StringVar(&search, "search", "", "substring of name or provider")
	list.Flags().BoolVar(&enabledOnly, "enabled-only", false, "only enabled models")

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a model and its 30-day report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := c.call(cmd.Context(), http.MethodGet, "/models/"+url.PathEscape(args[0]), nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}

	var verbose bool
	update := &cobra.Command{
		Use:   "update <id> <json>",
		Short: "Patch editable fields, e.g. '{\"quality_score\":0.9}'",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch map[string]any
			if err := jsonUnmarshal(args[1], &patch); err != nil {
				return fmt.Errorf("patch: %w", err)
			}
			data, err := c.call(cmd.Context(), http.MethodPut, "/models/"+url.PathEscape(args[0]), patch)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Model %s updated.\n", args[0])
			if verbose {
				return printJSON(cmd.OutOrStdout(), data["model"])
			}
			return nil
		},
	}
	update.Flags().BoolVarP(&verbose, "verbose", "v", false, "print the updated model")

	setEnabled := func(use string, enabled bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <id>",
			Short: use + " a model",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if _, err := c.call(cmd.Context(), http.MethodPut, "/models/"+url.PathEscape(args[0]),
					map[string]any{"enabled": enabled}); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Model %s %sd.\n", args[0], use)
				return nil
			},
		}
	}

	priority := &cobra.Command{
		Use:   "priority <id> <1-10>",
		Short: "Set model priority (1 = highest)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("priority must be an integer: %w", err)
			}
			data, err := c.call(cmd.Context(), http.MethodPost, "/models/"+url.PathEscape(args[0])+"/priority",
				map[string]any{"priority": n})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), data["message"])
			return nil
		},
	}

	cmd.AddCommand(list, get, update, setEnabled("enable", true), setEnabled("disable", false), priority)
	return cmd
}

func (c *cli) optimizeCmd() *cobra.Command {
	var language, useCase string
	var budget, maxLatency, minQuality float64
	var limit int
	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Rank models for a language and use case",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := map[string]any{"language": language, "use_case": useCase}
			if cmd.Flags().Changed("budget") {
				req["budget_limit"] = budget
			}
			if cmd.Flags().Changed("max-latency") {
				req["max_response_time"] = maxLatency
			}
			if cmd.Flags().Changed("min-quality") {
				req["min_quality_score"] = minQuality
			}
			if limit > 0 {
				req["limit"] = limit
			}
			data, err := c.call(cmd.Context(), http.MethodPost, "/optimize", req)
			if err != nil {
				return err
			}
			recs, _ := data["recommendations"].([]any)
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "RANK\tMODEL\tSCORE\t$/1K\tQUALITY")
			for i, r := range recs {
				rr, _ := r.(map[string]any)
				_, _ = fmt.Fprintf(tw, "%d\t%v\t%s\t%s\t%s\n", i+1, rr["id"],
					fmtNum(rr["optimization_score"]), fmtCost(rr["cost_per_1k_tokens"]), fmtNum(rr["quality_score"]))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), data["message"])
			return nil
		},
	}
	cmd.Flags().StringVar(&language, "language", "en", "target language")
	cmd.Flags().StringVar(&useCase, "use-case", "conversation", "use case (model category)")
	cmd.Flags().Float64Var(&budget, "budget", 0, "maximum cost per 1K tokens")
	cmd.Flags().Float64Var(&maxLatency, "max-latency", 0, "maximum average response time in ms")
	cmd.Flags().Float64Var(&minQuality, "min-quality", 0, "minimum quality score")
	cmd.Flags().IntVar(&limit, "limit", 0, "number of recommendations (server default 5)")
	return cmd
}

func (c *cli) reportCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "report <id>",
		Short: "Show a model's performance report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{"days": {strconv.Itoa(days)}}
			data, err := c.call(cmd.Context(), http.MethodGet, withQuery("/performance/"+url.PathEscape(args[0]), q), nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data["report"])
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "report window in days (1-365)")
	return cmd
}

func (c *cli) overviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "overview",
		Short: "Show the system overview",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := c.call(cmd.Context(), http.MethodGet, "/overview", nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
}

func (c *cli) healthCmd() *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Show provider health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var providers map[string]any
			out := cmd.OutOrStdout()
			if check {
				data, err := c.call(cmd.Context(), http.MethodPost, "/health-check", nil)
				if err != nil {
					return err
				}
				providers, _ = data["health_check_results"].(map[string]any)
				_, _ = fmt.Fprintf(out, "Health check %v\n", data["run_id"])
			} else {
				data, err := c.call(cmd.Context(), http.MethodGet, "/health", nil)
				if err != nil {
					return err
				}
				providers, _ = data["providers"].(map[string]any)
				_, _ = fmt.Fprintf(out, "System: %v  Router: %v\n", data["system_health"], data["router_status"])
			}

			names := make([]string, 0, len(providers))
			for n := range providers {
				names = append(names, n)
			}
			sort.Strings(names)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "PROVIDER\tSTATUS\tAVAILABLE\tLATENCY\tERROR")
			for _, n := range names {
				p, _ := providers[n].(map[string]any)
				errMsg, _ := p["error"].(string)
				if errMsg == "" {
					errMsg = "-"
				}
				_, _ = fmt.Fprintf(tw, "%s\t%v\t%s\t%s\t%s\n", n, p["status"], yesNo(p["available"]),
					fmtDuration(p["latency_ms"]), errMsg)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "force a fresh check of every provider")
	return cmd
}

func (c *cli) trackCmd() *cobra.Command {
	var latency, cost, quality float64
	var tokens int64
	var failed bool
	var requestType, language, key string
	cmd := &cobra.Command{
		Use:   "track <model-id>",
		Short: "Report one usage event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ev := map[string]any{
				"model_id":         args[0],
				"response_time_ms": latency,
				"tokens_used":      tokens,
				"cost":             cost,
				"success":          !failed,
				"request_type":     requestType,
				"language":         language,
			}
			if cmd.Flags().Changed("quality") {
				ev["quality_rating"] = quality
			}
			var header http.Header
			if key != "" {
				header = http.Header{"Idempotency-Key": {key}}
			}
			data, err := c.do(cmd.Context(), http.MethodPost, adminPrefix+"/usage", ev, header)
			if err != nil {
				return err
			}
			var resp map[string]any
			if err := jsonUnmarshal(string(data), &resp); err != nil {
				return err
			}
			if resp["tracked"] != true {
				return fmt.Errorf("event not tracked: %v", resp["message"])
			}
			stats, _ := resp["usage_stats"].(map[string]any)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Tracked %s (requests=%s, success rate=%s)\n",
				args[0], fmtNum(stats["total_requests"]), fmtNum(stats["success_rate"]))
			return nil
		},
	}
	cmd.Flags().Float64Var(&latency, "latency", 0, "response time in ms")
	cmd.Flags().Int64Var(&tokens, "tokens", 0, "tokens used")
	cmd.Flags().Float64Var(&cost, "cost", 0, "cost in USD")
	cmd.Flags().Float64Var(&quality, "quality", 0, "quality rating 0-1")
	cmd.Flags().BoolVar(&failed, "failed", false, "the request failed")
	cmd.Flags().StringVar(&requestType, "type", "conversation", "request type")
	cmd.Flags().StringVar(&language, "language", "en", "request language")
	cmd.Flags().StringVar(&key, "idempotency-key", "", "dedupe key for retried reports")
	return cmd
}

func (c *cli) usageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Usage statistics",
	}

	var start, end, provider string
	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show windowed usage statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			for k, v := range map[string]string{"start_date": start, "end_date": end, "provider": provider} {
				if v != "" {
					q.Set(k, v)
				}
			}
			data, err := c.call(cmd.Context(), http.MethodGet, withQuery("/usage-stats", q), nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
	stats.Flags().StringVar(&start, "start", "", "window start (YYYY-MM-DD or RFC 3339)")
	stats.Flags().StringVar(&end, "end", "", "window end (YYYY-MM-DD or RFC 3339)")
	stats.Flags().StringVar(&provider, "provider", "", "filter by provider")

	var yes bool
	reset := &cobra.Command{
		Use:   "reset [model-id]",
		Short: "Reset usage counters for one model or all models",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to reset without --yes")
			}
			req := map[string]any{"confirm": true}
			if len(args) == 1 {
				req["model_id"] = args[0]
			}
			data, err := c.call(cmd.Context(), http.MethodPost, "/reset-stats", req)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%v (%s models)\n", data["message"], fmtNum(data["reset_count"]))
			return nil
		},
	}
	reset.Flags().BoolVar(&yes, "yes", false, "confirm the reset")

	cmd.AddCommand(stats, reset)
	return cmd
}

func (c *cli) exportCmd() *cobra.Command {
	var format, output string
	var noStats bool
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the registry as JSON or CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{"format": {format}}
			if noStats {
				q.Set("include_stats", "false")
			}
			data, err := c.do(cmd.Context(), http.MethodGet, withQuery(adminPrefix+"/export", q), nil, nil)
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d bytes to %s\n", len(data), output)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "json or csv")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	cmd.Flags().BoolVar(&noStats, "no-stats", false, "omit usage statistics")
	return cmd
}
