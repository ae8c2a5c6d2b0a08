package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dgnsrekt/cayt_agent/internal/background"
	"github.com/dgnsrekt/cayt_agent/internal/protocol"
)

type healthView struct {
	Status       string `json:"status"`
	Backend      string `json:"backend"`
	BackendError string `json:"backend_error"`
	Ollama       string `json:"ollama"`
	Model        string `json:"model"`
	STT          string `json:"stt"`
	Tabs         int    `json:"tabs"`
	Pages        int    `json:"pages"`
}

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show daemon and translation backend health",
		RunE: func(cmd *cobra.Command, args []string) error {
			var h healthView
			raw, err := ctx.call(cmd.Context(), http.MethodGet, "/health", nil, &h)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if ctx.jsonOutput() {
				return printRaw(out, raw)
			}
			rows := [][]string{
				{"Daemon", h.Status},
				{"Backend", nonEmpty(h.Backend, h.BackendError)},
				{"Ollama", h.Ollama},
				{"Model", h.Model},
				{"STT", h.STT},
				{"Tabs", strconv.Itoa(h.Tabs)},
				{"Pages", strconv.Itoa(h.Pages)},
			}
			if h.BackendError != "" {
				rows = append(rows, []string{"Error", h.BackendError})
			}
			fmt.Fprintln(out, renderTable([]string{"Component", "Status"}, rows, nil))
			return nil
		},
	}
}

func newTabsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "tabs",
		Short: "List tab sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			var body struct {
				Tabs []background.TabInfo `json:"tabs"`
			}
			raw, err := ctx.call(cmd.Context(), http.MethodGet, "/api/v1/tabs", nil, &body)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if ctx.jsonOutput() {
				return printRaw(out, raw)
			}
			if len(body.Tabs) == 0 {
				fmt.Fprintln(out, "No tab sessions")
				return nil
			}
			rows := make([][]string, 0, len(body.Tabs))
			for _, t := range body.Tabs {
				rows = append(rows, []string{
					t.TabID,
					deref(t.VideoID),
					tabStatus(t.TabState),
					strconv.Itoa(t.TotalSegments),
					yesNo(t.Connected),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Tab", "Video", "State", "Segments", "Page"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <tab_id>",
		Short: "Show one tab session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var info background.TabInfo
			raw, err := ctx.call(cmd.Context(), http.MethodGet, "/api/v1/tabs/"+url.PathEscape(args[0]), nil, &info)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if ctx.jsonOutput() {
				return printRaw(out, raw)
			}
			rows := [][]string{
				{"Tab", info.TabID},
				{"State", tabStatus(info.TabState)},
				{"Video", deref(info.VideoID)},
				{"Task", deref(info.TaskID)},
				{"Source", info.SourceType},
				{"Segments", strconv.Itoa(info.TotalSegments)},
				{"Page", yesNo(info.Connected)},
			}
			if info.Error != nil {
				rows = append(rows, []string{"Error", *info.Error})
			}
			fmt.Fprintln(out, renderTable([]string{"Field", "Value"}, rows, nil))
			return nil
		},
	}
}

func newTabActionCommands(ctx *commandContext) []*cobra.Command {
	toggle := &cobra.Command{
		Use:   "toggle <tab_id>",
		Short: "Press the subtitle toggle in a tab",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var state protocol.TabState
			raw, err := ctx.call(cmd.Context(), http.MethodPost, "/api/v1/tabs/"+url.PathEscape(args[0])+"/toggle", nil, &state)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return printRaw(cmd.OutOrStdout(), raw)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Tab %s: %s\n", args[0], tabStatus(state))
			return nil
		},
	}

	cancel := &cobra.Command{
		Use:   "cancel <tab_id>",
		Short: "Cancel a tab's in-flight translation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res struct {
				VideoID string `json:"videoId"`
				Message string `json:"message"`
			}
			raw, err := ctx.call(cmd.Context(), http.MethodPost, "/api/v1/tabs/"+url.PathEscape(args[0])+"/cancel", nil, &res)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return printRaw(cmd.OutOrStdout(), raw)
			}
			if res.VideoID == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Tab %s: %s\n", args[0], res.Message)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Tab %s: %s (%s)\n", args[0], res.Message, res.VideoID)
			return nil
		},
	}

	remove := &cobra.Command{
		Use:   "remove <tab_id>",
		Short: "Forget a tab session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := ctx.call(cmd.Context(), http.MethodDelete, "/api/v1/tabs/"+url.PathEscape(args[0]), nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Tab %s removed\n", args[0])
			return nil
		},
	}

	return []*cobra.Command{toggle, cancel, remove}
}

func newOptionsCommand(ctx *commandContext) *cobra.Command {
	optionsCmd := &cobra.Command{
		Use:   "options",
		Short: "Show or change display options",
	}

	show := &cobra.Command{
		Use:   "get",
		Short: "Show display options",
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts protocol.Options
			raw, err := ctx.call(cmd.Context(), http.MethodGet, "/api/v1/options", nil, &opts)
			if err != nil {
				return err
			}
			return printOptions(ctx, cmd.OutOrStdout(), raw, opts)
		},
	}

	var size string
	var showOriginal string
	set := &cobra.Command{
		Use:   "set",
		Short: "Change display options",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{}
			if size != "" {
				body["subtitleSize"] = strings.ToLower(size)
			}
			if showOriginal != "" {
				v, err := strconv.ParseBool(showOriginal)
				if err != nil {
					return fmt.Errorf("--show-original: %w", err)
				}
				body["showOriginal"] = v
			}
			if len(body) == 0 {
				return fmt.Errorf("nothing to change; pass --size or --show-original")
			}
			var opts protocol.Options
			raw, err := ctx.call(cmd.Context(), http.MethodPut, "/api/v1/options", body, &opts)
			if err != nil {
				return err
			}
			return printOptions(ctx, cmd.OutOrStdout(), raw, opts)
		},
	}
	set.Flags().StringVar(&size, "size", "", "Subtitle size: small, medium or large")
	set.Flags().StringVar(&showOriginal, "show-original", "", "Show the original line under the translation (true|false)")

	optionsCmd.AddCommand(show, set)
	return optionsCmd
}

func printOptions(ctx *commandContext, out io.Writer, raw []byte, opts protocol.Options) error {
	if ctx.jsonOutput() {
		return printRaw(out, raw)
	}
	fmt.Fprintln(out, renderTable([]string{"Option", "Value"}, [][]string{
		{"subtitleSize", opts.SubtitleSize},
		{"showOriginal", strconv.FormatBool(opts.ShowOriginal)},
	}, nil))
	return nil
}
