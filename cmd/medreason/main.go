package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/medreason"
	"github.com/brunobiangulo/medreason/metrics"
	"github.com/brunobiangulo/medreason/parser"
)

type rootOptions struct {
	configPath string
	logLevel   string
	timeout    time.Duration
	cfg        *appConfig
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:          "medreason",
		Short:        "Medical document understanding and medicine search",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			if opts.logLevel != "" {
				cfg.LogLevel = opts.logLevel
			}
			// Structured JSON logging. Command output goes to stdout.
			slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
				Level: parseLevel(cfg.LogLevel),
			})))
			opts.cfg = cfg
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to config file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "Timeout for one-shot commands")

	rootCmd.AddCommand(serveCmd(opts))
	rootCmd.AddCommand(processCmd(opts))
	rootCmd.AddCommand(analyzeCmd(opts))
	rootCmd.AddCommand(searchCmd(opts))
	rootCmd.AddCommand(statsCmd(opts))
	return rootCmd
}

func openEngine(cfg *appConfig, rec metrics.Recorder) (medreason.Engine, error) {
	var opts []medreason.Option
	if rec != nil {
		opts = append(opts, medreason.WithMetrics(rec))
	}
	engine, err := medreason.New(cfg.Config, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	return engine, nil
}

func processCmd(opts *rootOptions) *cobra.Command {
	var mediaType string
	var analyze bool
	cmd := &cobra.Command{
		Use:   "process FILE",
		Short: "Extract structured clinical data from a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			engine, err := openEngine(opts.cfg, nil)
			if err != nil {
				return err
			}
			defer engine.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			name := filepath.Base(args[0])
			doc, err := engine.ProcessDocument(ctx, parser.Artifact{
				Name:      name,
				MediaType: detectMediaType(name, mediaType, data),
				Data:      data,
			})
			if err != nil {
				return err
			}
			if !analyze {
				return printJSON(cmd.OutOrStdout(), doc)
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"document": doc,
				"analysis": engine.AnalyzeReport(ctx, doc.Text, doc.Structured.ReportType),
			})
		},
	}
	cmd.Flags().StringVar(&mediaType, "type", "", "Media type (detected from the file when empty)")
	cmd.Flags().BoolVar(&analyze, "analyze", false, "Also run AI analysis on the extracted text")
	return cmd
}

func analyzeCmd(opts *rootOptions) *cobra.Command {
	var reportType string
	cmd := &cobra.Command{
		Use:   "analyze [FILE]",
		Short: "Run AI analysis on report text (reads stdin without FILE)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				text []byte
				err  error
			)
			if len(args) == 0 || args[0] == "-" {
				text, err = io.ReadAll(cmd.InOrStdin())
			} else {
				text, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}
			engine, err := openEngine(opts.cfg, nil)
			if err != nil {
				return err
			}
			defer engine.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			return printResponse(cmd, engine.AnalyzeReport(ctx, string(text), reportType))
		},
	}
	cmd.Flags().StringVar(&reportType, "report-type", "", "Report type, e.g. \"Blood Test\" (classified from the text when empty)")
	return cmd
}

func searchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "search QUERY",
		Short: "Look up a medicine",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openEngine(opts.cfg, nil)
			if err != nil {
				return err
			}
			defer engine.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			return printResponse(cmd, engine.SearchMedicine(ctx, strings.Join(args, " ")))
		},
	}
}

func statsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show knowledge graph and storage statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openEngine(opts.cfg, nil)
			if err != nil {
				return err
			}
			defer engine.Close()

			stats, err := engine.Statistics(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
}

// printResponse prints the envelope and turns a failed one into a non-zero exit.
func printResponse(cmd *cobra.Command, r *medreason.AIResponse) error {
	if err := printJSON(cmd.OutOrStdout(), r); err != nil {
		return err
	}
	if !r.Success {
		return fmt.Errorf("%s: %s", r.ErrorClass, r.Error)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// detectMediaType prefers an explicit type, then the file extension, then
// content sniffing.
func detectMediaType(name, declared string, data []byte) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt", ".md":
		return "text/plain"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	if mt := mime.TypeByExtension(filepath.Ext(name)); mt != "" {
		return mt
	}
	return http.DetectContentType(data)
}
