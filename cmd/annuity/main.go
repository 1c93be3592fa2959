package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rgehrsitz/annuity/internal/actuarial"
	"github.com/rgehrsitz/annuity/internal/config"
	"github.com/rgehrsitz/annuity/internal/domain"
	"github.com/rgehrsitz/annuity/internal/output"
	"github.com/rgehrsitz/annuity/internal/quote"
	"github.com/rgehrsitz/annuity/internal/server"
	"github.com/rgehrsitz/annuity/internal/tables"
)

// slogLogger implements actuarial.Logger on top of a slog handler.
type slogLogger struct{ l *slog.Logger }

func (s slogLogger) Debugf(format string, args ...any) { s.l.Debug(fmt.Sprintf(format, args...)) }
func (s slogLogger) Infof(format string, args ...any)  { s.l.Info(fmt.Sprintf(format, args...)) }
func (s slogLogger) Warnf(format string, args ...any)  { s.l.Warn(fmt.Sprintf(format, args...)) }
func (s slogLogger) Errorf(format string, args ...any) { s.l.Error(fmt.Sprintf(format, args...)) }

func newLogger(w io.Writer, format string, debugMode bool) actuarial.Logger {
	level := slog.LevelInfo
	if debugMode {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slogLogger{slog.New(slog.NewJSONHandler(w, opts))}
	}
	return slogLogger{slog.New(slog.NewTextHandler(w, opts))}
}

func cmdLogger(cmd *cobra.Command) actuarial.Logger {
	debugMode, _ := cmd.Flags().GetBool("debug")
	format, _ := cmd.Flags().GetString("log-format")
	return newLogger(cmd.ErrOrStderr(), format, debugMode)
}

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "annuity %s (commit %s, built %s)\n", version, commit, date)
			if info := buildInfo(); info != "" {
				fmt.Fprintln(cmd.OutOrStdout(), info)
			}
		},
	}
}

func buildInfo() string {
	if bi, ok := debug.ReadBuildInfo(); ok && bi != nil {
		return bi.Main.Path + " " + bi.Main.Version
	}
	return ""
}

// loadRequest parses a request file and loads the tables it names. Relative
// table paths resolve against --data, then tables.data_path, then the
// directory of the request file.
func loadRequest(cmd *cobra.Command, path string) (*domain.Configuration, *quote.Engine, error) {
	parser := config.NewInputParser()
	cfg, err := parser.LoadFromFile(path)
	if err != nil {
		return nil, nil, err
	}
	if err := parser.ValidateTables(cfg); err != nil {
		return nil, nil, err
	}

	dataPath, _ := cmd.Flags().GetString("data")
	if dataPath == "" {
		dataPath = cfg.Tables.DataPath
		switch {
		case dataPath == "":
			dataPath = filepath.Dir(path)
		case !filepath.IsAbs(dataPath):
			dataPath = filepath.Join(filepath.Dir(path), dataPath)
		}
	}

	logger := cmdLogger(cmd)
	loader := tables.NewLoader(dataPath)
	loader.SetLogger(logger)
	snapshot, err := loader.Load(cfg.Tables)
	if err != nil {
		return nil, nil, err
	}
	engine := quote.NewEngine(snapshot)
	engine.SetLogger(logger)
	return cfg, engine, nil
}

var rootCmd = &cobra.Command{
	Use:   "annuity",
	Short: "Pension annuity quote calculator",
	Long: `Prices programmed withdrawals, life annuities and survivor pensions from
published mortality tables and a discount rate or curve.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var quoteCmd = &cobra.Command{
	Use:   "quote [request-file]",
	Short: "Price every scenario of a request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		f := output.GetFormatterByName(format)
		if f == nil {
			return fmt.Errorf("unknown format %q (available: %v)", format, output.AvailableFormatterNames())
		}

		cfg, engine, err := loadRequest(cmd, args[0])
		if err != nil {
			return err
		}
		report, err := engine.Run(cmd.Context(), cfg)
		if err != nil {
			return err
		}

		if dir, _ := cmd.Flags().GetString("save"); dir != "" {
			name, err := output.WriteFormatted(f, report, dir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Quote written to %s\n", name)
			return nil
		}
		data, err := f.Format(report)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var factorsCmd = &cobra.Command{
	Use:   "factors [request-file]",
	Short: "Show the actuarial factors behind one scenario",
	Long: `Show the temporal and deferred factors of one scenario. With --schedule the
period-by-period walk is printed as well. Survivor requests ignore --scenario.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, engine, err := loadRequest(cmd, args[0])
		if err != nil {
			return err
		}
		scenario, _ := cmd.Flags().GetString("scenario")
		if scenario == "" && cfg.Affiliate.PensionType != domain.PensionSurvivor {
			if len(cfg.Scenarios) == 0 {
				return fmt.Errorf("request has no scenarios")
			}
			scenario = cfg.Scenarios[0].Name
		}

		periods, err := engine.Schedule(cfg, scenario)
		if err != nil {
			return err
		}
		var f domain.Factors
		for _, p := range periods {
			if p.Temporal {
				f.Temporal += p.PresentValue
			} else {
				f.Deferred += p.PresentValue
			}
		}

		out := cmd.OutOrStdout()
		if schedule, _ := cmd.Flags().GetBool("schedule"); schedule {
			fmt.Fprint(out, output.FormatSchedule(periods))
			return nil
		}
		if scenario != "" {
			fmt.Fprintf(out, "Scenario:  %s\n", scenario)
		}
		fmt.Fprintf(out, "Temporal:  %s\n", output.FormatFactor(f.Temporal))
		fmt.Fprintf(out, "Deferred:  %s\n", output.FormatFactor(f.Deferred))
		fmt.Fprintf(out, "Total:     %s\n", output.FormatFactor(f.Total()))
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate [request-file]",
	Short: "Validate a request file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		parser := config.NewInputParser()
		cfg, err := parser.LoadFromFile(args[0])
		if err != nil {
			return err
		}
		if err := parser.ValidateTables(cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Request file %s is valid\n", args[0])
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the quote API over HTTP",
	Long: `Load the tables named in --config once and serve quote requests until
interrupted. Request bodies carry everything except the tables section.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		configFile, _ := cmd.Flags().GetString("config")
		if configFile == "" {
			return fmt.Errorf("--config is required")
		}
		addr, _ := cmd.Flags().GetString("addr")

		_, engine, err := loadRequest(cmd, configFile)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return server.New(engine, cmdLogger(cmd)).ListenAndServe(ctx, addr)
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging of every factor calculation")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text, json)")

	for _, cmd := range []*cobra.Command{quoteCmd, factorsCmd, serveCmd} {
		cmd.Flags().String("data", "", "Directory holding the table files (default: tables.data_path or the request file's directory)")
	}

	quoteCmd.Flags().StringP("format", "f", "console", "Output format (console, csv, html, json)")
	quoteCmd.Flags().String("save", "", "Write the quote to a timestamped file in this directory instead of stdout")

	factorsCmd.Flags().StringP("scenario", "s", "", "Scenario name (default: the first scenario)")
	factorsCmd.Flags().Bool("schedule", false, "Print the period-by-period walk")

	serveCmd.Flags().String("config", "", "Request file whose tables section names the tables to serve (required)")
	serveCmd.Flags().String("addr", ":8080", "Listen address")

	rootCmd.AddCommand(quoteCmd)
	rootCmd.AddCommand(factorsCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd())
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
