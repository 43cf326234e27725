package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/metabolic-panel/internal/config"
	"github.com/ehr/metabolic-panel/internal/domain/metabolic"
	"github.com/ehr/metabolic-panel/internal/platform/pdfreport"
	"github.com/ehr/metabolic-panel/internal/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "metabolic-panel",
		Short:        "Extended metabolic panel calculator and report generator",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(computeCmd())
	rootCmd.AddCommand(renderCmd())
	rootCmd.AddCommand(sweepCmd())
	return rootCmd
}

func newLogger(w io.Writer) zerolog.Logger {
	if os.Getenv("ENV") == "development" || os.Getenv("ENV") == "" {
		return zerolog.New(zerolog.ConsoleWriter{Out: w}).With().Timestamp().Logger()
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(os.Stdout)

			cfg, err := loadConfig()
			if err != nil {
				logger.Error().Err(err).Msg("failed to load config")
				return err
			}

			srv, err := server.New(cfg, logger)
			if err != nil {
				logger.Error().Err(err).Msg("failed to build server")
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return srv.Run(ctx)
		},
	}
}

// labFlags registers the six lab value flags on cmd.
func labFlags(cmd *cobra.Command, raw *metabolic.RawLabValues) {
	cmd.Flags().StringVar(&raw.Cholesterol, metabolic.FieldCholesterol, "", "Total cholesterol (mg/dL)")
	cmd.Flags().StringVar(&raw.HDL, metabolic.FieldHDL, "", "HDL (mg/dL)")
	cmd.Flags().StringVar(&raw.LDL, metabolic.FieldLDL, "", "LDL (mg/dL)")
	cmd.Flags().StringVar(&raw.Triglycerides, metabolic.FieldTriglycerides, "", "Triglycerides (mg/dL)")
	cmd.Flags().StringVar(&raw.Glucose, metabolic.FieldGlucose, "", "Glucose (mg/dL)")
	cmd.Flags().StringVar(&raw.Insulin, metabolic.FieldInsulin, "", "Insulin (uU/mL)")
}

func computeCmd() *cobra.Command {
	var raw metabolic.RawLabValues
	cmd := &cobra.Command{
		Use:   "compute",
		Short: "Compute the metabolic indices for a set of lab values",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, out, err := metabolic.Evaluate(raw)
			if err != nil {
				var verr *metabolic.ValidationError
				if errors.As(err, &verr) {
					return errors.New(verr.Message())
				}
				return err
			}

			w := cmd.OutOrStdout()
			for _, idx := range out.Indices {
				flag := ""
				if idx.Elevated {
					flag = "  (elevated)"
				}
				fmt.Fprintf(w, "%-20s %s%s\n", idx.Name, pdfreport.FormatValue(idx.Value), flag)
			}
			if len(out.Comments) == 0 {
				fmt.Fprintln(w, "No findings above the reference thresholds.")
				return nil
			}
			fmt.Fprintln(w, "Clinical interpretation:")
			for _, c := range out.Comments {
				fmt.Fprintf(w, "- %s\n", c)
			}
			return nil
		},
	}
	labFlags(cmd, &raw)
	return cmd
}

func renderCmd() *cobra.Command {
	var (
		sub    metabolic.Submission
		outDir string
	)
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Assemble a PDF report and write it to a directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}

			in, err := metabolic.BuildReportInput(sub)
			if err != nil {
				var verr *metabolic.ValidationError
				if errors.As(err, &verr) {
					return errors.New(verr.Message())
				}
				return err
			}

			doc, err := pdfreport.New(pdfreport.WithLocation(loc)).Assemble(in)
			if err != nil {
				return &metabolic.UnexpectedError{Op: "assemble", Err: err}
			}

			if err := os.MkdirAll(outDir, 0o750); err != nil {
				return fmt.Errorf("creating output directory: %w", err)
			}
			// The derived name embeds free text; keep the write inside outDir.
			path := filepath.Join(outDir, filepath.Base(doc.FileName))
			if err := os.WriteFile(path, doc.Content, 0o600); err != nil {
				return &metabolic.UnexpectedError{Op: "write", Err: err}
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&sub.Patient.Name, "patient-name", "", "Patient name")
	f.StringVar(&sub.Patient.Identifier, "identifier", "", "Patient identifier")
	f.StringVar(&sub.Patient.SampleDate, "sample-date", "", "Sample date")
	f.StringVar(&sub.Patient.SampleTime, "sample-time", "", "Sample time")
	f.StringVar(&sub.Patient.Laboratory, "laboratory", "", "Laboratory")
	f.StringVar(&sub.Patient.Validator, "validator", "", "Validating professional")
	f.StringVar(&sub.VitalSigns, "vital-signs", "", "Vital signs (free text)")
	f.StringVar(&sub.ComplementaryExams, "complementary-exams", "", "Complementary exams (free text)")
	f.StringVar(&outDir, "out", ".", "Directory to write the report into")
	labFlags(cmd, &sub.Labs)
	return cmd
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete stored reports older than REPORT_RETENTION",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.ReportStore != config.StoreFilesystem {
				return fmt.Errorf("sweep requires REPORT_STORE=%s, got %q", config.StoreFilesystem, cfg.ReportStore)
			}

			store, err := server.NewStore(cfg)
			if err != nil {
				return err
			}
			retention, err := server.NewRetention(cfg, store, newLogger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}

			removed, err := retention.Purge(cmd.Context())
			if err != nil {
				return fmt.Errorf("sweep failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d report(s) older than %s.\n", removed, cfg.ReportRetention)
			return nil
		},
	}
}
