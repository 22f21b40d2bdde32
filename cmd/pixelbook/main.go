package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dunamismax/pixelbook/internal/config"
	"github.com/dunamismax/pixelbook/internal/frame"
	"github.com/dunamismax/pixelbook/internal/logging"
	"github.com/dunamismax/pixelbook/internal/photobook"
	"github.com/dunamismax/pixelbook/internal/pipeline"
	"github.com/dunamismax/pixelbook/internal/resize"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	cfg    config.Config
	logger zerolog.Logger

	logLevelFlag string
)

// rootCmd is the main Cobra command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "pixelbook",
	Short: "Decorate photos and export photobooks as PDF",
	Long: `pixelbook applies color filters, frames and resizing to photos and lays out
photobooks as paginated PDF documents.

Local commands write their output next to the input photo, named
<name>_<operation><ext>. The submit commands queue the same work for a
pixelbook worker instead.

Examples:
  pixelbook filter beach.jpg --type sepia
  pixelbook filter beach.jpg --type brightness --intensity 80
  pixelbook frame beach.jpg frames/gold.png
  pixelbook resize beach.jpg --width 800 --height 600
  pixelbook export --id 42 --manifest book.json
  pixelbook submit export --id 42 --manifest book.json --webhook https://example.com/hook`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		level := cfg.App.LogLevel
		if logLevelFlag != "" {
			level = logLevelFlag
		}
		logger = logging.New(cfg.App.Env, level).With().Str("component", "cli").Logger()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level (debug, info, warn, error)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newProcessor() (*pipeline.Processor, error) {
	mode, err := frame.ParseMode(cfg.Artifacts.FrameMode)
	if err != nil {
		return nil, err
	}
	return pipeline.NewLocalProcessor(pipeline.Options{
		Encode:    cfg.Artifacts.EncodeOptions(),
		FrameMode: mode,
		Resampler: resize.Default(),
		Logger:    logger,
	})
}

func newAssembler(exportDir string) (*photobook.Assembler, error) {
	if exportDir == "" {
		exportDir = cfg.PDF.ExportDir
	}
	return photobook.NewLocal(photobook.Options{
		ExportDir: exportDir,
		Author:    cfg.PDF.Author,
		Creator:   cfg.PDF.Creator,
		Title:     cfg.PDF.Title,
		Compress:  cfg.PDF.Compress,
		Encode:    cfg.Artifacts.EncodeOptions(),
		Logger:    logger,
	})
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}
