package main

import (
	"fmt"

	"github.com/dunamismax/pixelbook/internal/filter"
	"github.com/dunamismax/pixelbook/internal/resize"
	"github.com/spf13/cobra"
)

var (
	filterTypeFlag      string
	filterIntensityFlag int
	frameModeFlag       string
	resizeWidthFlag     int
	resizeHeightFlag    int
)

var filterCmd = &cobra.Command{
	Use:   "filter <photo>",
	Short: "Apply a color filter to a photo",
	Long: `Apply one of brightness, contrast, saturation, black_white, sepia or vintage.
Intensity runs from 0 to 100; 50 leaves brightness, contrast and saturation
unchanged. An unknown filter leaves the photo as it is and reports its path.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		processor, err := newProcessor()
		if err != nil {
			return err
		}
		artifact, err := processor.ApplyFilter(cmd.Context(), args[0], filter.NewRequest(filterTypeFlag, filterIntensityFlag))
		if err != nil {
			return err
		}
		if !artifact.Derived {
			logger.Warn().Str("filter", filterTypeFlag).Msg("unknown filter, photo left unchanged")
		}
		return printJSON(cmd, artifact)
	},
}

var frameCmd = &cobra.Command{
	Use:   "frame <photo> <frame>",
	Short: "Overlay a frame image on a photo",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if frameModeFlag != "" {
			cfg.Artifacts.FrameMode = frameModeFlag
		}
		processor, err := newProcessor()
		if err != nil {
			return err
		}
		artifact, err := processor.ApplyFrame(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(cmd, artifact)
	},
}

var resizeCmd = &cobra.Command{
	Use:   "resize <photo>",
	Short: "Resize a photo to exact dimensions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if resizeWidthFlag <= 0 || resizeHeightFlag <= 0 {
			return fmt.Errorf("%w: --width and --height must be positive", resize.ErrInvalidSize)
		}
		if err := resize.Startup(); err != nil {
			return err
		}
		defer resize.Shutdown()

		processor, err := newProcessor()
		if err != nil {
			return err
		}
		artifact, err := processor.Resize(cmd.Context(), args[0], resizeWidthFlag, resizeHeightFlag)
		if err != nil {
			return err
		}
		return printJSON(cmd, artifact)
	},
}

func init() {
	filterCmd.Flags().StringVarP(&filterTypeFlag, "type", "t", "", "Filter to apply")
	filterCmd.Flags().IntVarP(&filterIntensityFlag, "intensity", "i", filter.DefaultIntensity, "Filter intensity (0-100)")
	_ = filterCmd.MarkFlagRequired("type")

	frameCmd.Flags().StringVar(&frameModeFlag, "mode", "", "Compositing mode: over (honors frame transparency) or replace")

	resizeCmd.Flags().IntVarP(&resizeWidthFlag, "width", "W", 0, "Output width in pixels")
	resizeCmd.Flags().IntVarP(&resizeHeightFlag, "height", "H", 0, "Output height in pixels")
	_ = resizeCmd.MarkFlagRequired("width")
	_ = resizeCmd.MarkFlagRequired("height")

	rootCmd.AddCommand(filterCmd, frameCmd, resizeCmd)
}
