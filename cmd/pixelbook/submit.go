package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dunamismax/pixelbook/internal/domain"
	"github.com/dunamismax/pixelbook/internal/queue"
	"github.com/dunamismax/pixelbook/internal/storage"
	"github.com/dunamismax/pixelbook/internal/store"
	"github.com/dunamismax/pixelbook/internal/submit"
	"github.com/spf13/cobra"
)

var (
	sourceTypeFlag string
	webhookFlag    string

	submitFiltersFlag []string
	submitFramesFlag  []string
	submitResizeFlag  []string
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Queue work for a pixelbook worker",
}

var submitTransformCmd = &cobra.Command{
	Use:   "transform <photo>",
	Short: "Queue filter, frame and resize operations for one photo",
	Long: `Queue operations for a worker. Each operation runs against the original photo
and produces its own artifact.

  --filter sepia            filter at the default intensity
  --filter brightness:80    filter with an explicit intensity
  --frame frames/gold.png   frame overlay
  --resize 800x600          exact output size`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		steps, err := buildSteps(submitFiltersFlag, submitFramesFlag, submitResizeFlag)
		if err != nil {
			return err
		}

		submitter, closeFn, err := newSubmitter(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		receipt, err := submitter.SubmitTransform(cmd.Context(), domain.TransformRequest{
			SourceType: sourceTypeFlag,
			PhotoPath:  args[0],
			WebhookURL: webhookFlag,
			Steps:      steps,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, receipt)
	},
}

var submitExportCmd = &cobra.Command{
	Use:   "export [photo[=caption]...]",
	Short: "Queue a photobook PDF export",
	RunE: func(cmd *cobra.Command, args []string) error {
		pages, err := loadPages(manifestFlag, args)
		if err != nil {
			return err
		}

		submitter, closeFn, err := newSubmitter(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		receipt, err := submitter.SubmitExport(cmd.Context(), domain.ExportRequest{
			SourceType:  sourceTypeFlag,
			PhotobookID: photobookIDFlag,
			WebhookURL:  webhookFlag,
			Photos:      pages,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, receipt)
	},
}

func init() {
	submitCmd.PersistentFlags().StringVar(&sourceTypeFlag, "source-type", domain.SourceTypeLocalFile, "Where the worker reads photos: local_file or object_store")
	submitCmd.PersistentFlags().StringVar(&webhookFlag, "webhook", "", "URL notified when the job finishes")

	submitTransformCmd.Flags().StringArrayVar(&submitFiltersFlag, "filter", nil, "Filter step as name[:intensity] (repeatable)")
	submitTransformCmd.Flags().StringArrayVar(&submitFramesFlag, "frame", nil, "Frame step with the frame image path (repeatable)")
	submitTransformCmd.Flags().StringArrayVar(&submitResizeFlag, "resize", nil, "Resize step as WIDTHxHEIGHT (repeatable)")

	submitExportCmd.Flags().StringVar(&photobookIDFlag, "id", "", "Photobook identifier used in the output name")
	submitExportCmd.Flags().StringVarP(&manifestFlag, "manifest", "m", "", "JSON file listing the pages")
	_ = submitExportCmd.MarkFlagRequired("id")

	submitCmd.AddCommand(submitTransformCmd, submitExportCmd)
	rootCmd.AddCommand(submitCmd)
}

// newSubmitter wires the queue client, the job store and, for object_store
// jobs, the storage client used to check that the photo exists.
func newSubmitter(cmd *cobra.Command) (*submit.Submitter, func(), error) {
	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), queue.Options{
		Queue:    cfg.Queue.Name,
		MaxRetry: cfg.Queue.MaxRetry,
		Timeout:  cfg.Queue.Timeout,
	})
	closers := []func(){func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn().Err(err).Msg("queue client close error")
		}
	}}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var jobStore store.JobStore = store.NewMemoryJobStore()
	if cfg.Database.DSN != "" {
		pg, err := store.NewPostgresJobStore(cmd.Context(), cfg.Database.DSN)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() { _ = pg.Close() })
		jobStore = pg
	}

	if cfg.Storage.Enabled {
		client, err := storage.NewClient(storage.Config{
			Endpoint: cfg.Storage.Endpoint,
			Access:   cfg.Storage.AccessKey,
			Secret:   cfg.Storage.SecretKey,
			Bucket:   cfg.Storage.Bucket,
			UseSSL:   cfg.Storage.UseSSL,
		})
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		return submit.New(logger, queueClient, jobStore, client), closeAll, nil
	}
	return submit.New(logger, queueClient, jobStore, nil), closeAll, nil
}

func buildSteps(filters, frames, sizes []string) ([]domain.Step, error) {
	var steps []domain.Step
	for _, f := range filters {
		name, rawIntensity, hasIntensity := strings.Cut(f, ":")
		step := domain.Step{Operation: domain.OperationFilter, Filter: name}
		if hasIntensity {
			intensity, err := strconv.Atoi(rawIntensity)
			if err != nil {
				return nil, fmt.Errorf("filter %q: intensity must be an integer", f)
			}
			step.Intensity = &intensity
		}
		steps = append(steps, step)
	}
	for _, framePath := range frames {
		steps = append(steps, domain.Step{Operation: domain.OperationFrame, FramePath: framePath})
	}
	for _, size := range sizes {
		w, h, ok := strings.Cut(strings.ToLower(size), "x")
		width, errW := strconv.Atoi(w)
		height, errH := strconv.Atoi(h)
		if !ok || errW != nil || errH != nil {
			return nil, fmt.Errorf("resize %q: expected WIDTHxHEIGHT", size)
		}
		steps = append(steps, domain.Step{Operation: domain.OperationResize, Width: width, Height: height})
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("no operations: pass --filter, --frame or --resize")
	}
	return steps, nil
}
