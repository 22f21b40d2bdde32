package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/dunamismax/pixelbook/internal/domain"
	"github.com/spf13/cobra"
)

var (
	photobookIDFlag string
	manifestFlag    string
	exportDirFlag   string
)

var exportCmd = &cobra.Command{
	Use:   "export [photo[=caption]...]",
	Short: "Lay out photos as a photobook PDF",
	Long: `Write photobook_<id>.pdf with one A4 page per photo, in the order given.

Pages come from --manifest (a JSON array of {"file_path", "caption"} objects)
followed by any photo arguments; an argument may carry a caption after "=".
A photo that is missing or unreadable still gets its page and caption.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		pages, err := loadPages(manifestFlag, args)
		if err != nil {
			return err
		}

		assembler, err := newAssembler(exportDirFlag)
		if err != nil {
			return err
		}
		export, err := assembler.Generate(cmd.Context(), photobookIDFlag, pages)
		if err != nil {
			return err
		}
		if len(export.MissingPages) > 0 {
			logger.Warn().Ints("pages", export.MissingPages).Msg("some pages were written without their photo")
		}
		return printJSON(cmd, export)
	},
}

func init() {
	exportCmd.Flags().StringVar(&photobookIDFlag, "id", "", "Photobook identifier used in the output name")
	exportCmd.Flags().StringVarP(&manifestFlag, "manifest", "m", "", "JSON file listing the pages")
	exportCmd.Flags().StringVarP(&exportDirFlag, "out", "o", "", "Output directory (defaults to PIXELBOOK_EXPORT_DIR)")
	_ = exportCmd.MarkFlagRequired("id")

	rootCmd.AddCommand(exportCmd)
}

// loadPages reads the manifest, if any, then appends one page per argument.
func loadPages(manifest string, args []string) ([]domain.PhotoPage, error) {
	var pages []domain.PhotoPage
	if manifest != "" {
		data, err := os.ReadFile(manifest)
		if err != nil {
			return nil, fmt.Errorf("read manifest: %w", err)
		}
		if err := json.Unmarshal(data, &pages); err != nil {
			return nil, fmt.Errorf("parse manifest %s: %w", manifest, err)
		}
	}

	for _, arg := range args {
		path, caption, _ := strings.Cut(arg, "=")
		pages = append(pages, domain.PhotoPage{FilePath: path, Caption: caption})
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("no pages: pass photos as arguments or use --manifest")
	}
	return pages, nil
}
