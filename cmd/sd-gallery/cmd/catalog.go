package cmd

import (
	"context"
	"fmt"

	"github.com/gosuri/uilive"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go-sd-gallery/internal/catalog"
)

// catalogCmd represents the catalog command
var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Write the gallery listing and thumbnails from the store",
	Long: `Lists the image keys of the store into the listing file (ListingPath) and,
when a thumbnail directory is set, writes a JPEG thumbnail per image next to it
as <name>-thumb.jpg. Existing thumbnails are kept unless --force is given.`,
	Args: cobra.NoArgs,
	RunE: runCatalog,
}

func init() {
	rootCmd.AddCommand(catalogCmd)

	catalogCmd.Flags().StringP("output", "o", "", "Listing file to write (default: ListingPath from config)")
	catalogCmd.Flags().String("thumbnails", "", "Thumbnail directory (default: ThumbnailDir from config, empty skips thumbnails)")
	catalogCmd.Flags().Int("width", 0, "Thumbnail width in pixels (0 uses ThumbnailWidth from config)")
	catalogCmd.Flags().IntP("concurrency", "c", 4, "Number of concurrent thumbnail workers")
	catalogCmd.Flags().Bool("force", false, "Regenerate thumbnails that already exist")

	viper.BindPFlag("catalog.output", catalogCmd.Flags().Lookup("output"))
	viper.BindPFlag("catalog.thumbnails", catalogCmd.Flags().Lookup("thumbnails"))
	viper.BindPFlag("catalog.width", catalogCmd.Flags().Lookup("width"))
	viper.BindPFlag("catalog.concurrency", catalogCmd.Flags().Lookup("concurrency"))
	viper.BindPFlag("catalog.force", catalogCmd.Flags().Lookup("force"))
}

func runCatalog(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	output := viper.GetString("catalog.output")
	if output == "" {
		output = globalConfig.ListingPath
	}
	thumbDir := viper.GetString("catalog.thumbnails")
	if thumbDir == "" {
		thumbDir = globalConfig.ThumbnailDir
	}
	width := viper.GetInt("catalog.width")
	if width <= 0 {
		width = globalConfig.ThumbnailWidth
	}

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	writer := uilive.New()
	writer.Start()

	gen := &catalog.Generator{
		Source:         store,
		ListingPath:    output,
		ThumbnailDir:   thumbDir,
		ThumbnailWidth: width,
		Concurrency:    viper.GetInt("catalog.concurrency"),
		Force:          viper.GetBool("catalog.force"),
		OnThumbnail: func(key string, err error) {
			if err != nil {
				log.WithError(err).Warnf("Thumbnail failed for %s", key)
				fmt.Fprintf(writer.Newline(), "Thumbnail failed: %s\n", key)
				return
			}
			fmt.Fprintf(writer, "Thumbnail: %s\n", key)
		},
	}

	report, err := gen.Generate(ctx)
	writer.Stop()
	if err != nil {
		return fmt.Errorf("catalog generation failed: %w", err)
	}

	fmt.Println("----- Catalog Summary -----")
	fmt.Printf(" Listing: %s\n", output)
	fmt.Printf(" Images Listed: %d\n", len(report.Keys))
	if thumbDir != "" {
		fmt.Printf(" Thumbnail Directory: %s\n", thumbDir)
		fmt.Printf(" Thumbnails Written: %d\n", report.Thumbnails)
		fmt.Printf(" Thumbnails Kept: %d\n", report.Existing)
		fmt.Printf(" Thumbnails Failed: %d\n", report.Failed)
	}
	fmt.Println("---------------------------")
	return nil
}
