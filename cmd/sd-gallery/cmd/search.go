package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	index "go-sd-gallery/index"
	"go-sd-gallery/internal/blobstore"
	"go-sd-gallery/internal/downloader"
)

// searchCmd represents the search command
var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Full-text search over prompts, checkpoints and LoRA names",
	Long: `Runs a Bleve query-string search against the gallery search index.

Examples:
  sd-gallery search castle
  sd-gallery search 'checkpoint:sdxl_base loras:detailer'
  sd-gallery search --reindex '+prompt:cat -prompt:dog'`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().Int("size", 20, "Maximum number of hits")
	searchCmd.Flags().Bool("reindex", false, "Rebuild the index from the listing before searching")

	viper.BindPFlag("search.size", searchCmd.Flags().Lookup("size"))
	viper.BindPFlag("search.reindex", searchCmd.Flags().Lookup("reindex"))
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if viper.GetBool("search.reindex") {
		if err := reindex(ctx); err != nil {
			return err
		}
	}

	bleveIndex, err := index.OpenOrCreateIndex(globalConfig.BleveIndexPath)
	if err != nil {
		return fmt.Errorf("opening search index: %w", err)
	}
	defer bleveIndex.Close()

	query := strings.Join(args, " ")
	res, err := index.SearchIndex(bleveIndex, query, viper.GetInt("search.size"))
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	fmt.Printf("Found %d results for %q (%s)\n", res.Total, query, res.Took)
	for i, hit := range res.Hits {
		fmt.Printf("%d. %s (score %.3f)\n", i+1, hit.ID, hit.Score)
		if cp, ok := hit.Fields["checkpoint"].(string); ok {
			fmt.Printf("   checkpoint: %s\n", cp)
		}
		switch loras := hit.Fields["loras"].(type) {
		case string:
			fmt.Printf("   loras: %s\n", loras)
		case []interface{}:
			names := make([]string, 0, len(loras))
			for _, l := range loras {
				names = append(names, fmt.Sprint(l))
			}
			fmt.Printf("   loras: %s\n", strings.Join(names, ", "))
		}
		if prompt, ok := hit.Fields["prompt"].(string); ok {
			fmt.Printf("   prompt: %s\n", truncate(prompt, 120))
		}
	}
	return nil
}

// reindex rebuilds the search index from the current listing.
func reindex(ctx context.Context) error {
	var store blobstore.Store
	if !downloader.IsURL(globalConfig.ListingPath) {
		var err error
		if store, err = openStore(ctx); err != nil {
			return err
		}
		defer store.Close()
	}
	source := resolveListing(globalConfig.ListingPath, store)

	keys, err := source.Keys(ctx)
	if err != nil {
		return fmt.Errorf("loading listing from %s: %w", source.Name, err)
	}
	idx, err := newBuilder(source.Fetcher).Build(ctx, keys)
	if err != nil {
		return err
	}

	if err := index.DeleteIndex(globalConfig.BleveIndexPath); err != nil {
		return fmt.Errorf("clearing search index: %w", err)
	}
	fresh, err := index.OpenOrCreateIndex(globalConfig.BleveIndexPath)
	if err != nil {
		return err
	}
	defer fresh.Close()

	items := make([]index.Item, 0, idx.Len())
	for _, rec := range idx.Records() {
		items = append(items, index.ItemFromRecord(rec, filepath.Ext(rec.Key)))
	}
	if err := index.IndexItems(fresh, items); err != nil {
		return fmt.Errorf("indexing gallery records: %w", err)
	}
	log.Infof("Indexed %d gallery records", len(items))
	return nil
}
