package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/blevesearch/bleve/v2"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	index "go-sd-gallery/index"
	"go-sd-gallery/internal/api"
	"go-sd-gallery/internal/ingest"
	"go-sd-gallery/internal/keygen"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the upload endpoint, the gallery API and image bytes over HTTP",
	Long: `Starts the HTTP server. POST /api/upload ingests batches, GET /api/gallery
answers filtered and paginated queries, GET /images/{key} serves stored bytes.
The gallery index is built once at startup and on POST /api/gallery/reload.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Bool("no-search", false, "Do not maintain the full-text search index")
	serveCmd.Flags().Bool("skip-initial-load", false, "Start without building the gallery index")

	viper.BindPFlag("serve.no_search", serveCmd.Flags().Lookup("no-search"))
	viper.BindPFlag("serve.skip_initial_load", serveCmd.Flags().Lookup("skip-initial-load"))
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	var searchIndex bleve.Index
	if !viper.GetBool("serve.no_search") {
		searchIndex, err = index.OpenOrCreateIndex(globalConfig.BleveIndexPath)
		if err != nil {
			log.WithError(err).Warn("Search index unavailable, /api/search is disabled")
			searchIndex = nil
		} else {
			defer searchIndex.Close()
		}
	}

	source := resolveListing(globalConfig.ListingPath, store)
	log.Infof("Gallery listing source: %s", source.Name)

	keys := keygen.NewGenerator(keygen.WithRandomBytes(globalConfig.RandomSuffixBytes))
	server := api.NewServer(api.ServerOptions{
		Store: store,
		Ingester: ingest.NewService(store, keys, ingest.Options{
			MaxBatchSize: globalConfig.MaxBatchSize,
			Concurrency:  globalConfig.UploadConcurrency,
			MaxFileBytes: globalConfig.MaxFileBytes,
		}),
		Builder:            newBuilder(source.Fetcher),
		ListKeys:           source.Keys,
		Search:             searchIndex,
		PageSize:           globalConfig.PageSize,
		CORSAllowedOrigins: globalConfig.CORSAllowedOrigins,
	})

	if !viper.GetBool("serve.skip_initial_load") {
		idx, err := server.Reload(ctx)
		if err != nil {
			// The server still starts; a later reload can recover.
			log.WithError(err).Error("Initial gallery load failed")
		} else {
			log.Infof("Gallery index ready: %d records, %d without metadata", idx.Len(), idx.Warnings())
		}
	}

	return server.Run(ctx, globalConfig.ListenAddr)
}
