package cmd

import (
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().IntP("concurrency", "c", 0, "Number of concurrent store writes (0 uses UploadConcurrency from config)")
	ingestCmd.Flags().IntP("batch-size", "b", 0, "Files per batch (0 uses MaxBatchSize from config)")
	ingestCmd.Flags().String("remote", "", "Base URL of a gallery server to upload to instead of the local store")
	ingestCmd.Flags().Bool("json", false, "Print the per-file outcomes as JSON")

	viper.BindPFlag("ingest.concurrency", ingestCmd.Flags().Lookup("concurrency"))
	viper.BindPFlag("ingest.batch_size", ingestCmd.Flags().Lookup("batch-size"))
	viper.BindPFlag("ingest.remote", ingestCmd.Flags().Lookup("remote"))
	viper.BindPFlag("ingest.json", ingestCmd.Flags().Lookup("json"))
}
