package cmd

import (
	"github.com/spf13/cobra"
)

// ingestCmd represents the ingest command
var ingestCmd = &cobra.Command{
	Use:   "ingest [files, directories or URLs...]",
	Short: "Store images in the blob store under unique keys",
	Long: `Stores each argument as an asset. Directories are walked for image files and
http(s) URLs are downloaded first. Arguments are sent in batches; a file that
fails never aborts the rest of its batch.

Examples:
  # Store two local images
  sd-gallery ingest cat.png dog.jpg

  # Store every image below ./outputs, eight writes at a time
  sd-gallery ingest ./outputs -c 8

  # Upload to a running gallery server instead of the local store
  sd-gallery ingest ./outputs --remote http://localhost:8080`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}
