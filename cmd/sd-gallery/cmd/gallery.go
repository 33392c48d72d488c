package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// galleryCmd represents the gallery command
var galleryCmd = &cobra.Command{
	Use:   "gallery",
	Short: "Browse the gallery page by page, filtered by keyword or LoRA",
	Long: `Builds the gallery index from the listing and prints one page of records.
The filter and page are remembered per listing, so repeated calls with --next
walk through the results.

Examples:
  # First page of images whose prompt mentions "castle"
  sd-gallery gallery --keyword castle

  # Next page of the same query
  sd-gallery gallery --next

  # Only images using the "detailer" LoRA, page 3
  sd-gallery gallery --lora detailer --page 3`,
	Args: cobra.NoArgs,
	RunE: runGallery,
}

func init() {
	rootCmd.AddCommand(galleryCmd)

	galleryCmd.Flags().StringP("keyword", "k", "", "Case-insensitive substring of the prompt")
	galleryCmd.Flags().StringP("lora", "l", "", "Exact LoRA name")
	galleryCmd.Flags().IntP("page", "p", 0, "Page to show (0 keeps the saved page)")
	galleryCmd.Flags().Int("page-size", 0, "Records per page (0 uses PageSize from config)")
	galleryCmd.Flags().Bool("next", false, "Show the page after the saved one")
	galleryCmd.Flags().Bool("prev", false, "Show the page before the saved one")
	galleryCmd.Flags().Bool("reset", false, "Forget the saved filter and page before browsing")
	galleryCmd.Flags().Bool("loras", false, "List the distinct LoRA names instead of a page")
	galleryCmd.Flags().Bool("json", false, "Print the view as JSON")

	viper.BindPFlag("gallery.keyword", galleryCmd.Flags().Lookup("keyword"))
	viper.BindPFlag("gallery.lora", galleryCmd.Flags().Lookup("lora"))
	viper.BindPFlag("gallery.page", galleryCmd.Flags().Lookup("page"))
	viper.BindPFlag("gallery.page_size", galleryCmd.Flags().Lookup("page-size"))
	viper.BindPFlag("gallery.next", galleryCmd.Flags().Lookup("next"))
	viper.BindPFlag("gallery.prev", galleryCmd.Flags().Lookup("prev"))
	viper.BindPFlag("gallery.reset", galleryCmd.Flags().Lookup("reset"))
	viper.BindPFlag("gallery.loras", galleryCmd.Flags().Lookup("loras"))
	viper.BindPFlag("gallery.json", galleryCmd.Flags().Lookup("json"))
}
