package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go-sd-gallery/internal/blobstore"
	"go-sd-gallery/internal/database"
	"go-sd-gallery/internal/downloader"
	"go-sd-gallery/internal/gallery"
	"go-sd-gallery/internal/helpers"
	"go-sd-gallery/internal/models"
)

func runGallery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

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
	log.Infof("Building gallery index over %d keys from %s", len(keys), source.Name)
	idx, err := newBuilder(source.Fetcher).Build(ctx, keys)
	if err != nil {
		return err
	}
	if idx.Warnings() > 0 {
		log.Warnf("%d of %d images have no readable metadata", idx.Warnings(), idx.Len())
	}

	if viper.GetBool("gallery.loras") {
		for _, name := range gallery.DistinctLoraNames(idx) {
			fmt.Println(name)
		}
		return nil
	}

	db, err := database.Open(globalConfig.StatePath)
	if err != nil {
		return fmt.Errorf("opening browse state: %w", err)
	}
	defer db.Close()

	listingHash := helpers.ListingHash(keys)
	if viper.GetBool("gallery.reset") {
		if err := db.DeleteBrowseState(listingHash); err != nil {
			return err
		}
	}
	saved, err := db.GetBrowseState(listingHash)
	if err != nil {
		log.WithError(err).Warn("Ignoring unreadable browse state")
		saved = database.BrowseState{Page: 1}
	}

	pageSize := viper.GetInt("gallery.page_size")
	if pageSize <= 0 {
		pageSize = globalConfig.PageSize
	}
	ctrl := gallery.NewController(idx, pageSize)
	ctrl.Restore(saved.Filter, saved.Page)

	view := applyGalleryFlags(cmd, ctrl)

	filter, page := ctrl.State()
	if err := db.SetBrowseState(listingHash, database.BrowseState{Filter: filter, Page: page}); err != nil {
		log.WithError(err).Warn("Failed to save browse state")
	}

	if viper.GetBool("gallery.json") {
		out, err := json.MarshalIndent(view, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding view: %w", err)
		}
		fmt.Println(string(out))
		return nil
	}
	printView(view)
	return nil
}

// applyGalleryFlags dispatches the events the flags ask for. A changed filter
// lands on page 1 unless a page is also given.
func applyGalleryFlags(cmd *cobra.Command, ctrl *gallery.Controller) gallery.View {
	view := ctrl.View()

	filter, page := ctrl.State()
	if cmd.Flags().Changed("keyword") || cmd.Flags().Changed("lora") {
		next := filter
		if cmd.Flags().Changed("keyword") {
			next.Keyword = viper.GetString("gallery.keyword")
		}
		if cmd.Flags().Changed("lora") {
			next.LoraName = viper.GetString("gallery.lora")
		}
		view = ctrl.Dispatch(gallery.Event{Kind: gallery.FilterChanged, Filter: next})
		page = 1
	}

	switch {
	case viper.GetInt("gallery.page") > 0:
		view = ctrl.Dispatch(gallery.Event{Kind: gallery.PageSelected, Page: viper.GetInt("gallery.page")})
	case viper.GetBool("gallery.next"):
		view = ctrl.Dispatch(gallery.Event{Kind: gallery.PageSelected, Page: page + 1})
	case viper.GetBool("gallery.prev"):
		view = ctrl.Dispatch(gallery.Event{Kind: gallery.PageSelected, Page: page - 1})
	}
	return view
}

func printView(view gallery.View) {
	p := view.Page
	fmt.Printf("Filter: keyword=%q lora=%q\n", view.Filter.Keyword, view.Filter.LoraName)
	fmt.Printf("Page %d of %d (%d matching records)\n", p.Number, p.TotalPages, p.Total)
	fmt.Println(strings.Repeat("-", 40))
	for _, rec := range p.Records {
		fmt.Printf("%s\n  checkpoint: %s\n", rec.Key, rec.Metadata.Checkpoint)
		if len(rec.Metadata.Loras) > 0 {
			fmt.Printf("  loras: %s\n", formatLoras(rec.Metadata.Loras))
		}
		if rec.Metadata.Prompt != "" {
			fmt.Printf("  prompt: %s\n", truncate(rec.Metadata.Prompt, 120))
		}
		if rec.Warning != "" {
			fmt.Printf("  warning: %s\n", rec.Warning)
		}
	}
	if len(view.LoraNames) > 0 {
		fmt.Println(strings.Repeat("-", 40))
		fmt.Printf("LoRAs in gallery: %s\n", strings.Join(view.LoraNames, ", "))
	}
}

func formatLoras(loras []models.Lora) string {
	parts := make([]string, 0, len(loras))
	for _, l := range loras {
		parts = append(parts, l.Name+":"+l.Strength)
	}
	return strings.Join(parts, ", ")
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
