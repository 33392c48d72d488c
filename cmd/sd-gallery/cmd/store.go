package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go-sd-gallery/internal/blobstore"
	"go-sd-gallery/internal/helpers"
)

// storeCmd groups blob store maintenance commands
var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Inspect the blob store",
}

var storeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored keys with size and content type",
	Args:  cobra.NoArgs,
	RunE:  runStoreList,
}

var storeVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Re-read every blob and check it against its recorded size",
	Args:  cobra.NoArgs,
	RunE:  runStoreVerify,
}

func init() {
	rootCmd.AddCommand(storeCmd)
	storeCmd.AddCommand(storeListCmd)
	storeCmd.AddCommand(storeVerifyCmd)

	storeListCmd.Flags().Bool("json", false, "Print the objects as JSON")
	storeVerifyCmd.Flags().Bool("hashes", false, "Print the BLAKE3 content hash of every blob")

	viper.BindPFlag("store.json", storeListCmd.Flags().Lookup("json"))
	viper.BindPFlag("store.hashes", storeVerifyCmd.Flags().Lookup("hashes"))
}

func runStoreList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	keys, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("listing store: %w", err)
	}

	infos := make([]blobstore.ObjectInfo, 0, len(keys))
	var total uint64
	for _, key := range keys {
		info, err := store.Stat(ctx, key)
		if err != nil {
			log.WithError(err).Warnf("Cannot stat %s", key)
			continue
		}
		infos = append(infos, info)
		total += uint64(info.Size)
	}

	if viper.GetBool("store.json") {
		out, err := json.MarshalIndent(infos, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding objects: %w", err)
		}
		fmt.Println(string(out))
		return nil
	}

	for _, info := range infos {
		fmt.Printf("%-60s %10s  %s\n", info.Key, helpers.BytesToSize(uint64(info.Size)), info.ContentType)
	}
	fmt.Printf("%d objects, %s\n", len(infos), helpers.BytesToSize(total))
	return nil
}

func runStoreVerify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	keys, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("listing store: %w", err)
	}

	printHashes := viper.GetBool("store.hashes")
	var bad int
	for _, key := range keys {
		if problem := verifyBlob(ctx, store, key, printHashes); problem != "" {
			bad++
			fmt.Printf("FAIL %s: %s\n", key, problem)
		}
	}

	fmt.Printf("Verified %d objects, %d problems\n", len(keys), bad)
	if bad > 0 {
		return fmt.Errorf("%d of %d objects failed verification", bad, len(keys))
	}
	return nil
}

// verifyBlob returns a description of what is wrong with key, or "" when it reads back intact.
func verifyBlob(ctx context.Context, store blobstore.Store, key string, printHash bool) string {
	info, err := store.Stat(ctx, key)
	if err != nil {
		return "stat failed: " + err.Error()
	}
	data, err := store.Get(ctx, key)
	if err != nil {
		return "read failed: " + err.Error()
	}
	if int64(len(data)) != info.Size {
		return fmt.Sprintf("size mismatch: recorded %d, read %d", info.Size, len(data))
	}

	hash := helpers.ContentHash(data)
	again, err := store.Get(ctx, key)
	if err != nil {
		return "second read failed: " + err.Error()
	}
	if !helpers.CheckHash(again, hash) {
		return "content changed between reads"
	}
	if printHash {
		fmt.Printf("%s  %s\n", hash, key)
	}

	sniffed := http.DetectContentType(data)
	if info.ContentType != "" && strings.HasPrefix(info.ContentType, "image/") && !strings.HasPrefix(sniffed, "image/") {
		log.Warnf("%s is recorded as %s but its bytes look like %s", key, info.ContentType, sniffed)
	}
	return ""
}
