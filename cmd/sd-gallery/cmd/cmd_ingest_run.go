package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/gosuri/uilive"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go-sd-gallery/internal/api"
	"go-sd-gallery/internal/catalog"
	"go-sd-gallery/internal/downloader"
	"go-sd-gallery/internal/ingest"
	"go-sd-gallery/internal/keygen"
	"go-sd-gallery/internal/models"
)

// batchSink stores one batch and reports a per-file outcome for every entry it kept.
type batchSink func(ctx context.Context, batch []models.FileInput) ([]models.UploadOutcome, error)

// ingestProgress is shared by the sink and the live progress writer.
type ingestProgress struct {
	writer    *uilive.Writer
	total     int
	succeeded int64
	failed    int64
}

func (p *ingestProgress) record(o models.UploadOutcome) {
	var done int64
	if o.Status == models.StatusSuccess {
		done = atomic.AddInt64(&p.succeeded, 1) + atomic.LoadInt64(&p.failed)
	} else {
		done = atomic.AddInt64(&p.failed, 1) + atomic.LoadInt64(&p.succeeded)
		log.WithField("file", o.OriginalName).Warnf("Failed to store: %s", o.Error)
	}
	fmt.Fprintf(p.writer, "Ingesting: %d/%d done (%d failed) - last: %s\n", done, p.total, atomic.LoadInt64(&p.failed), o.OriginalName)
}

// runIngest expands the arguments into files and sends them in batches.
func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	concurrency := viper.GetInt("ingest.concurrency")
	if concurrency <= 0 {
		concurrency = globalConfig.UploadConcurrency
	}
	batchSize := viper.GetInt("ingest.batch_size")
	if batchSize <= 0 {
		batchSize = globalConfig.MaxBatchSize
	}
	remote := viper.GetString("ingest.remote")

	dl := downloader.NewDownloader(httpClient(), globalConfig.MaxFileBytes)
	files, err := expandIngestArgs(ctx, args, dl)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		log.Info("No image files found in the given arguments.")
		return nil
	}
	log.Infof("Found %d files to ingest in batches of %d", len(files), batchSize)

	writer := uilive.New()
	writer.Start()
	progress := &ingestProgress{writer: writer, total: len(files)}

	var sink batchSink
	if remote != "" {
		log.Infof("Uploading to remote gallery server %s", remote)
		sink = remoteSink(api.NewClient(remote, httpClient(), globalConfig), progress)
	} else {
		store, err := openStore(ctx)
		if err != nil {
			writer.Stop()
			return err
		}
		defer store.Close()

		keys := keygen.NewGenerator(keygen.WithRandomBytes(globalConfig.RandomSuffixBytes))
		svc := ingest.NewService(store, keys, ingest.Options{
			MaxBatchSize: batchSize,
			Concurrency:  concurrency,
			MaxFileBytes: globalConfig.MaxFileBytes,
			OnOutcome:    progress.record,
		})
		sink = localSink(svc)
	}

	var outcomes []models.UploadOutcome
	var batchErr error
	for start := 0; start < len(files); start += batchSize {
		end := min(start+batchSize, len(files))
		got, err := sink(ctx, files[start:end])
		outcomes = append(outcomes, got...)
		if err != nil {
			batchErr = err
			log.WithError(err).Errorf("Batch starting at file %d failed", start+1)
			if errors.Is(err, context.Canceled) {
				break
			}
		}
	}
	writer.Stop()

	succeeded := atomic.LoadInt64(&progress.succeeded)
	failed := atomic.LoadInt64(&progress.failed)

	if viper.GetBool("ingest.json") {
		out, err := json.MarshalIndent(outcomes, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding outcomes: %w", err)
		}
		fmt.Println(string(out))
	} else {
		for _, o := range outcomes {
			if o.Status == models.StatusSuccess {
				fmt.Printf("%s -> %s\n", o.OriginalName, o.Key)
			}
		}
	}

	fmt.Println("----- Ingest Summary -----")
	fmt.Printf(" Files Found: %d\n", len(files))
	fmt.Printf(" Stored: %d\n", succeeded)
	fmt.Printf(" Failed: %d\n", failed)
	if remote != "" {
		fmt.Printf(" Remote: %s\n", remote)
	} else {
		fmt.Printf(" Store: %s (%s)\n", globalConfig.StoreBackend, globalConfig.StorePath)
	}
	fmt.Println("--------------------------")

	if succeeded == 0 {
		if batchErr != nil {
			return batchErr
		}
		return fmt.Errorf("none of the %d files could be stored", len(files))
	}
	return nil
}

func localSink(svc *ingest.Service) batchSink {
	return func(ctx context.Context, batch []models.FileInput) ([]models.UploadOutcome, error) {
		result, err := svc.Ingest(ctx, batch)
		if err != nil {
			return nil, err
		}
		log.WithField("batchId", result.BatchID).Debugf("Batch stored %d, failed %d", len(result.Succeeded), len(result.Failed))
		return result.Outcomes(), nil
	}
}

func remoteSink(client *api.Client, progress *ingestProgress) batchSink {
	return func(ctx context.Context, batch []models.FileInput) ([]models.UploadOutcome, error) {
		resp, err := client.Upload(ctx, batch)
		if err != nil && !errors.Is(err, api.ErrUploadFailed) {
			for _, f := range batch {
				progress.record(models.UploadOutcome{OriginalName: f.Name, Status: models.StatusFailure, Error: err.Error()})
			}
			return nil, err
		}
		if resp.Dropped > 0 {
			log.Warnf("Server dropped %d files of the batch; lower --batch-size to its limit", resp.Dropped)
		}

		outcomes := uploadOutcomes(batch, resp)
		for _, o := range outcomes {
			progress.record(o)
		}
		return outcomes, nil
	}
}

// uploadOutcomes maps a server answer back to per-file outcomes. A 200 answer
// carries only keys, in the order the files were sent.
func uploadOutcomes(batch []models.FileInput, resp api.UploadResponse) []models.UploadOutcome {
	var out []models.UploadOutcome
	for i, key := range resp.Uploaded {
		name := key
		if i < len(batch) {
			name = batch[i].Name
		}
		out = append(out, models.UploadOutcome{Key: key, OriginalName: name, Status: models.StatusSuccess})
	}
	for _, s := range resp.Success {
		out = append(out, models.UploadOutcome{Key: s.Key, OriginalName: s.OriginalName, Status: models.StatusSuccess})
	}
	for _, f := range resp.Failed {
		out = append(out, models.UploadOutcome{Key: f.Key, OriginalName: f.OriginalName, Status: models.StatusFailure, Error: f.Reason})
	}
	return out
}

// expandIngestArgs turns paths, directories and URLs into batch entries.
func expandIngestArgs(ctx context.Context, args []string, dl *downloader.Downloader) ([]models.FileInput, error) {
	var files []models.FileInput
	for _, arg := range args {
		if downloader.IsURL(arg) {
			files = append(files, dl.URLInput(ctx, arg))
			continue
		}

		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot read %s: %w", arg, err)
		}
		if !info.IsDir() {
			files = append(files, ingest.PathInput(arg))
			continue
		}

		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && catalog.IsImageKey(d.Name()) {
				files = append(files, ingest.PathInput(path))
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", arg, err)
		}
	}
	return files, nil
}
