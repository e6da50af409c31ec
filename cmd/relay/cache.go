package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"mercator-hq/webrelay/pkg/attachments"
	"mercator-hq/webrelay/pkg/attachments/retention"
	"mercator-hq/webrelay/pkg/cli"
	"mercator-hq/webrelay/pkg/files"
)

var cacheFlags struct {
	backend string
	output  string
	days    int
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and prune the attachment cache",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List attachment records",
	Long: `List the attachment records the relay keeps per backend, most recently
used first.

Examples:
  relay cache list
  relay cache list --backend chatgpt --output json`,
	RunE: runCacheList,
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete records and generated files past the retention window",
	Long: `Delete attachment records and generated files that have not been used
within the retention window. The window comes from
attachments.retention.days unless --days is given.`,
	RunE: runCachePrune,
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheListCmd, cachePruneCmd)

	cacheListCmd.Flags().StringVarP(&cacheFlags.backend, "backend", "b", "", "only list records of this backend")
	cacheListCmd.Flags().StringVarP(&cacheFlags.output, "output", "o", "text", "output format (text, json, csv)")
	cachePruneCmd.Flags().IntVar(&cacheFlags.days, "days", 0, "override the retention window in days")
}

func openAttachmentStore() (attachments.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store, err := attachments.OpenStore(cfg.Attachments.Driver, cfg.Attachments.Path, cfg.Attachments.BusyTimeout)
	if err != nil {
		return nil, cli.NewCommandError("cache", err)
	}
	return store, nil
}

func runCacheList(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(cacheFlags.output)
	if err != nil {
		return err
	}
	store, err := openAttachmentStore()
	if err != nil {
		return err
	}
	defer store.Close()

	recs, err := store.List(commandContext(cmd), cacheFlags.backend)
	if err != nil {
		return cli.NewCommandError("cache list", err)
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), recordTable(recs))
}

func recordTable(recs []*attachments.Record) cli.Table {
	t := cli.Table{Headers: []string{"Backend", "Hash", "Remote", "MIME", "Size", "Last_Used"}}
	for _, r := range recs {
		hash := r.ContentHash
		if len(hash) > 12 {
			hash = hash[:12]
		}
		t.Append(r.Backend, hash, r.RemoteFileID, r.MIME,
			strconv.FormatInt(r.Size, 10), r.LastUsedAt.UTC().Format(time.RFC3339))
	}
	return t
}

func runCachePrune(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	days := cfg.Attachments.Retention.Days
	if cacheFlags.days > 0 {
		days = cacheFlags.days
	}

	store, err := attachments.OpenStore(cfg.Attachments.Driver, cfg.Attachments.Path, cfg.Attachments.BusyTimeout)
	if err != nil {
		return cli.NewCommandError("cache prune", err)
	}
	defer store.Close()

	fileStore, err := files.NewStore(cfg.Files.Dir, cfg.Files.BaseURL)
	if err != nil {
		return cli.NewCommandError("cache prune", err)
	}

	pruner := retention.NewPruner(store, fileStore, &retention.Config{RetentionDays: days})
	res, err := pruner.Prune(commandContext(cmd))
	if err != nil {
		return cli.NewCommandError("cache prune", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Pruned %d record(s) and %d file(s) unused for %d day(s)\n", res.Records, res.Files, days)
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
