package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/aweris/imagestore"
)

var pullCmd = &cobra.Command{
	Use:   "pull <ref>",
	Short: "Restore images from a registry",
	Long:  "Pull a backup from an OCI registry and add its images. Existing images are kept; clashing names are renamed.",
	Args:  cobra.ExactArgs(1),
	RunE:  runPull,
}

func init() {
	rootCmd.AddCommand(pullCmd)
}

func runPull(cmd *cobra.Command, args []string) (err error) {
	ref := args[0]
	ctx := cmd.Context()

	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	r, err := newRemote(ref, cfg)
	if err != nil {
		return err
	}
	defer r.Close()
	r.SetLogger(log)

	fmt.Fprintf(os.Stderr, "Pulling %s...\n", ref)

	images, err := r.Pull(ctx)
	if err != nil {
		return fmt.Errorf("pull failed: %w", err)
	}

	s, err := cfg.Open(log)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	names := make([]string, 0, len(images))
	for name := range images {
		names = append(names, name)
	}
	sort.Strings(names)

	items := make([]imagestore.Item, 0, len(names))
	for _, name := range names {
		items = append(items, imagestore.NewItem(name, images[name]))
	}

	var failed int
	for _, res := range s.AddBatch(ctx, items, cfg.Remote.Concurrency) {
		if res.Err != nil && res.Name == "" {
			failed++
		}
	}

	fmt.Fprintf(os.Stderr, "Done. %d images restored", len(items)-failed)
	if failed > 0 {
		fmt.Fprintf(os.Stderr, ", %d failed", failed)
	}
	fmt.Fprintln(os.Stderr)
	if failed > 0 {
		return fmt.Errorf("%d images failed to restore", failed)
	}
	return nil
}
