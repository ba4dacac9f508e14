package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aweris/imagestore/internal/config"
	"github.com/aweris/imagestore/internal/remote"
	"github.com/aweris/imagestore/internal/store"
)

var pushCmd = &cobra.Command{
	Use:   "push <ref>",
	Short: "Back up images to a registry",
	Long:  "Push every image in the durable tier to an OCI registry as a single image.",
	Args:  cobra.ExactArgs(1),
	RunE:  runPush,
}

func init() {
	rootCmd.AddCommand(pushCmd)
}

func runPush(cmd *cobra.Command, args []string) (err error) {
	ref := args[0]
	ctx := cmd.Context()

	cfg, log, err := loadConfig()
	if err != nil {
		return err
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

	images, err := store.Snapshot(ctx, s.Durable())
	if err != nil {
		return err
	}

	r, err := newRemote(ref, cfg)
	if err != nil {
		return err
	}
	defer r.Close()
	r.SetLogger(log)

	fmt.Fprintf(os.Stderr, "Pushing %d images to %s...\n", len(images), ref)

	if err := r.Push(ctx, images); err != nil {
		return fmt.Errorf("push failed: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Done.\n")
	return nil
}

func newRemote(ref string, cfg config.Config) (*remote.OCIRemote, error) {
	r, err := remote.NewOCIRemote(ref, remote.StaticAuthenticator{
		Username: cfg.Remote.Username,
		Password: cfg.Remote.Password,
	})
	if err != nil {
		return nil, err
	}
	r.SetConcurrency(cfg.Remote.Concurrency)
	return r, nil
}
