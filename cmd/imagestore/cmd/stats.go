package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store inventory",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) (err error) {
	s, _, err := openStore()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	stats, err := s.Stats(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("images\t%d\n", stats.Count)
	fmt.Printf("size\t%.2fMB\n", stats.TotalMB())
	if stats.CacheSize >= 0 {
		fmt.Printf("cached\t%d\n", stats.CacheSize)
	} else {
		fmt.Printf("cached\t-\n")
	}
	return nil
}
