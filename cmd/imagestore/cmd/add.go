package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/aweris/imagestore"
)

var addCmd = &cobra.Command{
	Use:   "add <file>...",
	Short: "Add image files",
	Long:  "Store image files in the durable tier (and the cache tier when enabled). Prints the stored names.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAdd,
}

func init() {
	addCmd.Flags().String("name", "", "store under this name (single file only)")
	addCmd.Flags().Int("jobs", 4, "parallel writes")
	rootCmd.AddCommand(addCmd)
}

func runAdd(cmd *cobra.Command, args []string) (err error) {
	name, _ := cmd.Flags().GetString("name")
	jobs, _ := cmd.Flags().GetInt("jobs")
	if name != "" && len(args) > 1 {
		return errors.New("--name requires exactly one file")
	}

	items := make([]imagestore.Item, 0, len(args))
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		itemName := name
		if itemName == "" {
			itemName = filepath.Base(path)
		}
		items = append(items, imagestore.NewItem(itemName, data))
	}

	s, _, err := openStore()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	var failed int
	for i, r := range s.AddBatch(cmd.Context(), items, jobs) {
		if r.Err != nil && !errors.Is(r.Err, imagestore.ErrCacheUnavailable) {
			fmt.Fprintf(os.Stderr, "%s: %v\n", args[i], r.Err)
			failed++
			continue
		}
		fmt.Println(r.Name)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d images failed", failed, len(items))
	}
	return nil
}
