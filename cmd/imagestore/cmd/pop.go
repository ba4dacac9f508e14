package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var popCmd = &cobra.Command{
	Use:   "pop",
	Short: "Pop one stored image",
	Long:  "Pick one stored image at random and write it to a file or stdout. The name is printed to stderr.",
	Args:  cobra.NoArgs,
	RunE:  runPop,
}

func init() {
	popCmd.Flags().StringP("output", "o", "", "write the image here instead of stdout")
	rootCmd.AddCommand(popCmd)
}

func runPop(cmd *cobra.Command, args []string) (err error) {
	output, _ := cmd.Flags().GetString("output")

	s, _, err := openStore()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	item, err := s.Pop(cmd.Context())
	if err != nil {
		return fmt.Errorf("pop failed: %w", err)
	}
	data, err := item.Bytes()
	if err != nil {
		return err
	}

	fmt.Fprintln(os.Stderr, item.Name)
	if output == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(output, data, 0644)
}
