package commands

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/itpwatch/itpwatch/engine/domain"
)

func checkCmd() *cobra.Command {
	var vin string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run one lookup and print the record as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := newChecker().Fetch(cmd.Context(), domain.LookupRequest{
				VIN:       vin,
				OCRAPIKey: ocrAPIKey,
			})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		},
	}

	cmd.Flags().StringVar(&vin, "vin", "", "vehicle identification number (required)")
	cmd.MarkFlagRequired("vin")
	return cmd
}
