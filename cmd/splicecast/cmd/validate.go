package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/splicecast/splicecast/internal/validator"
)

var validateJSON bool

var validateCmd = &cobra.Command{
	Use:   "validate <input.ts> <output>",
	Short: "Check SCTE-35 cue preservation between an input and an output",
	Long: `Scan an input transport stream and an output artifact and report how
many of the input's SCTE-35 cues survived into the output.

The output kind is inferred from the file extension: .m3u8 playlists are
scanned for EXT-X-CUE tags, .mpd manifests for SCTE-35 event streams, and
anything else is treated as an MPEG transport stream.

The command exits non-zero when any input cue was lost.`,
	Args: cobra.ExactArgs(2),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "output the report as JSON")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	inputPath, outputPath := args[0], args[1]
	for _, path := range []string{inputPath, outputPath} {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
	}

	result, err := validator.Validate(cmd.Context(), inputPath, outputPath)
	if err != nil {
		return fmt.Errorf("validating: %w", err)
	}

	if validateJSON {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling report: %w", err)
		}
		fmt.Println(string(data))
	} else {
		printReport(result)
	}

	if result.Preserved < result.InputCues {
		return fmt.Errorf("%d of %d input cues lost", result.InputCues-result.Preserved, result.InputCues)
	}
	return nil
}

func printReport(result *validator.Result) {
	fmt.Printf("input cues:   %d\n", result.InputCues)
	fmt.Printf("output cues:  %d\n", result.OutputCues)
	fmt.Printf("preserved:    %d (%.0f%%)\n", result.Preserved, result.PreservationRate)

	for _, d := range result.Details {
		status := "LOST"
		how := ""
		if d.Preserved {
			status = "ok"
			if d.MatchedByID {
				how = " matched by event id"
			} else {
				how = fmt.Sprintf(" matched by splice time (drift %.3fs)", d.DriftSeconds)
			}
		}
		fmt.Printf("  %-7s event %d %s%s\n", status, d.Input.EventID, d.Input.Type, how)
	}
}
