package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/obsidianstack/microclimate/server/internal/score"
)

var scoreJSON bool

var scoreCmd = &cobra.Command{
	Use:   "score FILE",
	Short: "Score a local image the way the ingestion loop would",
	Long: `Score a local image file with the sun-exposure function used by the
ingestion loop. Undecodable files report the neutral score 0.5 with zero
dimensions, exactly as a bad frame would during ingestion.`,
	Args: cobra.ExactArgs(1),
	RunE: runScore,
}

func init() {
	scoreCmd.Flags().BoolVar(&scoreJSON, "json", false, "print the result as JSON")
}

func runScore(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %q: %w", args[0], err)
	}
	res := score.Compute(data)

	out := cmd.OutOrStdout()
	if scoreJSON {
		return json.NewEncoder(out).Encode(map[string]any{
			"file":   args[0],
			"score":  res.Value,
			"width":  res.Width,
			"height": res.Height,
		})
	}
	fmt.Fprintf(out, "%s: score=%.4f size=%dx%d\n", args[0], res.Value, res.Width, res.Height)
	return nil
}
