package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/denysvitali/deployment-downloader/pkg/analyzer"
	"github.com/denysvitali/deployment-downloader/pkg/config"
)

// analyzeCmd represents the analyze command
var analyzeCmd = &cobra.Command{
	Use:   "analyze [dir]",
	Short: "Summarize a downloaded deployment",
	Long: `Walk a downloaded deployment and report file counts, total size, files per
extension and the largest files. The result is also written to analysis.json.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().Bool("no-save", false, "Do not write analysis.json")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	logger := GetLogger()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	dir := analyzeDir(cfg, args)

	analysis, err := analyzer.New(logger).Analyze(dir)
	if err != nil {
		return fmt.Errorf("failed to analyze %s: %w", dir, err)
	}
	fmt.Fprint(cmd.OutOrStdout(), analyzer.Render(analysis))

	noSave, _ := cmd.Flags().GetBool("no-save")
	if noSave {
		return nil
	}
	path, err := analyzer.Save(analysis, dir)
	if err != nil {
		return fmt.Errorf("failed to save analysis: %w", err)
	}
	logger.Infof("Analysis saved to %s", path)
	return nil
}

// analyzeDir picks the directory argument, falling back to the configured output dir
func analyzeDir(cfg *config.Config, args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	if cfg.Download.OutputDir == "" {
		return config.DefaultOutputDir
	}
	return cfg.Download.OutputDir
}
