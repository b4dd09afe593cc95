package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var deadcodeFile string

var deadcodeCmd = &cobra.Command{
	Use:   "deadcode",
	Short: "Find unreachable basic blocks in a file",
	Long: `Report blocks that no forward control flow path reaches from their
function's entry. Code after an unconditional return is the usual
culprit.`,
	Run: runDeadcode,
}

func init() {
	deadcodeCmd.Flags().StringVar(&deadcodeFile, "file", "", "Source file path (required)")
	deadcodeCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(deadcodeCmd)
}

func runDeadcode(cmd *cobra.Command, args []string) {
	a := mustApp()
	defer a.close()

	blocks, err := a.cfgEngine().FindDeadCode(deadcodeFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	printResult(map[string]interface{}{
		"file":        deadcodeFile,
		"dead_blocks": blocks,
		"count":       len(blocks),
	})
}
