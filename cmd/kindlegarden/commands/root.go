// Package commands implements the kindlegarden command line.
package commands

import (
	"github.com/spf13/cobra"

	"kindlegarden/cmd/kindlegarden/ui"
)

var (
	cfgFile string
	verbose bool
	noColor bool
)

var rootCmd = &cobra.Command{
	Use:   "kindlegarden",
	Short: "Telegram bot that converts FB2 and EPUB books for Kindle",
	Long: `kindlegarden runs a Telegram bot that accepts .fb2, .fb2.zip and .epub
uploads, converts them with Calibre's ebook-convert one at a time and sends
the result back as AZW3, EPUB or MOBI.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ui.Init(noColor, verbose)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
