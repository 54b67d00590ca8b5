package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"kindlegarden/internal/application/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Generate a random bearer token for http.api_token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := auth.GenerateToken()
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
}
