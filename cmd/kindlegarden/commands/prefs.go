package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"kindlegarden/cmd/kindlegarden/ui"
	"kindlegarden/internal/domain/book"
)

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Inspect or edit stored output formats",
}

var prefsGetCmd = &cobra.Command{
	Use:   "get <user-id>",
	Short: "Show a user's output format",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := parseUserID(args[0])
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		format, err := store.Get(cmd.Context(), userID)
		if err != nil {
			return err
		}
		fmt.Printf("%d\t%s\n", userID, format)
		return nil
	},
}

var prefsSetCmd = &cobra.Command{
	Use:   "set <user-id> <format>",
	Short: "Set a user's output format",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := parseUserID(args[0])
		if err != nil {
			return err
		}
		format, err := book.ParseFormat(args[1])
		if err != nil {
			return fmt.Errorf("%w: %s", err, args[1])
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Set(cmd.Context(), userID, format); err != nil {
			return err
		}
		ui.Success("User %d now receives %s", userID, format.Label())
		return nil
	},
}

var prefsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored preferences",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		prefs, err := store.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(prefs) == 0 {
			ui.Info("No stored preferences")
			return nil
		}
		rows := make([][]string, 0, len(prefs))
		for _, p := range prefs {
			rows = append(rows, []string{
				strconv.FormatInt(p.UserID, 10),
				p.Format.Label(),
				p.UpdatedAt.Format("2006-01-02 15:04"),
			})
		}
		ui.Table([]string{"USER", "FORMAT", "UPDATED"}, rows)
		return nil
	},
}

func init() {
	prefsCmd.AddCommand(prefsGetCmd, prefsSetCmd, prefsListCmd)
	rootCmd.AddCommand(prefsCmd)
}

func parseUserID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user id: %q", raw)
	}
	return id, nil
}
