package main

import (
	"fmt"

	"github.com/spf13/cobra"

	auth "github.com/uploadnest/uploadnest/internal/auth/middleware"
)

func newAPIKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}

	var (
		userID      string
		workspaceID string
		keyType     string
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key and print it once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			dbh, err := openDB(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("db open failed: %w", err)
			}
			defer dbh.Close()

			plain, k, err := auth.NewAPIKeyStore(dbh).Create(cmd.Context(), userID, workspaceID, auth.KeyType(keyType))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "id:      %s\n", k.ID)
			fmt.Fprintf(out, "display: %s\n", k.DisplayKey)
			fmt.Fprintf(out, "key:     %s\n", plain)
			fmt.Fprintln(out, "Store the key now; it cannot be shown again.")
			return nil
		},
	}
	create.Flags().StringVar(&userID, "user", "", "owner user id (required)")
	create.Flags().StringVar(&workspaceID, "workspace", "", "workspace id")
	create.Flags().StringVar(&keyType, "type", string(auth.KeyLive), "key type: live|test")
	_ = create.MarkFlagRequired("user")

	cmd.AddCommand(create)
	return cmd
}
