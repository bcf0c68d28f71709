package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/uploadnest/uploadnest/internal/signedurl"
)

func newSignCmd() *cobra.Command {
	var (
		expiresIn   time.Duration
		name        string
		contentType string
		verify      string
	)
	cmd := &cobra.Command{
		Use:   "sign <storage-key>",
		Short: "Print a signed download URL for a storage key, or check one with --verify",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			urls, err := signedurl.NewIssuer(cfg.SignedURLSecret, cfg.DownloadURL())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if verify != "" {
				tok, err := signedurl.Parse(verify)
				if err != nil {
					return err
				}
				res := urls.Verify(tok.Key, tok.ExpiresAt, tok.Signature)
				fmt.Fprintf(out, "%s\t%s\texpires %s\n", res, tok.Key, time.Unix(tok.ExpiresAt, 0).UTC().Format(time.RFC3339))
				if res != signedurl.Valid {
					return fmt.Errorf("url is %s", res)
				}
				return nil
			}

			if len(args) != 1 {
				return fmt.Errorf("storage key required")
			}
			fmt.Fprintln(out, urls.IssueURL(args[0], signedurl.IssueOptions{
				ExpiresIn:   expiresIn,
				DisplayName: name,
				ContentType: contentType,
			}))
			return nil
		},
	}
	cmd.Flags().DurationVar(&expiresIn, "expires-in", time.Hour, "link lifetime")
	cmd.Flags().StringVar(&name, "name", "", "display filename hint")
	cmd.Flags().StringVar(&contentType, "type", "", "content type hint")
	cmd.Flags().StringVar(&verify, "verify", "", "verify this signed URL instead of issuing one")
	return cmd
}
