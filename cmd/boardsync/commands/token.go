package commands

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/gosuda/boardsync/internal/auth"
)

var tokenFlags struct {
	secret string
	org    string
	user   string
	role   string
	ttl    time.Duration
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a development session token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if tokenFlags.secret == "" {
			return errors.New("--secret or BOARDSYNC_JWT_SECRET is required")
		}
		orgID, err := uuid.Parse(tokenFlags.org)
		if err != nil {
			return fmt.Errorf("--org: %w", err)
		}
		userID := uuid.New()
		if tokenFlags.user != "" {
			if userID, err = uuid.Parse(tokenFlags.user); err != nil {
				return fmt.Errorf("--user: %w", err)
			}
		}

		tok, err := auth.IssueAccessToken(tokenFlags.secret, orgID, userID, tokenFlags.role, tokenFlags.ttl)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
		return err
	},
}

func init() {
	f := tokenCmd.Flags()
	f.StringVar(&tokenFlags.secret, "secret", os.Getenv("BOARDSYNC_JWT_SECRET"), "signing secret (default $BOARDSYNC_JWT_SECRET)")
	f.StringVar(&tokenFlags.org, "org", "", "organization ID")
	f.StringVar(&tokenFlags.user, "user", "", "user ID (random when empty)")
	f.StringVar(&tokenFlags.role, "role", "member", "role claim")
	f.DurationVar(&tokenFlags.ttl, "ttl", time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("org")
	rootCmd.AddCommand(tokenCmd)
}
