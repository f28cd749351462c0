package main

import (
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/laundrydesk/abac-pdp/internal/auth"
)

type tokenOptions struct {
	session auth.Session
	ttl     time.Duration
}

// NewTokenCmd creates the token subcommand, which signs an HS256 session
// token with auth.secret for local testing
func NewTokenCmd(opts *rootOptions) *cobra.Command {
	to := &tokenOptions{}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed session token for local testing",
		Example: `  ABAC_PDP_AUTH_SECRET=devsecret abac-pdp token --user u-1 --platform-role superadmin
  abac-pdp token --user u-2 --tenant tenant-123 --role finance --ttl 15m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if to.session.UserID == "" {
				return oops.Code("INVALID_ARGUMENTS").Errorf("--user is required")
			}
			if to.ttl <= 0 {
				return oops.Code("INVALID_ARGUMENTS").Errorf("--ttl must be positive")
			}

			cfg, err := opts.load(cmd, nil)
			if err != nil {
				return err
			}
			if cfg.Auth.Secret == "" {
				return oops.Code("CONFIG_INVALID").Errorf("auth.secret (ABAC_PDP_AUTH_SECRET) is required to sign tokens")
			}

			token, err := auth.IssueHS256(cfg.JWTOptions(), &to.session, to.ttl)
			if err != nil {
				return err
			}
			cmd.Println(token)
			return nil
		},
	}

	cmd.Flags().StringVar(&to.session.UserID, "user", "", "user id (token subject)")
	cmd.Flags().StringVar(&to.session.Email, "email", "", "user email")
	cmd.Flags().StringVar(&to.session.TenantID, "tenant", "", "tenant id")
	cmd.Flags().StringSliceVar(&to.session.Roles, "role", nil, "tenant role, repeatable")
	cmd.Flags().StringVar(&to.session.PlatformRole, "platform-role", "", "platform role, e.g. superadmin")
	cmd.Flags().DurationVar(&to.ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
