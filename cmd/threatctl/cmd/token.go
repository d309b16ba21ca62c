package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lvonguyen/threatpulse/internal/api/gateway"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a service token for the summary API",
	Long: `Sign a short-lived HS256 service token with the secret named by the
auth.jwt_secret_env setting. The token is accepted as a Bearer credential by
the /api/threats endpoints.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		subject, _ := cmd.Flags().GetString("subject")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		secret := os.Getenv(cfg.Auth.JWTSecretEnv)
		if secret == "" {
			return fmt.Errorf("environment variable %s is not set", cfg.Auth.JWTSecretEnv)
		}

		token, err := gateway.IssueServiceToken(secret, cfg.Auth.JWTIssuer, subject, ttl)
		if err != nil {
			return fmt.Errorf("failed to sign token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "threatctl %s (commit: %s)\n", Version, GitCommit)
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)

	tokenCmd.Flags().String("subject", "threatctl", "token subject")
	tokenCmd.Flags().Duration("ttl", 15*time.Minute, "token lifetime")
}
