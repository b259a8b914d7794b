package commands

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/flashwear/cmd/flashwear/cmdutil"
	"github.com/marmos91/flashwear/internal/cli/credentials"
	"github.com/marmos91/flashwear/internal/cli/output"
	"github.com/marmos91/flashwear/internal/cli/timeutil"
	"github.com/marmos91/flashwear/pkg/api"
	"github.com/marmos91/flashwear/pkg/api/auth"
	"github.com/marmos91/flashwear/pkg/config"
)

var (
	tokenOperator string
	tokenTTL      time.Duration
	tokenScopes   []string
	tokenSave     bool
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an operator token",
	Long: `Mint a signed operator token for the mutating API routes.

The token is signed with the JWT secret of the local configuration, so this
command must run where the daemon's config (or its secret) is available.
With --save the token and server URL are stored in
$XDG_CONFIG_HOME/flashwear/session.json and used by later commands.

Available scopes: blocks:mark-bad, maintenance:run, snapshot:save.

Examples:
  # Token with every scope, valid for the configured duration
  flashwear token --save

  # Short-lived token that can only trigger maintenance
  flashwear token --scope maintenance:run --ttl 15m`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenOperator, "operator", "", "Operator name recorded in the token (default: $USER)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (default: api.jwt.token_duration)")
	tokenCmd.Flags().StringSliceVar(&tokenScopes, "scope", nil, "Scopes to grant, repeatable (default: all)")
	tokenCmd.Flags().BoolVar(&tokenSave, "save", false, "Save the token and server URL for later commands")
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	operator := tokenOperator
	if operator == "" {
		operator = os.Getenv("USER")
	}
	if operator == "" {
		operator = "operator"
	}

	tok, err := mintToken(cfg.API, operator, tokenScopes, tokenTTL)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if tokenSave {
		serverURL := cmdutil.Flags.ServerURL
		if serverURL == "" {
			serverURL = fmt.Sprintf("http://localhost:%d", cfg.API.Port)
		}
		store, err := credentials.NewStore()
		if err != nil {
			return err
		}
		err = store.Save(&credentials.Session{
			ServerURL: serverURL,
			Operator:  operator,
			Token:     tok.AccessToken,
			ExpiresAt: tok.ExpiresAt,
		})
		if err != nil {
			return fmt.Errorf("failed to save session: %w", err)
		}
		cmdutil.PrintSuccess(out, fmt.Sprintf("Session saved to %s (server %s)", store.Path(), serverURL))
	}

	p, err := cmdutil.NewPrinter(out)
	if err != nil {
		return err
	}
	if p.IsStructured() {
		return p.Print(tok)
	}
	if !tokenSave {
		p.Println(tok.AccessToken)
	}
	return output.SimpleTable(out, [][2]string{
		{"Operator", operator},
		{"Expires", timeutil.FormatTime(tok.ExpiresAt)},
	})
}

// mintToken signs a token with the API secret. Unknown scopes are rejected
// so that a typo does not produce a token that fails later with 403.
func mintToken(cfg api.APIConfig, operator string, scopes []string, ttl time.Duration) (*auth.Token, error) {
	if cfg.JWT.Secret == "" {
		return nil, errors.New("no JWT secret configured: set api.jwt.secret or " + api.EnvJWTSecret)
	}
	if len(scopes) == 0 {
		scopes = auth.AllScopes
	}
	for _, s := range scopes {
		if !slices.Contains(auth.AllScopes, s) {
			return nil, fmt.Errorf("unknown scope %q (valid: %v)", s, auth.AllScopes)
		}
	}

	svc, err := auth.NewJWTService(auth.JWTConfig{
		Secret:        cfg.JWT.Secret,
		Issuer:        cfg.JWT.Issuer,
		TokenDuration: cfg.JWT.TokenDuration,
	})
	if err != nil {
		return nil, err
	}
	return svc.GenerateToken(operator, scopes, ttl)
}
