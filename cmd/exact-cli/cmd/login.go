package cmd

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/auth"
)

var authCode string

// loginCmd represents the login command.
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authorize the OAuth2 client",
	Long: `Authorize exact-cli against Exact Online.

Without --code the consent URL is printed. Open it, approve access and pass
the code from the redirect back with --code to store the token.

Example:
  exact-cli login
  exact-cli login --code <code>`,
	Run: runLogin,
}

func init() {
	loginCmd.Flags().StringVar(&authCode, "code", "", "authorization code from the redirect")
}

func runLogin(cmd *cobra.Command, args []string) {
	cfg, paths := loadSettings()
	if err := cfg.Validate(
		[]string{"exact", "clientId"},
		[]string{"exact", "clientSecret"},
		[]string{"exact", "redirectUri"},
	); err != nil {
		exitOnError(err, "invalid configuration")
	}

	provider := auth.NewOAuth2(auth.OAuth2Config{
		BaseURL:      cfg.Exact.APIURL,
		ClientID:     cfg.Exact.ClientID,
		ClientSecret: cfg.Exact.ClientSecret,
		RedirectURL:  cfg.Exact.RedirectURI,
		Store:        auth.NewTokenStore(paths.GetTokenPath()),
		Timeout:      cfg.Exact.HTTPTimeout,
	})

	if authCode == "" {
		fmt.Println("Open this URL and approve access, then run: exact-cli login --code <code>")
		fmt.Println(provider.AuthCodeURL(uuid.NewString()))
		return
	}

	token, err := provider.Exchange(context.Background(), authCode)
	exitOnError(err, "failed to authorize")

	fmt.Printf("Token saved to %s (expires %s)\n", paths.GetTokenPath(), token.Expiry.Format("2006-01-02 15:04:05"))
}
