// Package cmd (auth.go) defines the commands that manage the Microsoft
// account token: 'auth login', 'auth status' and 'auth logout'.
package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/onedrive-extractor/internal/app"
	"github.com/tonimelisma/onedrive-extractor/internal/config"
	"github.com/tonimelisma/onedrive-extractor/internal/logger"
	"github.com/tonimelisma/onedrive-extractor/internal/ui"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage authentication with Microsoft OneDrive and SharePoint",
	Long:  `Provides subcommands to log in, check the stored token and log out.`,
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate with the authorization code flow (PKCE)",
	Long: `Prints a Microsoft sign-in URL. Open it in a browser, sign in, and paste
the URL the browser was redirected to (or just the code parameter).

The pending login survives the process, so the two halves may run separately:
  onedrive-extractor auth login
  onedrive-extractor auth login --redirect 'http://localhost:53682/?code=...&state=...'`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := app.LoadConfig(cmd)
		if err != nil {
			return err
		}
		redirect, _ := cmd.Flags().GetString("redirect")
		return authLoginLogic(cmd.Context(), cfg, redirect, cmd.InOrStdin())
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a token is stored",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := app.LoadConfig(cmd)
		if err != nil {
			return err
		}
		return authStatusLogic(cfg)
	},
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored token and any pending login",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := app.LoadConfig(cmd)
		if cfg == nil {
			return err
		}
		// Logging out must work even when the rest of the configuration is broken.
		return authLogoutLogic(cfg, log)
	},
}

func authLoginLogic(ctx context.Context, cfg *config.Configuration, redirect string, in io.Reader) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if redirect != "" {
		if err := app.FinishLogin(ctx, cfg, redirect); err != nil {
			return err
		}
		ui.Success("Login successful.")
		return nil
	}

	if !cfg.Token().IsZero() {
		fmt.Println("You are already logged in. Run 'onedrive-extractor auth logout' first to switch accounts.")
		return nil
	}

	authURL, err := app.BeginLogin(ctx, cfg)
	if err != nil {
		return err
	}
	fmt.Println("Open the following URL in a browser and sign in:")
	fmt.Println()
	fmt.Println("  " + authURL)
	fmt.Println()
	fmt.Print("Paste the URL you were redirected to: ")

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading redirect URL: %w", err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		fmt.Println()
		fmt.Println("No redirect URL given. Finish later with 'onedrive-extractor auth login --redirect <url>'.")
		return nil
	}

	if err := app.FinishLogin(ctx, cfg, line); err != nil {
		return err
	}
	ui.Success("Login successful.")
	return nil
}

func authStatusLogic(cfg *config.Configuration) error {
	token := cfg.Token()
	ui.DisplayAuthStatus(cfg.Account.AccountType, !token.IsZero(), token.Expiry)

	pending, err := app.PendingLogin(cfg)
	if err != nil {
		return err
	}
	if pending != nil {
		fmt.Printf("A login started at %s is pending. Finish it with 'onedrive-extractor auth login --redirect <url>'.\n",
			pending.CreatedAt.Local().Format("15:04:05"))
	}
	return nil
}

func authLogoutLogic(cfg *config.Configuration, log logger.Logger) error {
	if err := app.Logout(cfg, log); err != nil {
		return err
	}
	ui.Success("You have been logged out.")
	return nil
}

func init() {
	authLoginCmd.Flags().String("redirect", "", "Finish a pending login with the redirect URL (or the code)")
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authLogoutCmd)
	rootCmd.AddCommand(authCmd)
}
