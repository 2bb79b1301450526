package macrobox

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	loginEmail    string
	loginPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to the MacroBox storefront",
	RunE: func(cmd *cobra.Command, args []string) error {
		email := strings.TrimSpace(loginEmail)
		if email == "" {
			return fmt.Errorf("--email is required")
		}
		password, err := readPassword(cmd, loginPassword)
		if err != nil {
			return err
		}
		return withRuntime(cmd, func(rt *cliEnv) error {
			u, err := rt.client.Login(cmd.Context(), email, password)
			if err != nil {
				rt.log.Warn("login failed", "email", email, "error", err)
				return describe(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s <%s>\n", u.Name, u.Email)
			return nil
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and clear the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, func(rt *cliEnv) error {
			if err := rt.client.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		})
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, func(rt *cliEnv) error {
			u, ok, err := rt.client.RestoreSession(cmd.Context(), nowFunc())
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "Not logged in")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s <%s>", u.Name, u.Email)
			if u.IsAdmin() {
				fmt.Fprint(cmd.OutOrStdout(), " (admin)")
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		})
	},
}

// readPassword returns flagValue, then $MACROBOX_PASSWORD, then a line read
// from stdin.
func readPassword(cmd *cobra.Command, flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if env := os.Getenv("MACROBOX_PASSWORD"); env != "" {
		return env, nil
	}
	fmt.Fprint(cmd.OutOrStdout(), "Password: ")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func init() {
	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd)
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "Account email")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "Account password (default: $MACROBOX_PASSWORD or prompt)")
}
