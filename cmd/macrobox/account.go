package macrobox

import (
	"fmt"
	"path"
	"strings"

	"github.com/spf13/cobra"
)

var (
	signupName     string
	signupEmail    string
	signupPassword string

	forgotEmail   string
	resetPassword string

	verifyResend bool
	verifyEmail  string
)

var signupCmd = &cobra.Command{
	Use:   "signup",
	Short: "Create a MacroBox account",
	RunE: func(cmd *cobra.Command, args []string) error {
		name := strings.TrimSpace(signupName)
		email := strings.TrimSpace(signupEmail)
		if name == "" || email == "" {
			return fmt.Errorf("--name and --email are required")
		}
		password, err := readPassword(cmd, signupPassword)
		if err != nil {
			return err
		}
		return withRuntime(cmd, func(rt *cliEnv) error {
			if _, err := rt.client.Signup(cmd.Context(), name, email, password); err != nil {
				return describe(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signup successful! Please check your email to verify your account.")
			return nil
		})
	},
}

var passwordCmd = &cobra.Command{
	Use:   "password",
	Short: "Recover a forgotten password",
}

var passwordForgotCmd = &cobra.Command{
	Use:   "forgot",
	Short: "Request a password reset link",
	RunE: func(cmd *cobra.Command, args []string) error {
		email := strings.TrimSpace(forgotEmail)
		if email == "" {
			return fmt.Errorf("--email is required")
		}
		return withRuntime(cmd, func(rt *cliEnv) error {
			res, err := rt.client.ForgotPassword(cmd.Context(), email)
			if err != nil {
				return describe(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Message)
			if res.ResetLink != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Reset link: %s\n", res.ResetLink)
			}
			return nil
		})
	},
}

var passwordResetCmd = &cobra.Command{
	Use:   "reset <token|link>",
	Short: "Set a new password using a reset link",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := linkToken(args[0])
		if token == "" {
			return fmt.Errorf("reset token is empty")
		}
		password, err := readPassword(cmd, resetPassword)
		if err != nil {
			return err
		}
		return withRuntime(cmd, func(rt *cliEnv) error {
			if _, err := rt.client.ResetPassword(cmd.Context(), token, password); err != nil {
				return describe(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Password reset successful. You can log in now.")
			return nil
		})
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify [token|link]",
	Short: "Verify an email address, or resend the verification link",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if verifyResend {
			email := strings.TrimSpace(verifyEmail)
			if email == "" {
				return fmt.Errorf("--email is required with --resend")
			}
			return withRuntime(cmd, func(rt *cliEnv) error {
				msg, err := rt.client.ResendVerification(cmd.Context(), email)
				if err != nil {
					return describe(err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), msg)
				return nil
			})
		}

		if len(args) == 0 || linkToken(args[0]) == "" {
			return fmt.Errorf("verification token is required")
		}
		return withRuntime(cmd, func(rt *cliEnv) error {
			if _, err := rt.client.VerifyEmail(cmd.Context(), linkToken(args[0])); err != nil {
				return describe(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Email verified. You can log in now.")
			return nil
		})
	},
}

// linkToken accepts either a bare token or the link it was mailed in.
func linkToken(s string) string {
	s = strings.TrimRight(strings.TrimSpace(s), "/")
	if s == "" {
		return ""
	}
	return path.Base(s)
}

func init() {
	rootCmd.AddCommand(signupCmd, passwordCmd, verifyCmd)
	passwordCmd.AddCommand(passwordForgotCmd, passwordResetCmd)

	signupCmd.Flags().StringVar(&signupName, "name", "", "Full name")
	signupCmd.Flags().StringVar(&signupEmail, "email", "", "Account email")
	signupCmd.Flags().StringVar(&signupPassword, "password", "", "Account password (default: $MACROBOX_PASSWORD or prompt)")

	passwordForgotCmd.Flags().StringVar(&forgotEmail, "email", "", "Account email")
	passwordResetCmd.Flags().StringVar(&resetPassword, "password", "", "New password (default: $MACROBOX_PASSWORD or prompt)")

	verifyCmd.Flags().BoolVar(&verifyResend, "resend", false, "Send a fresh verification link instead")
	verifyCmd.Flags().StringVar(&verifyEmail, "email", "", "Account email for --resend")
}
