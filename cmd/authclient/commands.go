package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	authclient "github.com/MrEthical07/authclient"
)

// readLine reads one line from the command's input. Secrets are read the
// same way so they never appear in argv or shell history.
func readLine(r *bufio.Reader, w io.Writer, prompt string) (string, error) {
	fmt.Fprint(w, prompt)
	line, err := r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read %s: %w", strings.TrimSuffix(strings.ToLower(prompt), ": "), err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newSignInCmd() *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "signin",
		Short: "Sign in with email and password",
		Long:  `Sign in with an email address; the password is read from standard input.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				in := bufio.NewReader(cmd.InOrStdin())
				pass, err := readLine(in, cmd.ErrOrStderr(), "Password: ")
				if err != nil {
					return err
				}
				if err := a.manager.SignIn(ctx, email, pass); err != nil {
					return userError(err)
				}
				st := a.manager.State()
				cmd.Printf("Signed in as %s\n", st.User.Email)
				if !st.IsEmailConfirmed {
					cmd.Println("Your email address is not confirmed yet.")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newSignOutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "Sign out and forget stored credentials",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.manager.SignOut(ctx); err != nil && !errors.Is(err, authclient.ErrOperationSuperseded) {
					// Local state is already cleared.
					a.logger.WarnContext(ctx, "remote sign-out failed", "error", err)
				}
				cmd.Println("Signed out")
				return nil
			})
		},
	}
}

// statusView is the --json shape of status.
type statusView struct {
	Authenticated  bool   `json:"authenticated"`
	EmailConfirmed bool   `json:"email_confirmed"`
	Email          string `json:"email,omitempty"`
	Name           string `json:"name,omitempty"`
	Error          string `json:"error,omitempty"`
}

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current session",
		Long:  `Fetch the stored session from the auth service and show who is signed in.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				_ = a.manager.Start(ctx)
				st := a.manager.State()
				view := statusView{
					Authenticated:  st.IsAuthenticated,
					EmailConfirmed: st.IsEmailConfirmed,
					Error:          st.Error,
				}
				if st.User != nil {
					view.Email = st.User.Email
					view.Name = st.User.FullName()
				}

				if jsonOutput {
					out, err := json.Marshal(view)
					if err != nil {
						return fmt.Errorf("failed to format JSON: %w", err)
					}
					cmd.Println(string(out))
					return nil
				}
				switch {
				case view.Error != "":
					cmd.Println(view.Error)
				case !view.Authenticated:
					cmd.Println("Not signed in")
				default:
					cmd.Printf("Signed in as %s (confirmed: %t)\n", view.Email, view.EmailConfirmed)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output status as JSON")
	return cmd
}

func newForgotPasswordCmd() *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "forgot-password",
		Short: "Email a password reset link",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.manager.ResetPassword(ctx, email); err != nil {
					return userError(err)
				}
				cmd.Println("If an account exists for that address, a reset link is on its way.")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newRecoverCmd() *cobra.Command {
	var current bool

	cmd := &cobra.Command{
		Use:   "recover <link>",
		Short: "Set a new password from a reset link",
		Long: `Open a password reset link and set a new password. The new password is
read twice from standard input.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return runRecover(ctx, cmd, a, args[0], current)
			})
		},
	}
	cmd.Flags().BoolVar(&current, "current", false, "also ask for the current password, which the new one must differ from")
	return cmd
}

func runRecover(ctx context.Context, cmd *cobra.Command, a *app, link string, askCurrent bool) error {
	outcome := make(chan authclient.RecoveryOutcome, 1)
	flow, err := a.manager.NewRecoveryFlow(link, authclient.RecoveryOptions{
		OnFinished: func(o authclient.RecoveryOutcome) { outcome <- o },
	})
	if err != nil {
		return err
	}
	defer func() { _ = flow.Close() }()

	if err := flow.Load(ctx); err != nil {
		return userError(err)
	}
	cmd.Printf("Resetting the password for %s\n", flow.State().Email)

	in := bufio.NewReader(cmd.InOrStdin())
	prompt := cmd.ErrOrStderr()
	for {
		var form authclient.RecoveryForm
		if askCurrent {
			if form.CurrentPassword, err = readLine(in, prompt, "Current password: "); err != nil {
				return err
			}
		}
		if form.NewPassword, err = readLine(in, prompt, "New password: "); err != nil {
			return err
		}
		if form.ConfirmPassword, err = readLine(in, prompt, "Confirm password: "); err != nil {
			return err
		}

		err := flow.Submit(ctx, form)
		if err == nil {
			break
		}
		st := flow.State()
		if st.Phase != authclient.RecoveryAwaitingPassword {
			return userError(err)
		}
		cmd.PrintErrln(st.Error)
		for _, item := range st.FieldErrors {
			cmd.PrintErrln("  - " + item)
		}
	}

	cmd.Println("Password updated")
	select {
	case o := <-outcome:
		if o.SignedOut {
			cmd.Println("Sign in again with your new password.")
		}
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func newAssessCmd() *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "assess",
		Short: "Score a password against the policy",
		Long:  `Read a password from standard input and print its score and any rule it breaks.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(_ context.Context, a *app) error {
				pass, err := readLine(bufio.NewReader(cmd.InOrStdin()), cmd.ErrOrStderr(), "Password: ")
				if err != nil {
					return err
				}
				res := a.manager.AssessPassword(pass, email)
				cmd.Printf("Score: %d, valid: %t\n", res.Score, res.IsValid)
				for _, item := range res.Feedback {
					cmd.Println("  - " + item)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email, checked against the password")
	return cmd
}
