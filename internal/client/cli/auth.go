package cli

import (
	"github.com/spf13/cobra"
)

// credentials returns the configured username and password, prompting for
// whatever is missing.
func (r *Runner) credentials(username, password string) (string, string, error) {
	var err error
	if username == "" {
		if username, err = GetSimpleText(r.in, "Username", r.out); err != nil {
			return "", "", err
		}
	}
	if password == "" {
		if password, err = GetPassword(r.out); err != nil {
			return "", "", err
		}
	}
	return username, password, nil
}

func registerCmd(r *Runner) *cobra.Command {
	return &cobra.Command{
		Use:   "register [username]",
		Short: "Create a server account and keep its tokens",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := r.session(cmd.Context())
			if err != nil {
				return err
			}
			username := a.Config.Username
			if len(args) == 1 {
				username = args[0]
			}
			username, password, err := r.credentials(username, a.Config.Password)
			if err != nil {
				return err
			}
			if err := a.Register(cmd.Context(), username, password); err != nil {
				return err
			}
			cmd.Printf("registered %s\n", username)
			return nil
		},
	}
}

func loginCmd(r *Runner) *cobra.Command {
	return &cobra.Command{
		Use:   "login [username]",
		Short: "Sign in and keep the tokens for later runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := r.session(cmd.Context())
			if err != nil {
				return err
			}
			if len(args) == 1 {
				a.Config.Username = args[0]
			}
			a.Config.Username, a.Config.Password, err = r.credentials(a.Config.Username, a.Config.Password)
			if err != nil {
				return err
			}
			if err := a.Relogin(cmd.Context()); err != nil {
				return err
			}
			cmd.Printf("logged in as %s\n", a.Config.Username)
			return nil
		},
	}
}
