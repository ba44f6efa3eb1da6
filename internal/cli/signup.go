package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/mrlokans/authview/internal/config"
)

// SignupCommand registers a new account and records it in the users table.
type SignupCommand struct {
	baseCommand
	credentials credentialFlags
}

func NewSignupCommand(cfg *config.Config) *SignupCommand {
	return &SignupCommand{baseCommand: newBaseCommand(cfg)}
}

func (cmd *SignupCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("signup", flag.ContinueOnError)
	cmd.registerFlags(fs)
	cmd.credentials.register(fs)
	fs.Usage = usage(fs, "Create an account with the identity provider.",
		"signup -email you@example.com",
		"signup -email you@example.com -password secret123")

	if err := fs.Parse(args); err != nil {
		return err
	}
	return cmd.credentials.resolve(&cmd.baseCommand)
}

func (cmd *SignupCommand) Run(ctx context.Context) error {
	s, err := cmd.open(ctx, true)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.view.Register(ctx, cmd.credentials.Email, cmd.credentials.Password); err != nil {
		return fmt.Errorf("sign up failed: %w", err)
	}

	email := cmd.credentials.Email
	if user := s.view.User(); user != nil && user.Email != "" {
		email = user.Email
	}
	cmd.printf("Signed up as %s\n", email)
	if !s.hasStoredSession(ctx) {
		cmd.printf("Confirm your email address, then run login.\n")
	}
	return nil
}
