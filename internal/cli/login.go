package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/mrlokans/authview/internal/config"
)

// LoginCommand signs in with email and password and keeps the session.
type LoginCommand struct {
	baseCommand
	credentials credentialFlags
}

func NewLoginCommand(cfg *config.Config) *LoginCommand {
	return &LoginCommand{baseCommand: newBaseCommand(cfg)}
}

func (cmd *LoginCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	cmd.registerFlags(fs)
	cmd.credentials.register(fs)
	fs.Usage = usage(fs, "Sign in and store the session for later commands.",
		"login -email you@example.com")

	if err := fs.Parse(args); err != nil {
		return err
	}
	return cmd.credentials.resolve(&cmd.baseCommand)
}

func (cmd *LoginCommand) Run(ctx context.Context) error {
	s, err := cmd.open(ctx, false)
	if err != nil {
		return err
	}
	defer s.Close()

	s.view.SetEmail(cmd.credentials.Email)
	s.view.SetPassword(cmd.credentials.Password)
	if err := s.view.Authenticate(ctx); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	cmd.printf("Logged in as %s\n", s.view.User().Email)
	return nil
}
