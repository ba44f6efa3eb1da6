package cli

import (
	"context"
	"flag"

	"github.com/mrlokans/authview/internal/config"
)

// LogoutCommand signs out and forgets the stored session.
type LogoutCommand struct {
	baseCommand
}

func NewLogoutCommand(cfg *config.Config) *LogoutCommand {
	return &LogoutCommand{baseCommand: newBaseCommand(cfg)}
}

func (cmd *LogoutCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("logout", flag.ContinueOnError)
	cmd.registerFlags(fs)
	fs.Usage = usage(fs, "Sign out and remove the stored session.")
	return fs.Parse(args)
}

func (cmd *LogoutCommand) Run(ctx context.Context) error {
	s, err := cmd.open(ctx, false)
	if err != nil {
		return err
	}
	defer s.Close()

	if s.view.User() == nil {
		cmd.printf("Not signed in\n")
		return nil
	}

	// The local session is gone even when the provider call fails.
	if err := s.view.Deauthenticate(ctx); err != nil {
		cmd.printf("Logged out locally (provider sign-out failed: %v)\n", err)
		return nil
	}
	cmd.printf("Logged out\n")
	return nil
}
