package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/mrlokans/authview/internal/config"
	"github.com/mrlokans/authview/internal/identity"
)

// StatusCommand shows who is signed in.
type StatusCommand struct {
	baseCommand
}

func NewStatusCommand(cfg *config.Config) *StatusCommand {
	return &StatusCommand{baseCommand: newBaseCommand(cfg)}
}

func (cmd *StatusCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	cmd.registerFlags(fs)
	fs.Usage = usage(fs, "Show the signed-in user as the identity provider reports it.")
	return fs.Parse(args)
}

func (cmd *StatusCommand) Run(ctx context.Context) error {
	s, err := cmd.open(ctx, false)
	if err != nil {
		return err
	}
	defer s.Close()

	// The view follows the provider's answer: USER_UPDATED for a live token,
	// SIGNED_OUT for one that was revoked.
	if _, err := s.provider.GetUser(ctx); err != nil && !errors.Is(err, identity.ErrNoSession) {
		return fmt.Errorf("failed to verify session: %w", err)
	}

	user := s.view.User()
	if user == nil {
		cmd.printf("Not signed in\n")
		return nil
	}

	cmd.printf("Signed in as %s (%s)\n", user.Email, user.ID)
	if session, err := s.store.Load(s.provider.Client().BaseURL()); err == nil && session != nil {
		if exp := session.Expiry(); !exp.IsZero() {
			cmd.printf("Session expires at %s\n", exp.Local().Format(time.RFC1123))
		}
	}
	return nil
}
