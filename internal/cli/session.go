// Package cli implements the terminal commands. They drive the same auth
// view as the web page, with the provider session kept in the encrypted
// token store instead of a browser cookie.
package cli

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/mrlokans/authview/internal/authview"
	"github.com/mrlokans/authview/internal/config"
	"github.com/mrlokans/authview/internal/database"
	"github.com/mrlokans/authview/internal/database/users"
	"github.com/mrlokans/authview/internal/identity"
	"github.com/mrlokans/authview/internal/identity/gotrue"
	"github.com/mrlokans/authview/internal/logging"
	"github.com/mrlokans/authview/internal/tokenstore"
)

// baseCommand holds what every auth command needs: configuration, the
// token store location and terminal streams.
type baseCommand struct {
	Config    *config.Config
	StorePath string
	Verbose   bool

	Out io.Writer
	In  io.Reader
}

func newBaseCommand(cfg *config.Config) baseCommand {
	return baseCommand{
		Config: cfg,
		Out:    os.Stdout,
		In:     os.Stdin,
	}
}

func (b *baseCommand) registerFlags(fs *flag.FlagSet) {
	fs.StringVar(&b.StorePath, "store", b.Config.TokenStore.Path, "Path to the encrypted session store")
	fs.BoolVar(&b.Verbose, "verbose", false, "Enable verbose logging")
}

func (b *baseCommand) printf(format string, args ...any) {
	fmt.Fprintf(b.Out, format, args...)
}

// prompt reads one line from In after printing label.
func (b *baseCommand) prompt(label string) (string, error) {
	b.printf("%s: ", label)
	line, err := bufio.NewReader(b.In).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read %s: %w", strings.ToLower(label), err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// viewSession is a mounted auth view bound to the token store.
type viewSession struct {
	view     *authview.View
	provider *gotrue.Auth
	store    *tokenstore.TokenStore
	closers  []func() error
}

func (s *viewSession) Close() {
	s.view.Unmount()
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
}

// hasStoredSession reports whether the provider issued a session that is now
// kept in the store.
func (s *viewSession) hasStoredSession(ctx context.Context) bool {
	session, err := s.provider.GetSession(ctx)
	return err == nil && session != nil
}

// open builds the provider client over the token store and mounts a view.
// withUsers attaches the configured users table, for sign-up.
func (b *baseCommand) open(ctx context.Context, withUsers bool) (*viewSession, error) {
	cfg := b.Config
	if cfg.Identity.URL == "" || cfg.Identity.AnonKey == "" {
		return nil, errors.New("IDENTITY_URL and IDENTITY_ANON_KEY must be set")
	}

	logger := zap.NewNop()
	if b.Verbose {
		l, err := logging.NewLogger(config.Logging{Level: "debug", Format: "console"})
		if err != nil {
			return nil, err
		}
		logger = l
	}

	client, err := gotrue.NewClient(gotrue.Config{
		URL:     cfg.Identity.URL,
		AnonKey: cfg.Identity.AnonKey,
		Timeout: cfg.Identity.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create identity client: %w", err)
	}

	store, err := tokenstore.New(tokenstore.Config{
		DatabasePath:  b.StorePath,
		EncryptionKey: cfg.TokenStore.EncryptionKey,
		KeyFilePath:   cfg.TokenStore.KeyFilePath,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	s := &viewSession{store: store, closers: []func() error{store.Close}}

	s.provider = gotrue.NewAuth(client, store.For(client.BaseURL()),
		gotrue.WithClaimsParser(gotrue.NewClaimsParser(cfg.Identity.JWTSecret)),
		gotrue.WithLogger(logger),
	)

	opts := []authview.Option{authview.WithLogger(logger.Named("authview"))}
	if withUsers {
		table, closeTable, err := b.usersTable(s.provider, logger)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		if closeTable != nil {
			s.closers = append(s.closers, closeTable)
		}
		if table != nil {
			opts = append(opts, authview.WithUsersTable(table))
		}
	}

	s.view = authview.New(s.provider, opts...)
	if err := s.view.Mount(ctx); err != nil {
		// A session that cannot be loaded or refreshed counts as signed out.
		logger.Warn("stored session unusable", zap.Error(err))
	}
	return s, nil
}

func (b *baseCommand) usersTable(provider *gotrue.Auth, logger *zap.Logger) (identity.UsersTable, func() error, error) {
	name := b.Config.UsersTable.Name
	switch b.Config.UsersTable.Backend {
	case config.UsersTablePostgREST:
		return provider.UsersTable(name), nil, nil
	case config.UsersTableSQLite:
		db, err := database.NewDatabase(b.Config.Database.Path, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		repo, err := users.NewRepository(db.DB, name)
		if err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("failed to prepare users table: %w", err)
		}
		return repo, db.Close, nil
	default:
		return nil, nil, nil
	}
}

// credentialFlags are the -email and -password flags shared by signup and
// login. A missing password is prompted for.
type credentialFlags struct {
	Email    string
	Password string
}

func (c *credentialFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.Email, "email", "", "Email address (required)")
	fs.StringVar(&c.Password, "password", "", "Password (prompted for when omitted)")
}

func (c *credentialFlags) resolve(b *baseCommand) error {
	c.Email = strings.TrimSpace(c.Email)
	if c.Email == "" {
		return errors.New("email is required")
	}
	if c.Password == "" {
		password, err := b.prompt("Password")
		if err != nil {
			return err
		}
		c.Password = password
	}
	return nil
}

func usage(fs *flag.FlagSet, summary string, examples ...string) func() {
	return func() {
		out := fs.Output()
		fmt.Fprintf(out, "Usage: %s %s [options]\n\n", os.Args[0], fs.Name())
		fmt.Fprintf(out, "%s\n\n", summary)
		fmt.Fprintf(out, "Options:\n")
		fs.PrintDefaults()
		if len(examples) > 0 {
			fmt.Fprintf(out, "\nExamples:\n")
			for _, e := range examples {
				fmt.Fprintf(out, "  %s %s\n", os.Args[0], e)
			}
		}
	}
}
