package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/go-authgate/tapcard-cli/auth"
	"github.com/go-authgate/tapcard-cli/tui"
)

const (
	Version = "0.1.0"
	appName = "tapcard"
)

// deps are the process-level dependencies of the commands.
type deps struct {
	stdin     io.Reader
	stderr    io.Writer
	transport http.RoundTripper
	newDoer   func(http.RoundTripper, zerolog.Logger) (auth.Doer, error)
	// display runs fn with a Displayer and tears it down afterwards.
	display func(fn func(tui.Displayer) error) error
}

func defaultDeps() deps {
	return deps{
		stdin:     os.Stdin,
		stderr:    os.Stderr,
		transport: newHTTPTransport(),
		newDoer:   newRefreshDoer,
		display:   runWithDisplayer,
	}
}

func newRefreshDoer(rt http.RoundTripper, log zerolog.Logger) (auth.Doer, error) {
	rc, err := auth.NewRefreshClient(rt, log)
	if err != nil {
		return nil, err
	}
	return rc, nil
}

// reportedError marks an error the Displayer already showed.
type reportedError struct{ err error }

func (e reportedError) Error() string { return e.err.Error() }
func (e reportedError) Unwrap() error { return e.err }

func newRootCmd(d deps) *cobra.Command {
	var flags flagValues

	root := &cobra.Command{
		Use:   appName,
		Short: "TapCard prepaid balance CLI",
		Long: `Manage a TapCard prepaid beverage account from the terminal:
check the balance, list and block cards and browse transactions.

Configuration priority: flag > environment (.env supported) > config file > default.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "Config file path (YAML, or TAPCARD_CONFIG env)")
	pf.StringVar(&flags.serverURL, "server-url", "", "API base URL (default: http://localhost:8080 or SERVER_URL env)")
	pf.StringVar(&flags.tokenFile, "token-file", "", "Session storage file (or TOKEN_FILE env)")
	pf.StringVar(&flags.store, "store", "", "Session store: file, bolt or memory (or TOKEN_STORE env)")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error (or LOG_LEVEL env)")

	// withApp loads the configuration, wires the app and runs fn under a
	// signal-aware context with a Displayer.
	withApp := func(fn func(ctx context.Context, a *app, disp tui.Displayer) error) error {
		cfg, err := loadConfig(flags, d.stderr)
		if err != nil {
			return err
		}
		a, err := newApp(cfg, newLogger(d.stderr, cfg.LogLevel), d.transport, d.newDoer)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := a.Close(); closeErr != nil {
				a.log.Warn().Err(closeErr).Msg("failed to close token store")
			}
		}()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return d.display(func(disp tui.Displayer) error {
			events, unsubscribe := a.state.Subscribe()
			defer unsubscribe()

			disp.Banner()
			err := fn(ctx, a, disp)
			forwardExpiry(events, disp)
			if err != nil {
				disp.Fatal(err)
				return reportedError{err: err}
			}
			disp.Done()
			return nil
		})
	}

	root.AddCommand(
		newStatusCmd(withApp),
		newLoginCmd(withApp, d.stdin),
		newSignupCmd(withApp, d.stdin),
		newForgotPasswordCmd(withApp),
		newLogoutCmd(withApp),
		newProfileCmd(withApp),
		newBalanceCmd(withApp),
		newCardsCmd(withApp),
		newTransactionsCmd(withApp),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, Version)
			},
		},
	)
	return root
}

type runner func(fn func(ctx context.Context, a *app, disp tui.Displayer) error) error

func newStatusCmd(withApp runner) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current session state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app, disp tui.Displayer) error {
				_, err := a.resolve(ctx, disp)
				return err
			})
		},
	}
}

func newLoginCmd(withApp runner, stdin io.Reader) *cobra.Command {
	var email, password, googleIDToken string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password or a Google ID token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if googleIDToken == "" && email == "" {
				return errors.New("--email or --google-id-token is required")
			}
			if googleIDToken == "" && password == "" {
				var err error
				if password, err = readSecret(stdin); err != nil {
					return err
				}
			}

			return withApp(func(ctx context.Context, a *app, disp tui.Displayer) error {
				if googleIDToken != "" {
					disp.SigningIn("Google")
					tokens, err := a.accounts.GoogleSignIn(ctx, googleIDToken)
					if err != nil {
						return err
					}
					disp.SignedIn(tokens.DisplayName(), a.storePath, "google")
					return nil
				}

				disp.SigningIn(email)
				tokens, err := a.accounts.SignIn(ctx, email, password)
				if err != nil {
					return err
				}
				disp.SignedIn(tokens.DisplayName(), a.storePath, "password")
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password (read from stdin when omitted)")
	cmd.Flags().StringVar(&googleIDToken, "google-id-token", "", "Sign in with a Google ID token instead")
	return cmd
}

func newSignupCmd(withApp runner, stdin io.Reader) *cobra.Command {
	var req auth.SignUpRequest

	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and sign in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.Email == "" {
				return errors.New("--email is required")
			}
			if req.Password == "" {
				var err error
				if req.Password, err = readSecret(stdin); err != nil {
					return err
				}
			}

			return withApp(func(ctx context.Context, a *app, disp tui.Displayer) error {
				disp.SigningIn(req.Email)
				tokens, err := a.accounts.SignUp(ctx, req)
				if err != nil {
					return err
				}
				disp.SignedIn(tokens.DisplayName(), a.storePath, "password")
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&req.Email, "email", "", "Account email")
	cmd.Flags().StringVar(&req.Password, "password", "", "Account password (read from stdin when omitted)")
	cmd.Flags().StringVar(&req.FirstName, "first-name", "", "First name")
	cmd.Flags().StringVar(&req.LastName, "last-name", "", "Last name")
	return cmd
}

func newForgotPasswordCmd(withApp runner) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "forgot-password",
		Short: "Request a password reset email",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" {
				return errors.New("--email is required")
			}
			return withApp(func(ctx context.Context, a *app, disp tui.Displayer) error {
				if err := a.accounts.ForgotPassword(ctx, email); err != nil {
					return err
				}
				disp.ResetRequested(email)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	return cmd
}

func newLogoutCmd(withApp runner) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app, disp tui.Displayer) error {
				if err := a.accounts.SignOut(); err != nil {
					return err
				}
				disp.SignedOut()
				return nil
			})
		},
	}
}

func newProfileCmd(withApp runner) *cobra.Command {
	return &cobra.Command{
		Use:   "profile",
		Short: "Show the signed-in account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app, disp tui.Displayer) error {
				if err := a.requireSession(ctx, disp); err != nil {
					return err
				}
				disp.Loading("profile")
				p, err := a.api.Profile(ctx)
				if err != nil {
					disp.APICallFailed(err)
					return err
				}
				disp.Profile(*p)
				return nil
			})
		},
	}
}

func newBalanceCmd(withApp runner) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show the prepaid balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app, disp tui.Displayer) error {
				if err := a.requireSession(ctx, disp); err != nil {
					return err
				}
				disp.Loading("balance")
				b, err := a.api.Balance(ctx)
				if err != nil {
					disp.APICallFailed(err)
					return err
				}
				disp.Balance(*b)
				return nil
			})
		},
	}
}

func newCardsCmd(withApp runner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cards",
		Short: "List linked cards",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app, disp tui.Displayer) error {
				if err := a.requireSession(ctx, disp); err != nil {
					return err
				}
				disp.Loading("cards")
				cards, err := a.api.Cards(ctx)
				if err != nil {
					disp.APICallFailed(err)
					return err
				}
				disp.Cards(cards)
				return nil
			})
		},
	}

	setBlocked := func(use, short string, blocked bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <card-id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(func(ctx context.Context, a *app, disp tui.Displayer) error {
					if err := a.requireSession(ctx, disp); err != nil {
						return err
					}
					card, err := a.api.SetCardBlocked(ctx, args[0], blocked)
					if err != nil {
						disp.APICallFailed(err)
						return err
					}
					disp.CardUpdated(*card)
					return nil
				})
			},
		}
	}
	cmd.AddCommand(
		setBlocked("block", "Block a lost or stolen card", true),
		setBlocked("unblock", "Unblock a card", false),
	)
	return cmd
}

func newTransactionsCmd(withApp runner) *cobra.Command {
	var page int

	cmd := &cobra.Command{
		Use:   "transactions",
		Short: "Show transaction history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app, disp tui.Displayer) error {
				if err := a.requireSession(ctx, disp); err != nil {
					return err
				}
				disp.Loading("transactions")
				p, err := a.api.Transactions(ctx, page)
				if err != nil {
					disp.APICallFailed(err)
					return err
				}
				disp.Transactions(*p)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "Page number, starting at 1")
	return cmd
}

// readSecret reads one line from r.
func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	secret := strings.TrimRight(line, "\r\n")
	if secret == "" {
		return "", errors.New("password is required")
	}
	return secret, nil
}
