package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/and161185/piggybank/api/ledgerv1"
	"github.com/and161185/piggybank/internal/service"
)

// options are the global flags shared by every subcommand.
type options struct {
	addr       string
	caPath     string
	skipVerify bool
	plaintext  bool
	token      string
	timeout    time.Duration

	out  io.Writer
	dial func(ctx context.Context, o *options, bearer string) (*grpc.ClientConn, error)
}

func newRootCmd(o *options) *cobra.Command {
	root := &cobra.Command{
		Use:           "piggy",
		Short:         "Client for the piggybank token ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&o.addr, "addr", "localhost:8443", "server addr")
	pf.StringVar(&o.caPath, "cacert", "", "CA cert (PEM)")
	pf.BoolVar(&o.skipVerify, "insecure", false, "skip cert verify (dev)")
	pf.BoolVar(&o.plaintext, "plaintext", false, "connect without TLS (dev)")
	pf.StringVar(&o.token, "token", "", "bearer token; defaults to the saved one")
	pf.DurationVar(&o.timeout, "timeout", 30*time.Second, "per-command deadline")

	root.AddCommand(
		versionCmd(o),
		tokenCmd(o),
		mintCmd(o),
		burnCmd(o),
		burnDepositCmd(o),
		balanceCmd(o),
		rewardsCmd(o),
	)
	return root
}

// withClient dials with the caller's token and runs fn under the command deadline.
func withClient(cmd *cobra.Command, o *options, fn func(ctx context.Context, c ledgerv1.LedgerClient) (any, error)) error {
	bearer := o.token
	if bearer == "" {
		tf, err := loadToken()
		if err != nil {
			return err
		}
		bearer = tf.AccessToken
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()

	cc, err := o.dial(ctx, o, bearer)
	if err != nil {
		return err
	}
	defer cc.Close()

	resp, err := fn(ctx, ledgerv1.NewLedgerClient(cc))
	if err != nil {
		return err
	}
	printJSON(o.out, resp)
	return nil
}

func versionCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the client version",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			fmt.Fprintf(o.out, "piggy %s (%s)\n", version, buildDate)
		},
	}
}

// tokenCmd signs a development token with the server's key and saves it.
func tokenCmd(o *options) *cobra.Command {
	var (
		key  string
		user string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign and save a development access token",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			if key == "" {
				key = os.Getenv("PIGGY_AUTH_JWT_KEY")
			}
			if key == "" {
				return fmt.Errorf("need --jwt-key or PIGGY_AUTH_JWT_KEY")
			}
			id := uuid.Nil
			if user != "" {
				var err error
				if id, err = uuid.FromString(user); err != nil {
					return fmt.Errorf("bad --user: %w", err)
				}
			} else if tf, err := loadToken(); err == nil {
				id, _ = uuid.FromString(tf.UserID)
			}
			if id == uuid.Nil {
				id = uuid.Must(uuid.NewV4())
			}

			tok, exp, err := service.NewAuthService([]byte(key), ttl).Issue(id)
			if err != nil {
				return err
			}
			if err := saveToken(tokenFile{AccessToken: tok, UserID: id.String(), ExpiresAt: exp}); err != nil {
				return err
			}
			printJSON(o.out, map[string]string{"user_id": id.String(), "expires_at": exp.Format(time.RFC3339)})
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "jwt-key", "", "HS256 key shared with the server")
	cmd.Flags().StringVar(&user, "user", "", "user id; defaults to the saved one or a new id")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func mintCmd(o *options) *cobra.Command {
	var amount, period string
	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Lock tokens in a new deposit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, o, func(ctx context.Context, c ledgerv1.LedgerClient) (any, error) {
				return c.MintTokens(ctx, &ledgerv1.MintRequest{Amount: amount, LockPeriod: period})
			})
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "amount to mint")
	cmd.Flags().StringVar(&period, "period", "ThreeMonths", "ThreeMonths|SixMonths|TwelveMonths")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func burnCmd(o *options) *cobra.Command {
	var amount string
	cmd := &cobra.Command{
		Use:   "burn",
		Short: "Withdraw tokens, oldest deposit first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, o, func(ctx context.Context, c ledgerv1.LedgerClient) (any, error) {
				return c.BurnTokens(ctx, &ledgerv1.BurnRequest{Amount: amount})
			})
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "amount to withdraw")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func burnDepositCmd(o *options) *cobra.Command {
	var id, amount string
	cmd := &cobra.Command{
		Use:   "burn-deposit",
		Short: "Withdraw tokens from one deposit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, o, func(ctx context.Context, c ledgerv1.LedgerClient) (any, error) {
				return c.BurnDeposit(ctx, &ledgerv1.BurnDepositRequest{DepositID: id, Amount: amount})
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "deposit id")
	cmd.Flags().StringVar(&amount, "amount", "", "amount to withdraw")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func balanceCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show balances and open deposits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, o, func(ctx context.Context, c ledgerv1.LedgerClient) (any, error) {
				return c.GetBalance(ctx, &ledgerv1.GetBalanceRequest{})
			})
		},
	}
}

func rewardsCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "rewards",
		Short: "Credit interest accrued so far",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, o, func(ctx context.Context, c ledgerv1.LedgerClient) (any, error) {
				return c.ApplyRewards(ctx, &ledgerv1.ApplyRewardsRequest{})
			})
		},
	}
}
