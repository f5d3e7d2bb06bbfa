package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/inaiurai/promptq/internal/client"
	"github.com/inaiurai/promptq/internal/config"
	"github.com/inaiurai/promptq/internal/jobs"
	"github.com/inaiurai/promptq/internal/models"
)

var (
	apiURL    string
	tokenFile string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "promptctl",
		Short:         "Submit prompts to promptq and collect results",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&apiURL, "api", config.GetEnv("PROMPTQ_API", "http://localhost:8080"), "API base URL")
	root.PersistentFlags().StringVar(&tokenFile, "token-file", defaultTokenFile(), "where the login token is stored")

	root.AddCommand(
		newRegisterCmd(),
		newLoginCmd(),
		newBalanceCmd(),
		newAdjustCmd("deposit", "Add credits to your account", 1),
		newAdjustCmd("withdraw", "Remove credits from your account", -1),
		newSubmitCmd(),
		newWaitCmd(),
		newJobsCmd(),
	)
	return root
}

func defaultTokenFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".promptq-token"
	}
	return filepath.Join(home, ".promptq", "token")
}

// newClient authenticates with PROMPTQ_TOKEN or the saved login token.
func newClient() *client.Client {
	token := os.Getenv("PROMPTQ_TOKEN")
	if token == "" {
		if raw, err := os.ReadFile(tokenFile); err == nil {
			token = strings.TrimSpace(string(raw))
		}
	}
	return client.New(apiURL, token)
}

func newRegisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register <username> <password>",
		Short: "Create an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			acc, err := newClient().Register(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s (%s)\n", acc.Username, acc.ID)
			return nil
		},
	}
}

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <username> <password>",
		Short: "Log in and save the token",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := newClient().Login(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(tokenFile), 0o700); err != nil {
				return err
			}
			if err := os.WriteFile(tokenFile, []byte(token), 0o600); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "logged in")
			return nil
		},
	}
}

func newBalanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show your balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := newClient().Balance(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), b.String())
			return nil
		},
	}
}

func newAdjustCmd(use, short string, sign int64) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <amount>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(args[0])
			if err != nil {
				return fmt.Errorf("invalid amount %q", args[0])
			}
			if !amount.IsPositive() {
				return errors.New("amount must be positive")
			}
			txn, err := newClient().Adjust(cmd.Context(), amount.Mul(decimal.NewFromInt(sign)))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s, balance %s\n", txn.Kind, txn.Amount.Abs(), txn.BalanceAfter)
			return nil
		},
	}
}

func newSubmitCmd() *cobra.Command {
	var wait bool
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "submit <prompt>",
		Short: "Submit a prompt; prints the job id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if wait {
				if err := checkInterval(interval); err != nil {
					return err
				}
			}
			c := newClient()
			resp, err := c.Submit(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.JobID)
			if !wait {
				return nil
			}
			return waitFor(cmd, c, resp.JobID, interval)
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the result")
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "poll interval")
	return cmd
}

func newWaitCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "wait <job-id>",
		Short: "Poll a job until it completes or fails",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			if err := checkInterval(interval); err != nil {
				return err
			}
			return waitFor(cmd, newClient(), id, interval)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "poll interval")
	return cmd
}

func checkInterval(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("--interval must be positive, got %s", interval)
	}
	return nil
}

func waitFor(cmd *cobra.Command, c *client.Client, id uuid.UUID, interval time.Duration) error {
	view, err := c.Wait(cmd.Context(), id, interval, func(v *jobs.JobView) {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", v.JobID, v.Status)
	})
	if err != nil {
		return err
	}
	result := ""
	if view.Result != nil {
		result = *view.Result
	}
	if view.Status == models.JobStatusFailed {
		return fmt.Errorf("job failed: %s", result)
	}
	fmt.Fprintln(cmd.OutOrStdout(), result)
	return nil
}

func newJobsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List your recent jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := newClient().Jobs(cmd.Context())
			if err != nil {
				return err
			}
			for _, j := range list {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-9s  %s  %s\n", j.JobID, j.Status, j.Price, j.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}
