package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/seweryn-pilarska/email-reply/internal/agent"
	"github.com/seweryn-pilarska/email-reply/internal/bootstrap"
	"github.com/seweryn-pilarska/email-reply/internal/model"
	"github.com/seweryn-pilarska/email-reply/internal/service/reply"
	"github.com/seweryn-pilarska/email-reply/pkg/outbox"
	"github.com/seweryn-pilarska/email-reply/pkg/rbac"
	"github.com/seweryn-pilarska/email-reply/pkg/util"
)

var errMessageRequired = errors.New("message is required (use --message or stdin)")

func newReplyCmd(opts *rootOptions) *cobra.Command {
	var (
		message  string
		jsonMode bool
	)

	cmd := &cobra.Command{
		Use:   "reply",
		Short: "Run the reply workflow once",
		Long:  `Classify one email, run the matching handler and print the reply. Reads the email from stdin when --message is not set.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if message == "" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				message = string(data)
			}
			if strings.TrimSpace(message) == "" {
				return errMessageRequired
			}

			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			defer log.Sync()

			engine, err := bootstrap.NewEngine(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			svc := reply.NewService(engine, nil, nil, log)

			res, err := svc.Reply(cmd.Context(), reply.Request{Source: reply.SourceCLI, Email: message})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonMode {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res.State)
			}
			fmt.Fprintf(out, "intent:  %s\nhandler: %s\n\n%s\n", res.State.Intent, res.State.Handler, res.Reply)
			return nil
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "email text")
	cmd.Flags().BoolVar(&jsonMode, "json", false, "print the full workflow state as JSON")
	return cmd
}

func newRouteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "route <intent>",
		Short: "Show which handler an intent label routes to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), agent.Route(model.Intent(args[0])))
			return nil
		},
	}
}

func newIntentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "intents",
		Short: "List known intent labels and their handlers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "INTENT\tHANDLER")
			for _, intent := range model.Intents {
				fmt.Fprintf(w, "%s\t%s\n", intent, agent.Route(intent))
			}
			return w.Flush()
		},
	}
}

func newOutboxCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Replay outbox events",
	}

	replayCmd := &cobra.Command{
		Use:   "replay <id>",
		Short: "Replay one outbox event regardless of its status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eventID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid event id %q", args[0])
			}
			return withReplayService(cmd, opts, func(svc *outbox.ReplayService) error {
				if err := svc.ReplayEvent(cmd.Context(), eventID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "replayed event %d\n", eventID)
				return nil
			})
		},
	}

	var limit int
	replayFailedCmd := &cobra.Command{
		Use:   "replay-failed",
		Short: "Replay failed outbox events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withReplayService(cmd, opts, func(svc *outbox.ReplayService) error {
				n, err := svc.ReplayFailedEvents(cmd.Context(), limit)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "replayed %d event(s)\n", n)
				return nil
			})
		},
	}
	replayFailedCmd.Flags().IntVarP(&limit, "limit", "l", 100, "maximum number of events to replay")

	cmd.AddCommand(replayCmd, replayFailedCmd)
	return cmd
}

// withReplayService 连接数据库和 MQ 后执行 fn
func withReplayService(cmd *cobra.Command, opts *rootOptions, fn func(*outbox.ReplayService) error) error {
	cfg, log, err := opts.load()
	if err != nil {
		return err
	}
	defer log.Sync()

	if !cfg.DB.Enabled() || !cfg.MQ.Enabled() {
		return errors.New("outbox replay requires db and mq to be configured")
	}

	deps, err := bootstrap.Open(cmd.Context(), cfg, log, "replyctl")
	if err != nil {
		return err
	}
	defer deps.Close()

	return fn(deps.ReplayService())
}

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var (
		subject string
		role    string
		secret  string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a JWT for the API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !rbac.ValidRole(role) {
				return fmt.Errorf("invalid role %q", role)
			}
			if secret == "" {
				cfg, _, err := opts.load()
				if err != nil {
					return err
				}
				secret = cfg.JWT.Secret
				if ttl == 0 {
					ttl = cfg.JWT.TTL
				}
			}
			if secret == "" {
				return errors.New("jwt secret is not configured (set JWT_SECRET or --secret)")
			}

			token, err := util.GenerateJWTWithRole(subject, role, secret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "replyctl", "token subject")
	cmd.Flags().StringVar(&role, "role", rbac.RoleClient, "token role (client or admin)")
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret (defaults to jwt.secret)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to jwt.ttl, then 24h)")
	return cmd
}
