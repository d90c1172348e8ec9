package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	cl "lootarena/internal/cli"
	"lootarena/internal/config"
	"lootarena/internal/game"
	"lootarena/internal/syncq"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	_ = config.LoadDotEnv()
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL
	setupColor()

	root := &cobra.Command{
		Use:          "arenactl",
		Short:        "Play arena, raid and pvp sessions from the terminal",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "API base URL")

	root.AddCommand(
		newLoginCmd(),
		newLogoutCmd(),
		newStartCmd(&apiBase),
		newActCmd(&apiBase),
		newResolveCmd(&apiBase),
		newStateCmd(&apiBase),
		newDailyCmd(&apiBase),
		newExpectCmd(),
		newSyncCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

func loadSession() (cl.Session, error) {
	sess, err := cl.LoadSession()
	if err != nil {
		return cl.Session{}, fmt.Errorf("login required: %w", err)
	}
	return sess, nil
}

func variantArg(args []string) (game.Variant, error) {
	if len(args) == 0 {
		choice, err := promptChoice("Variant", []string{"arena", "raid", "pvp"}, "arena")
		if err != nil {
			return "", err
		}
		return game.ParseVariant(choice)
	}
	return game.ParseVariant(args[0])
}

// refFor picks the explicit ref, else the one `start` remembered.
func refFor(sess cl.Session, v game.Variant, flagRef string) (string, error) {
	if ref := strings.TrimSpace(flagRef); ref != "" {
		return ref, nil
	}
	if ref := sess.ActiveRef(string(v)); ref != "" {
		return ref, nil
	}
	return "", fmt.Errorf("no %s session remembered; pass --ref or run `arenactl start %s`", v, v)
}

func newLoginCmd() *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save the bearer token issued by the bot or web front",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(token) == "" {
				t, err := promptSecret("Access token")
				if err != nil {
					return err
				}
				token = t
			}
			if err := cl.SaveSession(cl.Session{AccessToken: strings.TrimSpace(token)}); err != nil {
				return err
			}
			printSuccess("Token saved.")
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "bearer token")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the local token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newStartCmd(apiBase *string) *cobra.Command {
	var mode, ref string
	cmd := &cobra.Command{
		Use:   "start [arena|raid|pvp]",
		Short: "Spend a ticket and open a session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loadSession()
			if err != nil {
				return err
			}
			v, err := variantArg(args)
			if err != nil {
				return err
			}
			if strings.TrimSpace(ref) == "" {
				ref = uuid.NewString()
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Start(ctx, sess.AccessToken, v, ref, mode)
			if err != nil {
				return err
			}
			sess.Remember(string(v), out.Session.Ref)
			if err := cl.SaveSession(sess); err != nil {
				return err
			}
			if out.Duplicate {
				printWarn("A session was already open; resuming it.")
			}
			renderSession(out.Session)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "safe, balanced or aggressive")
	cmd.Flags().StringVar(&ref, "ref", "", "session ref (defaults to a new uuid)")
	return cmd
}

func newActCmd(apiBase *string) *cobra.Command {
	var ref string
	var seq int
	var latency int64
	cmd := &cobra.Command{
		Use:   "act <variant> <input>",
		Short: "Submit the next action",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loadSession()
			if err != nil {
				return err
			}
			v, err := game.ParseVariant(args[0])
			if err != nil {
				return err
			}
			ref, err := refFor(sess, v, ref)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)

			if seq <= 0 {
				state, err := client.State(ctx, sess.AccessToken, v, ref)
				if err != nil {
					return err
				}
				if state.Session == nil {
					return fmt.Errorf("session %s not found", ref)
				}
				seq = state.Session.State.ActionCount + 1
			}
			input := ""
			if len(args) > 1 {
				input = args[1]
			} else {
				input, err = promptChoice("Action", game.ActionVocabulary, game.ExpectedAction(ref, seq))
				if err != nil {
					return err
				}
			}

			req := cl.ActionRequest{
				SessionRef:  ref,
				ActionSeq:   seq,
				InputAction: input,
				LatencyMS:   latency,
				ClientTS:    time.Now().UnixMilli(),
			}
			out, err := client.Action(ctx, sess.AccessToken, v, req)
			if err != nil {
				return queueOnNetworkError(err, syncq.Command{
					Variant:     string(v),
					SessionRef:  req.SessionRef,
					ActionSeq:   req.ActionSeq,
					InputAction: req.InputAction,
					LatencyMS:   req.LatencyMS,
					ClientTS:    req.ClientTS,
				})
			}
			renderAction(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&ref, "ref", "", "session ref")
	cmd.Flags().IntVar(&seq, "seq", 0, "action sequence (defaults to the next one)")
	cmd.Flags().Int64Var(&latency, "latency", 250, "reported latency in ms")
	return cmd
}

func newResolveCmd(apiBase *string) *cobra.Command {
	var ref string
	cmd := &cobra.Command{
		Use:   "resolve [arena|raid|pvp]",
		Short: "Settle the session and collect the reward",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loadSession()
			if err != nil {
				return err
			}
			v, err := variantArg(args)
			if err != nil {
				return err
			}
			ref, err := refFor(sess, v, ref)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Resolve(ctx, sess.AccessToken, v, ref)
			if err != nil {
				return err
			}
			if sess.ActiveRef(string(v)) == ref {
				sess.Forget(string(v))
				if err := cl.SaveSession(sess); err != nil {
					return err
				}
			}
			renderResolve(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&ref, "ref", "", "session ref")
	return cmd
}

func newStateCmd(apiBase *string) *cobra.Command {
	var ref string
	cmd := &cobra.Command{
		Use:   "state [arena|raid|pvp]",
		Short: "Show the active or most recent session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loadSession()
			if err != nil {
				return err
			}
			v, err := variantArg(args)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).State(ctx, sess.AccessToken, v, ref)
			if err != nil {
				return err
			}
			if out.Session == nil {
				printInfo("No active or recent session.")
				return nil
			}
			renderSession(*out.Session)
			return nil
		},
	}
	cmd.Flags().StringVar(&ref, "ref", "", "session ref")
	return cmd
}

func newDailyCmd(apiBase *string) *cobra.Command {
	var offline, catalog bool
	var seasonID int64
	cmd := &cobra.Command{
		Use:   "daily",
		Short: "Show today's anomaly and contract",
		RunE: func(cmd *cobra.Command, args []string) error {
			if catalog {
				renderCatalog(game.AnomalyCatalog(), game.ContractCatalog())
				return nil
			}
			if offline {
				renderDaily(game.ResolveDaily(seasonID, time.Now()))
				return nil
			}
			sess, err := loadSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			daily, err := newClient(apiBase).Daily(ctx, sess.AccessToken)
			if err != nil {
				return err
			}
			renderDaily(daily)
			return nil
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "compute locally without calling the API")
	cmd.Flags().BoolVar(&catalog, "catalog", false, "list every anomaly and contract the rotation draws from")
	cmd.Flags().Int64Var(&seasonID, "season", 1, "season id for --offline")
	return cmd
}

func newExpectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expect <ref> <seq>",
		Short: "Print the expected input for an action sequence",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var seq int
			if _, err := fmt.Sscanf(args[1], "%d", &seq); err != nil || seq <= 0 {
				return fmt.Errorf("invalid seq %q", args[1])
			}
			accent.Println(game.ExpectedAction(args[0], seq))
			return nil
		},
	}
}

func openOutbox() (*syncq.Outbox, error) {
	dir, err := cl.StateDir()
	if err != nil {
		return nil, err
	}
	return syncq.Open(dir)
}

func newSyncCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay actions queued while offline",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loadSession()
			if err != nil {
				return err
			}
			outbox, err := openOutbox()
			if err != nil {
				return err
			}
			queued, err := outbox.Load()
			if err != nil {
				return err
			}
			if len(queued) == 0 {
				printInfo("Outbox is empty.")
				return nil
			}
			client := newClient(apiBase)
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			send := func(ctx context.Context, q syncq.Command) error {
				v, err := game.ParseVariant(q.Variant)
				if err != nil {
					return err
				}
				_, err = client.Action(ctx, sess.AccessToken, v, cl.ActionRequest{
					SessionRef:  q.SessionRef,
					ActionSeq:   q.ActionSeq,
					InputAction: q.InputAction,
					LatencyMS:   q.LatencyMS,
					ClientTS:    q.ClientTS,
				})
				return err
			}
			rep, err := outbox.Replay(ctx, send, cl.IsTransport)
			for _, refused := range rep.Refused {
				printError(fmt.Sprintf("Dropped %v", refused))
			}
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Sync complete: replayed=%d remaining=%d", rep.Replayed, rep.Kept))
			return nil
		},
	}
}

func queueOnNetworkError(err error, cmd syncq.Command) error {
	if err == nil {
		return nil
	}
	if !cl.IsTransport(err) {
		return err
	}
	outbox, oerr := openOutbox()
	if oerr == nil {
		oerr = outbox.Push(cmd)
	}
	if oerr != nil {
		return fmt.Errorf("request failed and could not be queued: %v (queue: %w)", err, oerr)
	}
	printWarn("Server unreachable; action queued. Run `arenactl sync` when back online.")
	return nil
}
