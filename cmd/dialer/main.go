// Command dialer is a terminal client for placing and answering calls
// through a signal-server relay. It is meant for smoke-testing a deployment:
// run two dialers with different user ids and call one from the other.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cliptube/signal-server/internal/call"
	"github.com/cliptube/signal-server/internal/config"
	"github.com/cliptube/signal-server/internal/log"
	"github.com/cliptube/signal-server/internal/media"
	"github.com/cliptube/signal-server/internal/proto"
	"github.com/cliptube/signal-server/internal/signaling"
)

func main() {
	var (
		configPath  string
		serverURL   string
		userID      string
		logLevel    string
		stunServers []string
		ringTimeout time.Duration
	)

	root := &cobra.Command{
		Use:          "dialer",
		Short:        "interactive call client for signal-server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user is required")
			}

			logger := log.New(logLevel)

			// Same config file as the server; flags win over file keys.
			cfg, _, err := config.Load(logger, configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("ring-timeout") {
				cfg.RingTimeout = ringTimeout
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sc := signaling.New(serverURL+"/ws", logger,
				signaling.WithRegisterDebounce(cfg.RegisterDebounce))
			go func() {
				if err := sc.Run(ctx); err != nil && ctx.Err() == nil {
					logger.Error().Err(err).Msg("signaling stopped")
				}
			}()

			factory := media.NewFactory(stunServers, logger)
			ctrl := call.NewController(userID, sc, factory, logger, call.WithRingTimeout(cfg.RingTimeout))
			unbind := call.BindSignaling(ctx, ctrl, sc)
			defer unbind()

			ctrl.Watch(func(s call.Snapshot) {
				switch s.Phase {
				case call.PhaseIncomingRinging:
					fmt.Printf("\n*** incoming call from %s, type 'accept' or 'reject'\n> ", s.PeerID)
				case call.PhaseEnded:
					fmt.Printf("\n*** call with %s ended (%s)\n> ", s.PeerID, s.Reason)
				default:
					fmt.Printf("\n*** call %s: %s\n> ", s.PeerID, s.Phase)
				}
			})
			sc.On(proto.TypePresenceUpdate, func(json.RawMessage) {
				logger.Debug().Strs("online", sc.Presence().Snapshot()).Msg("presence updated")
			})

			if err := sc.SetUserID(ctx, userID); err != nil {
				logger.Debug().Err(err).Msg("register deferred until connected")
			}

			fmt.Printf("registered as %s. commands: call <user>, accept, reject, end, who, quit\n", userID)
			return repl(ctx, ctrl, sc)
		},
	}

	root.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	root.Flags().StringVar(&serverURL, "server", "ws://localhost:8080", "relay base URL")
	root.Flags().StringVarP(&userID, "user", "u", "", "identity to register as")
	root.Flags().StringVar(&logLevel, "log-level", "warn", "log level")
	root.Flags().StringSliceVar(&stunServers, "stun", nil, "STUN/TURN server URLs")
	root.Flags().DurationVar(&ringTimeout, "ring-timeout", 30*time.Second, "how long calls ring before giving up")

	if err := root.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func repl(ctx context.Context, ctrl *call.Controller, sc *signaling.Client) error {
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	fmt.Print("> ")
	for {
		select {
		case <-ctx.Done():
			ctrl.EndCall(context.Background())
			return nil
		case line, ok := <-lines:
			if !ok {
				ctrl.EndCall(context.Background())
				return nil
			}
			if err := runCommand(ctx, ctrl, sc, strings.Fields(line)); err != nil {
				if err == errQuit {
					ctrl.EndCall(context.Background())
					return nil
				}
				fmt.Printf("error: %v\n", err)
			}
			fmt.Print("> ")
		}
	}
}

var errQuit = fmt.Errorf("quit")

func runCommand(ctx context.Context, ctrl *call.Controller, sc *signaling.Client, fields []string) error {
	if len(fields) == 0 {
		return nil
	}
	switch fields[0] {
	case "call":
		if len(fields) != 2 {
			return fmt.Errorf("usage: call <user>")
		}
		if !sc.Presence().Online(fields[1]) {
			fmt.Printf("%s is offline, calling anyway\n", fields[1])
		}
		return ctrl.StartCall(ctx, fields[1])
	case "accept":
		return ctrl.AcceptCall(ctx)
	case "reject":
		return ctrl.RejectCall(ctx)
	case "end":
		ctrl.EndCall(ctx)
		return nil
	case "who":
		fmt.Printf("online: %s\n", strings.Join(sc.Presence().Snapshot(), ", "))
		return nil
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
}
