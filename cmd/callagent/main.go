// callagent is a call participant that talks to the support-calls API. It
// polls the signal mailbox and the chat transcript, drives a single call
// session, and carries media over WebRTC with synthetic tracks.
//
// Commands are read from stdin, one per line; notices are printed to stdout
// and structured logs go to stderr. Run with --help for flags.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"support-calls/internal/call"
	"support-calls/internal/client"
	"support-calls/internal/config"
	"support-calls/internal/peer"
	"support-calls/internal/poller"
	"support-calls/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadAgent()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	flagSet := pflag.NewFlagSet("callagent", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.APIBaseURL, "api", cfg.APIBaseURL, "signaling API base URL (env AGENT_API_URL)")
	flagSet.StringVar(&cfg.Token, "token", cfg.Token, "bearer access token (env AGENT_TOKEN)")
	flagSet.StringVar(&cfg.Env, "env", cfg.Env, "environment name, controls log format (env APP_ENV)")
	flagSet.DurationVar(&cfg.SignalPollInterval, "signal-poll", cfg.SignalPollInterval, "signal mailbox poll interval")
	flagSet.DurationVar(&cfg.ChatPollInterval, "chat-poll", cfg.ChatPollInterval, "chat transcript poll interval (0 picks the role default)")
	flagSet.DurationVar(&cfg.FreshnessWindow, "freshness", cfg.FreshnessWindow, "maximum age of chat transcript call tokens")
	flagSet.DurationVar(&cfg.VerifyDwell, "verify-dwell", cfg.VerifyDwell, "pause between liveness challenge steps")
	flagSet.StringSliceVar(&cfg.ICEServers, "ice", cfg.ICEServers, "STUN/TURN server URLs (env AGENT_ICE_SERVERS)")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.NewWithWriter(cfg.Env, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api := client.New(cfg.APIBaseURL, cfg.Token, nil)
	principal, err := api.Me(ctx)
	if err != nil {
		return fmt.Errorf("resolve identity: %w", err)
	}
	log = log.With("identity", principal.Identity(), "role", principal.Role)

	transport := peer.NewWebRTCTransport(api, peer.ICEConfigFromURLs(cfg.ICEServers), log)
	defer transport.Close()

	agentCfg := call.Config{
		Principal:       principal,
		Bus:             api,
		Transport:       transport,
		Devices:         peer.SyntheticDevices{},
		Dwell:           cfg.VerifyDwell,
		FreshnessWindow: cfg.FreshnessWindow,
		Logger:          log,
	}
	// Call history is written by the support side only.
	if principal.IsSupport() {
		agentCfg.History = api
	}
	agent, err := call.NewAgent(agentCfg)
	if err != nil {
		return err
	}

	chat := poller.ChatSourceFunc(api.Thread)
	if principal.IsSupport() {
		chat = api.AllMessages
	}
	loop, err := poller.New(poller.Config{
		Principal:       principal,
		Signals:         api,
		Chat:            chat,
		SignalInterval:  cfg.SignalPollInterval,
		ChatInterval:    cfg.ChatPollInterval,
		FreshnessWindow: cfg.FreshnessWindow,
		Logger:          log,
	}, agent)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	agentDone := make(chan error, 1)
	go func() { agentDone <- agent.Run(runCtx) }()
	go func() { _ = loop.Run(runCtx) }()
	go func() {
		for {
			select {
			case <-runCtx.Done():
				return
			case n := <-agent.Notices():
				printNotice(os.Stdout, n)
			}
		}
	}()
	go func() {
		readCommands(runCtx, os.Stdin, os.Stdout, func(line string) error {
			return runCommand(runCtx, line, principal, agent, api, os.Stdout)
		})
		cancel()
	}()

	fmt.Fprintf(os.Stdout, "signed in as %s (%s); type help for commands\n", principal.Identity(), principal.Role)

	select {
	case err := <-agentDone:
		// Run returns early only when the transport endpoint cannot be opened.
		return err
	case <-runCtx.Done():
	}
	return <-agentDone
}

// readCommands feeds lines from in to exec until input ends, exec returns
// errQuit, or ctx is done. Other errors are printed and reading continues.
func readCommands(ctx context.Context, in io.Reader, out io.Writer, exec func(string) error) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		err := exec(scanner.Text())
		if errors.Is(err, errQuit) {
			return
		}
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, "Usage: callagent [flags]\n\n")
	fmt.Fprintf(os.Stderr, "A support-calls participant. Reads commands from stdin.\n\n")
	fmt.Fprintf(os.Stderr, "Flags:\n")
	flagSet.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\n%s", helpText)
}
