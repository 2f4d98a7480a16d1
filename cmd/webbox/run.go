package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"pkt.systems/pslog"
	"pkt.systems/webbox/core"
	"pkt.systems/webbox/internal/appconfig"
	"pkt.systems/webbox/internal/remote"
	"pkt.systems/webbox/internal/sandboxgrpc"
	"pkt.systems/webbox/schema"
)

type launchOptions struct {
	cfgPath    string
	socketPath string
	embedID    string
	user       string
	save       bool
}

func newRunCmd() *cobra.Command {
	return newLaunchCmd("run", "Run an embed and stream its terminal", false)
}

func newTestCmd() *cobra.Command {
	return newLaunchCmd("test", "Run the tests of an embed and print the result", true)
}

func newLaunchCmd(use, short string, test bool) *cobra.Command {
	var opts launchOptions
	cmd := &cobra.Command{
		Use:   use + " [embed.json]",
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			if (path == "") == (opts.embedID == "") {
				return errors.New("pass either an embed file or --embed")
			}
			return launch(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), path, opts, test)
		},
	}
	cmd.Flags().StringVarP(&opts.cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&opts.socketPath, "socket-path", "", "sandbox socket path (overrides config)")
	cmd.Flags().StringVar(&opts.embedID, "embed", "", "load the embed from the server store instead of a file")
	cmd.Flags().StringVar(&opts.user, "user", "", "signed in user email; anonymous when empty")
	cmd.Flags().BoolVar(&opts.save, "save", false, "save the files to the server before running")
	return cmd
}

func launch(ctx context.Context, stdout, stderr io.Writer, path string, opts launchOptions, test bool) error {
	logger := pslog.Ctx(ctx)
	cfg, err := appconfig.Load(opts.cfgPath)
	if err != nil {
		return err
	}
	if opts.socketPath != "" {
		cfg.Sandbox.SocketPath = opts.socketPath
	}
	projectCfg, err := cfg.ProjectDefaults()
	if err != nil {
		return err
	}
	reg, err := cfg.LanguageRegistry()
	if err != nil {
		return err
	}

	client, err := sandboxgrpc.Dial(ctx, cfg.Sandbox.SocketPath)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	var embed schema.Embed
	if path != "" {
		embed, err = readEmbedFile(path)
	} else {
		embed, err = client.GetEmbed(ctx, schema.EmbedID(opts.embedID))
	}
	if err != nil {
		return err
	}

	dispatcher := remote.New(client, remote.Options{Logger: logger})
	defer func() { _ = dispatcher.Close() }()
	dispatcher.Connect(ctx)

	user := schema.User{Email: opts.user, IsAnonymous: opts.user == ""}
	deps := core.ProjectDeps{
		Persistence: client,
		Sandbox:     client,
		Remote:      dispatcher,
		Interpreter: hostInterpreter{languages: reg, files: sortedNames(embed.Code)},
		Languages:   reg,
		User:        user,
		Location:    locationFromBaseURL(cfg.Project.BaseURL),
		Config:      projectCfg,
		Logger:      logger,
	}
	project, err := core.NewProject(ctx, embed, deps)
	if err != nil {
		return err
	}
	defer project.Close()
	if project.IsInert() {
		printMessages(stderr, project.Messages())
		return schema.ErrUnsupportedEmbedType
	}
	if opts.save {
		project.SaveEmbedNow(ctx)
	}

	var teeOnce sync.Once
	cancelSub := project.Subscribe(func(schema.ProjectEvent) {
		if runner := project.Runner(); runner != nil {
			teeOnce.Do(func() { runner.Terminal().SetTee(stdout) })
		}
	})
	defer cancelSub()

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if test {
		err = project.Test(sigCtx)
	} else {
		err = project.Run(sigCtx)
	}
	if err != nil {
		printMessages(stderr, project.Messages())
		return err
	}
	runner := project.Runner()
	if runner == nil {
		return errors.New("no runner")
	}

	restore := forwardStdin(sigCtx, project, runner, embed.TypeOrDefault() == schema.EmbedSourcebox)
	defer restore()

	select {
	case <-runner.Done():
	case <-sigCtx.Done():
		logger.Info("run interrupted")
		stopCtx, cancel := context.WithTimeout(context.Background(), projectCfg.StopGrace+time.Second)
		_ = project.Stop(stopCtx)
		select {
		case <-runner.Done():
		case <-stopCtx.Done():
		}
		cancel()
	}
	runner.Terminal().Flush()
	restore()

	if test {
		printTestResults(stdout, project.Tabs())
	}
	printMessages(stderr, project.Messages())
	return nil
}

func readEmbedFile(path string) (schema.Embed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return schema.Embed{}, err
	}
	var embed schema.Embed
	if err := json.Unmarshal(data, &embed); err != nil {
		return schema.Embed{}, fmt.Errorf("decode embed %s: %w", path, err)
	}
	return embed, nil
}

func sortedNames(code map[string]string) []string {
	names := make([]string, 0, len(code))
	for name := range code {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// forwardStdin copies stdin into the running program. A terminal is put
// into raw mode for sandbox runs so keystrokes reach the program unbuffered;
// Ctrl-C then stops the project.
func forwardStdin(ctx context.Context, project *core.Project, runner core.Runner, raw bool) func() {
	fd := int(os.Stdin.Fd())
	restore := func() {}
	if raw && term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err == nil {
			var once sync.Once
			restore = func() { once.Do(func() { _ = term.Restore(fd, state) }) }
		} else {
			raw = false
		}
	} else {
		raw = false
	}
	go func() {
		buf := make([]byte, 1024)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				chunk := buf[:n]
				if raw {
					if i := bytes.IndexByte(chunk, 0x03); i >= 0 {
						_ = project.Stop(ctx)
						chunk = chunk[:i]
					}
				}
				if len(chunk) > 0 {
					if _, werr := runner.Stdin().Write(chunk); werr != nil {
						return
					}
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return restore
}

func printTestResults(w io.Writer, tabs *core.Registry) {
	found := false
	for _, tab := range tabs.Tabs() {
		view, ok := tab.Item.(*core.TestResultView)
		if !ok {
			continue
		}
		found = true
		r := view.Result
		_, _ = fmt.Fprintf(w, "\n%s: %g/%g\n", view.Title(), r.Score, r.MaxScore)
	}
	if !found {
		_, _ = fmt.Fprintln(w, "\nKein Testergebnis erhalten.")
	}
}

func printMessages(w io.Writer, messages *core.MessageList) {
	for _, msg := range messages.Messages() {
		_, _ = fmt.Fprintf(w, "[%s] %s\n", msg.Severity, msg.Text)
	}
}
