// Package app wires the teller commands to the kiosk runtime.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/rbright/teller/internal/audio"
	"github.com/rbright/teller/internal/config"
	"github.com/rbright/teller/internal/doctor"
	"github.com/rbright/teller/internal/flow"
	"github.com/rbright/teller/internal/ipc"
	"github.com/rbright/teller/internal/logging"
	"github.com/rbright/teller/internal/screen"
	"github.com/rbright/teller/internal/version"
	"github.com/spf13/cobra"
)

// errNoKiosk is reported by commands that need a running kiosk.
var errNoKiosk = errors.New("no running teller kiosk")

type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

// exitError is a command failure with its exit code. Any other error returned by cobra is a
// usage error.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func failed(err error) error {
	return &exitError{code: 1, err: err}
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	root := r.newRootCommand()
	root.SetArgs(args)

	cmd, err := root.ExecuteContextC(ctx)
	if err == nil {
		return 0
	}

	var exit *exitError
	if errors.As(err, &exit) {
		if exit.err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", exit.err)
		}
		return exit.code
	}

	fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
	if cmd == nil {
		cmd = root
	}
	fmt.Fprint(r.Stderr, cmd.UsageString())
	return 2
}

type options struct {
	configPath string
}

func (r Runner) newRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "teller",
		Short: "Self-service banking kiosk",
		Long: `teller drives one self-service banking kiosk: it owns the session state machine,
renders the current screen, and talks to the bank over gRPC.

Keypad input arrives on a unix socket. Run the kiosk in one terminal and press keys
from another:
  teller run
  teller press 4000123412341234 enter
  teller press 1234 enter
  teller status`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(r.Stdout)
	root.SetErr(r.Stderr)
	root.SetVersionTemplate("{{.Version}}\n")
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file path (default $XDG_CONFIG_HOME/teller/config.yaml)")

	root.AddCommand(
		r.runCommand(opts),
		r.pressCommand(opts),
		r.insertCommand(opts),
		r.statusCommand(opts),
		r.serveBankCommand(opts),
		r.doctorCommand(opts),
		r.devicesCommand(opts),
		r.versionCommand(),
	)
	return root
}

// env is what every command past argument parsing needs.
type env struct {
	loaded config.Loaded
	logger *slog.Logger
	close  func()
}

func (e *env) cfg() config.Config { return e.loaded.Config }

// prepare loads config and opens the log. Config warnings go to stderr and the log.
func (r Runner) prepare(cmd *cobra.Command, opts *options) (*env, error) {
	loaded, err := config.Load(opts.configPath)
	if err != nil {
		return nil, failed(err)
	}

	logRuntime, err := logging.New(logging.ParseLevel(loaded.Config.Log.Level))
	if err != nil {
		return nil, failed(fmt.Errorf("setup logging: %w", err))
	}
	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	for _, w := range loaded.Warnings {
		fmt.Fprintf(r.Stderr, "warning: %s\n", w.Message)
		logger.Warn("config warning", "key", w.Key, "message", w.Message)
	}
	logger.Info("command start",
		"command", cmd.Name(),
		"config", loaded.Path,
		"log", logRuntime.Path,
	)

	return &env{
		loaded: loaded,
		logger: logger,
		close:  func() { _ = logRuntime.Close() },
	}, nil
}

func (r Runner) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			fmt.Fprintln(r.Stdout, version.String())
		},
	}
}

func (r Runner) statusCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the kiosk's current screen and session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := r.prepare(cmd, opts)
			if err != nil {
				return err
			}
			defer e.close()

			socketPath, err := ipc.ResolveSocketPath(e.cfg().Terminal.Socket)
			if err != nil {
				fmt.Fprintln(r.Stdout, "offline")
				return nil
			}
			resp, handled, err := tryForward(cmd.Context(), socketPath, ipc.Request{Command: ipc.CommandStatus}, 500*time.Millisecond)
			if !handled {
				fmt.Fprintln(r.Stdout, "offline")
				return nil
			}
			if err != nil {
				return failed(err)
			}
			line := resp.Message
			if line == "" {
				line = "screen=" + resp.State
			}
			fmt.Fprintln(r.Stdout, line)
			return nil
		},
	}
}

func (r Runner) pressCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "press <key>...",
		Short: "Press keypad keys on the running kiosk",
		Long: `Press keypad keys on the running kiosk, in order, over one connection.

Keys are digits, "enter", "clear" or "cancel". A run of digits is pressed one digit at a time,
so "teller press 1234 enter" types a PIN and submits it.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := expandKeys(args)
			if err != nil {
				return err
			}

			e, err := r.prepare(cmd, opts)
			if err != nil {
				return err
			}
			defer e.close()

			// Remote calls run inside the press, so the round trip can take a full bank request.
			timeout := e.cfg().Bank.RequestTimeout + 5*time.Second
			conn, err := r.dialKiosk(cmd.Context(), e.cfg(), timeout)
			if err != nil {
				return err
			}
			defer conn.Close()

			var last ipc.Response
			for _, key := range keys {
				resp, err := conn.Send(ipc.Press(key))
				if err != nil {
					return failed(fmt.Errorf("press %s: %w", key, err))
				}
				if !resp.OK {
					return failed(fmt.Errorf("press %s on %s: %s", key, resp.State, resp.Error))
				}
				e.logger.Debug("key pressed", "key", key, "screen", resp.State)
				last = resp
			}

			msg := fmt.Sprintf("pressed %d key(s), screen %s", len(keys), last.State)
			fmt.Fprintln(r.Stdout, screen.Banner(true, msg, screen.Styled(r.Stdout, e.cfg().Display.NoColor)))
			return nil
		},
	}
}

func (r Runner) insertCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "insert <card-number>",
		Short: "Insert a card into the simulated card reader",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := r.prepare(cmd, opts)
			if err != nil {
				return err
			}
			defer e.close()

			conn, err := r.dialKiosk(cmd.Context(), e.cfg(), 2*time.Second)
			if err != nil {
				return err
			}
			defer conn.Close()

			resp, err := conn.Send(ipc.Insert(args[0]))
			if err != nil {
				return failed(fmt.Errorf("insert card: %w", err))
			}
			if !resp.OK {
				return failed(errors.New(resp.Error))
			}
			fmt.Fprintln(r.Stdout, screen.Banner(true, resp.Message, screen.Styled(r.Stdout, e.cfg().Display.NoColor)))
			return nil
		},
	}
}

func (r Runner) doctorCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run configuration and environment checks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := r.prepare(cmd, opts)
			if err != nil {
				return err
			}
			defer e.close()

			report := doctor.Run(cmd.Context(), e.loaded)
			fmt.Fprintln(r.Stdout, report.String())
			if !report.OK() {
				return &exitError{code: 1}
			}
			return nil
		},
	}
}

func (r Runner) devicesCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio output sinks for cues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := r.prepare(cmd, opts)
			if err != nil {
				return err
			}
			defer e.close()

			devices, err := audio.ListDevices(cmd.Context())
			if err != nil {
				return failed(err)
			}
			if len(devices) == 0 {
				fmt.Fprintln(r.Stdout, "no audio output devices found")
				return &exitError{code: 1}
			}

			for _, device := range devices {
				defaultMark := " "
				if device.Default {
					defaultMark = "*"
				}
				fmt.Fprintf(
					r.Stdout,
					"%s id=%s | description=%q | state=%s | available=%s | muted=%s\n",
					defaultMark,
					device.ID,
					device.Description,
					device.State,
					yesNo(device.Available),
					yesNo(device.Muted),
				)
			}
			return nil
		},
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// expandKeys validates key arguments and splits digit runs into single digits.
func expandKeys(args []string) ([]string, error) {
	var keys []string
	for _, arg := range args {
		arg = strings.ToLower(strings.TrimSpace(arg))
		if arg != "" && strings.Trim(arg, "0123456789") == "" {
			for _, d := range arg {
				keys = append(keys, string(d))
			}
			continue
		}
		if _, err := flow.ParseInput(arg); err != nil {
			return nil, err
		}
		keys = append(keys, arg)
	}
	return keys, nil
}

// dialKiosk opens one keypad connection to the running kiosk.
func (r Runner) dialKiosk(ctx context.Context, cfg config.Config, timeout time.Duration) (*ipc.Conn, error) {
	socketPath, err := ipc.ResolveSocketPath(cfg.Terminal.Socket)
	if err != nil {
		return nil, failed(err)
	}
	conn, err := ipc.Dial(ctx, socketPath, timeout)
	if err != nil {
		if isSocketMissing(err) || isConnectionRefused(err) {
			return nil, failed(errNoKiosk)
		}
		return nil, failed(fmt.Errorf("connect kiosk: %w", err))
	}
	return conn, nil
}

func tryForward(ctx context.Context, socketPath string, req ipc.Request, timeout time.Duration) (ipc.Response, bool, error) {
	resp, err := ipc.Send(ctx, socketPath, req, timeout)
	if err == nil {
		if resp.OK {
			return resp, true, nil
		}
		return resp, true, errors.New(resp.Error)
	}

	if isSocketMissing(err) {
		return ipc.Response{}, false, nil
	}
	if isConnectionRefused(err) {
		return ipc.Response{}, false, nil
	}

	return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", req.Command, err)
}

func isSocketMissing(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, os.ErrNotExist) ||
		strings.Contains(err.Error(), "no such file or directory")
}

func isConnectionRefused(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}
