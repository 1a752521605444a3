// Package screen renders the kiosk state as a text frame for the operator terminal.
//
// Styled output (lipgloss borders and colors plus a progress bar for the timeout warning) is used
// only when the writer is a terminal and color is not disabled; otherwise the frame is plain text.
package screen

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/rbright/teller/internal/config"
	"github.com/rbright/teller/internal/fsm"
	"github.com/rbright/teller/internal/idle"
	"github.com/rbright/teller/internal/session"
	"golang.org/x/term"
)

var titles = map[fsm.Screen]string{
	fsm.ScreenWelcome:           "Welcome",
	fsm.ScreenPinEntry:          "Enter PIN",
	fsm.ScreenMainMenu:          "Main menu",
	fsm.ScreenBalanceInquiry:    "Balance",
	fsm.ScreenWithdrawal:        "Withdrawal",
	fsm.ScreenWithdrawalConfirm: "Confirm withdrawal",
	fsm.ScreenWithdrawalReceipt: "Withdrawal receipt",
	fsm.ScreenDeposit:           "Deposit",
	fsm.ScreenDepositReceipt:    "Deposit receipt",
	fsm.ScreenTransfer:          "Transfer",
	fsm.ScreenTransferConfirm:   "Confirm transfer",
	fsm.ScreenTransferReceipt:   "Transfer receipt",
	fsm.ScreenStatement:         "Statement",
	fsm.ScreenPinChange:         "Change PIN",
	fsm.ScreenSessionTimeout:    "Session ended",
	fsm.ScreenError:             "Something went wrong",
	fsm.ScreenMaintenance:       "Out of service",
}

var instructions = map[fsm.Screen]string{
	fsm.ScreenWelcome:        "Insert your card or type the card number and press Enter",
	fsm.ScreenPinEntry:       "Enter your PIN and press Enter",
	fsm.ScreenSessionTimeout: "Your session timed out. Press Enter to start again",
	fsm.ScreenError:          "Press Enter to continue",
	fsm.ScreenMaintenance:    "This machine is temporarily unavailable",
}

// Title is the heading shown for s.
func Title(s fsm.Screen) string {
	if t, ok := titles[s]; ok {
		return t
	}
	return string(s)
}

// Renderer draws frames to one writer.
type Renderer struct {
	out     io.Writer
	styled  bool
	width   int
	warning time.Duration
	bar     progress.Model

	mu   sync.Mutex
	last string
}

// New builds a renderer for out. warning is the idle warning threshold the countdown bar is
// scaled against.
func New(out io.Writer, cfg config.DisplayConfig, warning time.Duration) *Renderer {
	tty, width := terminal(out)
	if !tty || width <= 0 {
		width = cfg.Width
	}
	if width > cfg.Width {
		width = cfg.Width
	}
	return newRenderer(out, Styled(out, cfg.NoColor), width, warning)
}

// Styled reports whether out is a terminal that should get colors.
func Styled(out io.Writer, noColor bool) bool {
	tty, _ := terminal(out)
	return tty && !noColor && os.Getenv("NO_COLOR") == ""
}

func newRenderer(out io.Writer, styled bool, width int, warning time.Duration) *Renderer {
	return &Renderer{
		out:     out,
		styled:  styled,
		width:   width,
		warning: warning,
		bar: progress.New(
			progress.WithDefaultGradient(),
			progress.WithWidth(max(width-16, 10)),
			progress.WithoutPercentage(),
		),
	}
}

func terminal(out io.Writer) (bool, int) {
	f, ok := out.(interface{ Fd() uintptr })
	if !ok {
		return false, 0
	}
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return false, 0
	}
	w, _, err := term.GetSize(fd)
	if err != nil {
		return true, 0
	}
	return true, w
}

// Draw writes the frame when it differs from the last one drawn.
func (r *Renderer) Draw(view session.View, status idle.Status) error {
	frame := r.Frame(view, status)

	r.mu.Lock()
	defer r.mu.Unlock()
	if frame == r.last {
		return nil
	}
	r.last = frame

	if r.styled {
		frame = "\033[H\033[2J" + frame
	} else {
		frame = frame + "\n"
	}
	_, err := io.WriteString(r.out, frame)
	return err
}

// Frame renders one frame without writing it.
func (r *Renderer) Frame(view session.View, status idle.Status) string {
	state := view.State
	body := r.body(view, status)
	if !r.styled {
		rule := strings.Repeat("-", r.width)
		return strings.Join(append([]string{rule, "== " + Title(state.Screen) + " ==", ""}, append(body, rule)...), "\n")
	}

	content := append([]string{styleTitle.Render(Title(state.Screen)), ""}, body...)
	return frameStyle(r.width).Render(strings.Join(content, "\n"))
}

func (r *Renderer) body(view session.View, status idle.Status) []string {
	state, prompt := view.State, view.Prompt
	var lines []string

	if state.Authenticated() {
		lines = append(lines, r.muted(fmt.Sprintf("%s  #%s", state.CustomerName, state.AccountNumber)), "")
	}
	if text, ok := instructions[state.Screen]; ok {
		lines = append(lines, text)
	}
	if state.Screen == fsm.ScreenMaintenance && state.MaintenanceReason != "" {
		lines = append(lines, r.warn(state.MaintenanceReason))
	}
	lines = append(lines, prompt.Lines...)

	if prompt.Label != "" {
		lines = append(lines, "", fmt.Sprintf("%s: %s", prompt.Label, r.entry(prompt.Entry)))
	}
	if prompt.Hint != "" {
		lines = append(lines, r.warn(prompt.Hint))
	}
	if state.LastError != "" {
		lines = append(lines, "", r.failure(state.LastError))
	}
	if state.Loading {
		lines = append(lines, "", r.muted("Please wait..."))
	}
	if status.ShowWarning {
		lines = append(lines, "", r.countdown(status.SecondsLeft))
	}
	return lines
}

func (r *Renderer) countdown(secondsLeft int) string {
	text := fmt.Sprintf("Session ends in %ds. Press any key to continue", secondsLeft)
	if !r.styled {
		return "! " + text
	}
	ratio := 0.0
	if r.warning > 0 {
		ratio = math.Min(1, float64(secondsLeft)/r.warning.Seconds())
	}
	return r.bar.ViewAs(ratio) + "\n" + styleWarning.Render(text)
}

func (r *Renderer) entry(s string) string {
	if s == "" {
		s = "_"
	}
	if !r.styled {
		return s
	}
	return styleEntry.Render(s)
}

func (r *Renderer) muted(s string) string {
	if !r.styled {
		return s
	}
	return styleMuted.Render(s)
}

func (r *Renderer) warn(s string) string {
	if !r.styled {
		return "! " + s
	}
	return styleWarning.Render(s)
}

func (r *Renderer) failure(s string) string {
	if !r.styled {
		return "[ERROR] " + s
	}
	return styleError.Render(s)
}

// Banner is a one-line status message used by the CLI.
func Banner(ok bool, msg string, styled bool) string {
	switch {
	case !styled && ok:
		return "[OK] " + msg
	case !styled:
		return "[FAILED] " + msg
	case ok:
		return styleSuccess.Render("✓ ") + msg
	default:
		return styleError.Render("✗ " + msg)
	}
}
