package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/adrg/xdg"
	"github.com/charmbracelet/lipgloss"
	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/r3d91ll/llm-chat-simulator/internal/conversation"
	"github.com/r3d91ll/llm-chat-simulator/internal/engine"
)

var (
	chatSession string
	chatTurns   int
)

const chatHelp = `Run a debate in the terminal. Type a topic to start; the bots then take
the configured number of turns. Commands:

  /next              one more turn
  /auto N            N more turns
  /personas          show personas
  /personas a TEXT   replace Bot A's persona (b for Bot B)
  /max-tokens N      per-turn generation cap
  /transcript        print the whole conversation
  /reset             start over
  /quit              exit`

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Run a debate in the terminal",
	Long:  chatHelp,
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatSession, "session", "", "resume a stored session id")
	chatCmd.Flags().IntVarP(&chatTurns, "turns", "t", 4, "bot turns after each topic")
	rootCmd.AddCommand(chatCmd)
}

var (
	styleUser   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	styleBotA   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	styleBotB   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	styleSystem = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleError  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

func roleLabel(r conversation.Role) string {
	switch r {
	case conversation.RoleBotA:
		return styleBotA.Render(r.Label() + ">")
	case conversation.RoleBotB:
		return styleBotB.Render(r.Label() + ">")
	default:
		return styleUser.Render(r.Label() + ">")
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// Logs would interleave with the transcript, so only warnings and up.
	if logLevel == "" && cfg.Log.Level != "debug" {
		cfg.Log.Level = "warn"
	}

	a, err := newApp(cmd.Context(), cfg, stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	session := chatSession
	if session == "" {
		session = uuid.NewString()
	}

	r := &repl{svc: a.service, session: session, turns: chatTurns, out: cmd.OutOrStdout()}

	fmt.Fprintf(r.out, "chatsim %s  model %s at %s\n", Version, a.client.Model(), a.client.BaseURL())
	fmt.Fprintln(r.out, styleSystem.Render("session "+session+"  (type a topic, /help for commands)"))
	if !a.client.IsAvailable(cmd.Context()) {
		fmt.Fprintln(r.out, styleError.Render("Warning: completion server not reachable"))
	}
	if chatSession != "" {
		r.printTranscript(cmd.Context())
	}

	return r.run(cmd.Context())
}

// repl drives one session from terminal input.
type repl struct {
	svc     *engine.Service
	session string
	turns   int
	out     io.Writer
}

func (r *repl) run(ctx context.Context) error {
	historyFile, err := xdg.StateFile("chatsim/history")
	if err != nil {
		historyFile = ""
	}

	completer := readline.NewPrefixCompleter(
		readline.PcItem("/help"),
		readline.PcItem("/next"),
		readline.PcItem("/auto"),
		readline.PcItem("/personas",
			readline.PcItem("a"),
			readline.PcItem("b"),
		),
		readline.PcItem("/max-tokens"),
		readline.PcItem("/transcript"),
		readline.PcItem("/reset"),
		readline.PcItem("/quit"),
	)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            styleUser.Render("You>") + " ",
		HistoryFile:       historyFile,
		HistoryLimit:      1000,
		AutoComplete:      completer,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing readline: %v\n", err)
		return r.runBasic(ctx, os.Stdin)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if len(line) == 0 {
				fmt.Fprintln(r.out, "Use /quit to exit or Ctrl+D")
			}
			continue
		} else if errors.Is(err, io.EOF) {
			fmt.Fprintln(r.out, "Goodbye!")
			return nil
		} else if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}

		if r.handle(ctx, line) {
			return nil
		}
	}
}

// runBasic is a fallback when readline isn't available.
func (r *repl) runBasic(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(r.out, styleUser.Render("You>")+" ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		if r.handle(ctx, scanner.Text()) {
			return nil
		}
	}
}

// handle processes one input line and reports whether to quit.
func (r *repl) handle(ctx context.Context, line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return false
	}

	if !strings.HasPrefix(input, "/") {
		if _, err := r.svc.Seed(ctx, r.session, input, r.turns); err != nil {
			r.printError(err)
			return false
		}
		r.autoPlay(ctx)
		return false
	}

	fields := strings.Fields(input)
	switch fields[0] {
	case "/quit", "/exit":
		fmt.Fprintln(r.out, "Goodbye!")
		return true
	case "/help":
		fmt.Fprintln(r.out, chatHelp)
	case "/next":
		r.step(ctx, 1)
	case "/auto":
		n, err := intArg(fields)
		if err != nil || n < 1 {
			r.printError(errors.New("usage: /auto N"))
			return false
		}
		r.step(ctx, n)
	case "/personas":
		r.personas(ctx, input, fields)
	case "/max-tokens":
		n, err := intArg(fields)
		if err != nil {
			r.printError(errors.New("usage: /max-tokens N"))
			return false
		}
		if _, err := r.svc.SetMaxTokens(ctx, r.session, n); err != nil {
			r.printError(err)
			return false
		}
		fmt.Fprintln(r.out, styleSystem.Render(fmt.Sprintf("max tokens set to %d", n)))
	case "/transcript":
		r.printTranscript(ctx)
	case "/reset":
		if _, err := r.svc.Reset(ctx, r.session); err != nil {
			r.printError(err)
			return false
		}
		fmt.Fprintln(r.out, styleSystem.Render("conversation reset"))
	default:
		r.printError(fmt.Errorf("unknown command %s (try /help)", fields[0]))
	}
	return false
}

// autoPlay ticks until the session's auto-turn budget is spent.
func (r *repl) autoPlay(ctx context.Context) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	for {
		st, err := r.svc.Snapshot(ctx, r.session)
		if err != nil {
			r.printError(err)
			return
		}
		if st.AutoTurnsLeft == 0 || ctx.Err() != nil {
			return
		}
		if !r.tick(ctx) {
			return
		}
	}
}

// step produces n turns regardless of the budget.
func (r *repl) step(ctx context.Context, n int) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	for i := 0; i < n && ctx.Err() == nil; i++ {
		if !r.tick(ctx) {
			return
		}
	}
}

func (r *repl) tick(ctx context.Context) bool {
	fmt.Fprint(r.out, styleSystem.Render("thinking..."))
	turn, err := r.svc.Tick(ctx, r.session)
	fmt.Fprint(r.out, "\r\033[K")
	if err != nil {
		switch {
		case errors.Is(err, conversation.ErrNoMessages):
			r.printError(errors.New("type a topic first"))
		case errors.Is(err, context.Canceled):
			fmt.Fprintln(r.out, styleSystem.Render("interrupted"))
		default:
			r.printError(err)
		}
		return false
	}
	fmt.Fprintf(r.out, "%s %s\n\n", roleLabel(turn.Message.Role), turn.Message.Text)
	return true
}

// personas shows both personas, or replaces one with the raw text after the
// a/b argument so its spacing survives.
func (r *repl) personas(ctx context.Context, input string, fields []string) {
	st, err := r.svc.Snapshot(ctx, r.session)
	if err != nil {
		r.printError(err)
		return
	}
	if len(fields) == 1 {
		fmt.Fprintf(r.out, "%s %s\n%s %s\n", roleLabel(conversation.RoleBotA), st.PersonaA, roleLabel(conversation.RoleBotB), st.PersonaB)
		return
	}

	rest := strings.TrimSpace(strings.TrimPrefix(input, fields[0]))
	text := strings.TrimSpace(strings.TrimPrefix(rest, fields[1]))
	a, b := st.PersonaA, st.PersonaB
	switch strings.ToLower(fields[1]) {
	case "a":
		a = text
	case "b":
		b = text
	default:
		r.printError(errors.New("usage: /personas [a|b TEXT]"))
		return
	}
	if _, err := r.svc.UpdatePersonas(ctx, r.session, a, b); err != nil {
		r.printError(err)
		return
	}
	fmt.Fprintln(r.out, styleSystem.Render("persona updated"))
}

func (r *repl) printTranscript(ctx context.Context) {
	st, err := r.svc.Snapshot(ctx, r.session)
	if err != nil {
		r.printError(err)
		return
	}
	if len(st.Messages) == 0 {
		fmt.Fprintln(r.out, styleSystem.Render("(empty conversation)"))
		return
	}
	for _, m := range st.Messages {
		fmt.Fprintf(r.out, "%s %s\n\n", roleLabel(m.Role), m.Text)
	}
}

func (r *repl) printError(err error) {
	fmt.Fprintln(r.out, styleError.Render("Error: "+err.Error()))
}

func intArg(fields []string) (int, error) {
	if len(fields) < 2 {
		return 0, errors.New("missing argument")
	}
	return strconv.Atoi(fields[1])
}
