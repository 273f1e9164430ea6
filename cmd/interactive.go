package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/walink/internal/bus"
	"github.com/nextlevelbuilder/walink/internal/client"
	"github.com/nextlevelbuilder/walink/internal/config"
	"github.com/nextlevelbuilder/walink/internal/errs"
	"github.com/nextlevelbuilder/walink/internal/groups"
	"github.com/nextlevelbuilder/walink/internal/jid"
	"github.com/nextlevelbuilder/walink/internal/media"
	"github.com/nextlevelbuilder/walink/internal/messages"
	"github.com/nextlevelbuilder/walink/pkg/protocol"
)

const replHelp = `Commands:
  status                         show connection status
  send <phone|jid> <text...>     send a text message
  media <phone|jid> <path> [caption]
  poll <phone|jid> <question> <option> <option>...
  react <phone|jid> <message-id> <emoji>
  call <phone|jid>               place a call
  hangup <call-id>               end a call
  calls                          list active calls
  groups                         list known groups
  group-create <name> <phone|jid>...
  help                           this text
  quit                           exit
Quote arguments containing spaces: send +15551234567 "Hello World"`

var errQuit = errors.New("quit")

func interactiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "interactive",
		Short: "Interactive shell on a connected session",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := signalContext()
			defer cancel()
			a := mustApp(ctx)
			defer a.Close()
			a.mustConnect(ctx)

			stopWatch := watchConfig(a)
			defer stopWatch()

			r := &repl{client: a.client, out: os.Stdout}
			unsub := a.client.On(bus.AllEvents, r.printEvent)
			defer unsub()

			fmt.Println("walink interactive mode. Type 'help' for commands, 'quit' to exit.")

			runCtx, stop := context.WithCancel(ctx)
			g, gctx := errgroup.WithContext(runCtx)
			g.Go(func() error {
				err := a.client.Pairing().RunCleanup(gctx, a.cfg.Pairing.CleanupSchedule)
				if err != nil && !errors.Is(err, context.Canceled) {
					slog.Warn("pairing cleanup stopped", "error", err)
				}
				return nil
			})
			g.Go(func() error {
				defer stop()
				r.run(gctx, os.Stdin)
				return nil
			})
			g.Wait()
			fmt.Println("Goodbye!")
		},
	}
}

// watchConfig applies rate limit and log level changes without a restart.
func watchConfig(a *app) func() {
	w, err := config.NewWatcher(resolveConfigPath())
	if err != nil {
		slog.Warn("config watcher unavailable", "error", err)
		return func() {}
	}
	w.OnChange(func(c config.Change) {
		if c.BackendChanged() {
			a.transport.SetRateLimit(c.New.Backend.RateLimit, c.New.Backend.Burst)
		}
		if c.LoggingChanged() && !verbose {
			logLevel.Set(parseLevel(c.New.Logging.Level))
		}
	})
	if err := w.Start(); err != nil {
		slog.Warn("config watcher unavailable", "error", err)
		return func() {}
	}
	return w.Stop
}

type repl struct {
	client  *client.Client
	out     io.Writer
	country string
}

func (r *repl) run(ctx context.Context, in io.Reader) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		fmt.Fprint(r.out, "walink> ")
		var line string
		select {
		case <-ctx.Done():
			return
		case l, ok := <-lines:
			if !ok {
				return
			}
			line = l
		}
		if err := r.exec(ctx, line); err != nil {
			if errors.Is(err, errQuit) {
				return
			}
			fmt.Fprintf(r.out, "Error: %s\n", err)
		}
	}
}

func (r *repl) exec(ctx context.Context, line string) error {
	args, err := shellwords.Parse(strings.TrimSpace(line))
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
	}
	if len(args) == 0 {
		return nil
	}

	switch cmd := strings.ToLower(args[0]); cmd {
	case "quit", "exit", "q":
		return errQuit
	case "help", "?":
		fmt.Fprintln(r.out, replHelp)
		return nil
	case "status":
		fmt.Fprintln(r.out, renderStatus(r.client.ConnectionInfo()))
		return nil
	case "send":
		return r.send(ctx, args[1:])
	case "media":
		return r.media(ctx, args[1:])
	case "poll":
		return r.poll(ctx, args[1:])
	case "react":
		return r.react(ctx, args[1:])
	case "call":
		return r.call(ctx, args[1:])
	case "hangup":
		return r.hangup(ctx, args[1:])
	case "calls":
		return r.calls()
	case "groups":
		list, err := r.client.ListGroups()
		if err != nil {
			return err
		}
		printGroups(r.out, list)
		return nil
	case "group-create":
		return r.groupCreate(ctx, args[1:])
	default:
		return fmt.Errorf("unknown command %q (type 'help')", cmd)
	}
}

func usage(u string) error {
	return fmt.Errorf("%w: usage: %s", errs.ErrInvalidInput, u)
}

func (r *repl) send(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return usage("send <phone|jid> <text...>")
	}
	to, err := resolveTarget(args[0], r.country)
	if err != nil {
		return err
	}
	res, err := r.client.SendMessage(ctx, to, strings.Join(args[1:], " "), messages.TextOptions{})
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Message sent to %s (id %s)\n", args[0], res.MessageID)
	return nil
}

func (r *repl) media(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return usage("media <phone|jid> <path> [caption]")
	}
	to, err := resolveTarget(args[0], r.country)
	if err != nil {
		return err
	}
	res, err := r.client.SendMedia(ctx, to, args[1], "", media.Options{Caption: strings.Join(args[2:], " ")})
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Sent %s %s (id %s)\n", res.MediaType, res.FileName, res.MessageID)
	return nil
}

func (r *repl) poll(ctx context.Context, args []string) error {
	if len(args) < 4 {
		return usage("poll <phone|jid> <question> <option> <option>...")
	}
	to, err := resolveTarget(args[0], r.country)
	if err != nil {
		return err
	}
	h, err := r.client.Messages()
	if err != nil {
		return err
	}
	res, err := h.SendPoll(ctx, to, args[1], args[2:], false)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Poll sent (id %s)\n", res.MessageID)
	return nil
}

func (r *repl) react(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return usage("react <phone|jid> <message-id> <emoji>")
	}
	to, err := resolveTarget(args[0], r.country)
	if err != nil {
		return err
	}
	h, err := r.client.Messages()
	if err != nil {
		return err
	}
	if _, err := h.React(ctx, to, args[1], args[2]); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Reacted %s\n", args[2])
	return nil
}

func (r *repl) call(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("call <phone|jid>")
	}
	to, err := resolveTarget(args[0], r.country)
	if err != nil {
		return err
	}
	c, err := r.client.OfferCall(ctx, to)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Calling %s (call %s)\n", args[0], c.CallID)
	return nil
}

func (r *repl) hangup(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("hangup <call-id>")
	}
	m, err := r.client.Calls()
	if err != nil {
		return err
	}
	c, err := m.End(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Call %s ended after %ds\n", c.CallID, c.Duration)
	return nil
}

func (r *repl) calls() error {
	m, err := r.client.Calls()
	if err != nil {
		return err
	}
	active := m.Active()
	if len(active) == 0 {
		fmt.Fprintln(r.out, "No active calls.")
		return nil
	}
	now := time.Now()
	for _, c := range active {
		fmt.Fprintf(r.out, "%s  %s  %s  %ds\n", c.CallID, jid.MaskPhoneNumber(jid.ExtractNumber(c.JID)), c.Status, c.DurationAt(now))
	}
	return nil
}

func (r *repl) groupCreate(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return usage("group-create <name> <phone|jid>...")
	}
	members := make([]string, 0, len(args)-1)
	for _, p := range args[1:] {
		j, err := resolveTarget(p, r.country)
		if err != nil {
			return err
		}
		members = append(members, j)
	}
	g, err := r.client.CreateGroup(ctx, args[0], members, groups.CreateOptions{Owner: r.client.ConnectionInfo().PhoneNumber})
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Created %q (%s, %d members)\n", g.Name, g.GroupID, g.MemberCount)
	return nil
}

// printEvent shows backend events that a person at the prompt cares about.
func (r *repl) printEvent(e bus.Event) {
	switch e.Name {
	case protocol.EventMessage:
		var m struct {
			From     string `json:"from"`
			PushName string `json:"push_name"`
			Text     string `json:"text"`
		}
		if e.Decode(&m) == nil && m.Text != "" {
			who := m.PushName
			if who == "" {
				who = jid.MaskPhoneNumber(jid.ExtractNumber(m.From))
			}
			fmt.Fprintf(r.out, "\n[message] %s: %s\n", who, m.Text)
		}
	case protocol.EventCall:
		var c struct {
			CallID string `json:"call_id"`
			From   string `json:"from"`
			Status string `json:"status"`
		}
		if e.Decode(&c) == nil {
			fmt.Fprintf(r.out, "\n[call] %s %s %s\n", c.CallID, jid.MaskPhoneNumber(jid.ExtractNumber(c.From)), c.Status)
		}
	case protocol.EventConnection:
		var c struct {
			State string `json:"state"`
		}
		if e.Decode(&c) == nil {
			fmt.Fprintf(r.out, "\n[connection] %s\n", c.State)
		}
	}
}
