package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/walink/internal/config"
	"github.com/nextlevelbuilder/walink/internal/crypto"
	"github.com/nextlevelbuilder/walink/internal/jid"
	"github.com/nextlevelbuilder/walink/internal/store"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"session"},
		Short:   "Inspect and remove persisted WhatsApp sessions",
	}
	cmd.AddCommand(sessionsListCmd(), sessionsShowCmd(), sessionsDeleteCmd())
	return cmd
}

// withSessions opens the configured session store for the duration of fn.
func withSessions(fn func(ctx context.Context, s store.SessionStore) error) {
	ctx := context.Background()
	s, err := openSessionStore(ctx, loadConfig())
	if err != nil {
		fail(err)
	}
	defer s.Close()
	if err := fn(ctx, s); err != nil {
		fail(err)
	}
}

func sessionsListCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recently authenticated first",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			withSessions(func(ctx context.Context, s store.SessionStore) error {
				list, err := s.List(ctx)
				if err != nil {
					return err
				}
				sort.SliceStable(list, func(i, j int) bool {
					return list[i].AuthenticatedAt.After(list[j].AuthenticatedAt)
				})
				if asJSON {
					views := make([]sessionView, 0, len(list))
					for i := range list {
						views = append(views, newSessionView(&list[i]))
					}
					return printJSON(views)
				}
				if len(list) == 0 {
					fmt.Println("No sessions stored. Run `walink pair` to link a phone.")
					return nil
				}
				tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tPHONE\tDEVICE\tLINKED")
				for _, sd := range list {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", sd.SessionID, jid.MaskPhoneNumber(sd.PhoneNumber),
						orDash(sd.DeviceID), sinceLinked(sd.AuthenticatedAt))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON (tokens are never included)")
	return cmd
}

func sessionsShowCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show [session-id]",
		Short: "Show one session; defaults to the configured session id",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			id := loadConfig().SessionID
			if len(args) == 1 {
				id = config.NormalizeSessionID(args[0])
			}
			withSessions(func(ctx context.Context, s store.SessionStore) error {
				// List returns tokens as stored, so sealed sessions show without the key.
				list, err := s.List(ctx)
				if err != nil {
					return err
				}
				i := slices.IndexFunc(list, func(sd store.SessionData) bool { return sd.SessionID == id })
				if i < 0 {
					return fmt.Errorf("%q: %w", id, store.ErrSessionNotFound)
				}
				v := newSessionView(&list[i])
				if asJSON {
					return printJSON(v)
				}
				fmt.Printf("Session:   %s\n", v.SessionID)
				fmt.Printf("Phone:     %s\n", v.Phone)
				fmt.Printf("Device:    %s\n", orDash(v.DeviceID))
				fmt.Printf("Linked:    %s (%s)\n", v.AuthenticatedAt.Local().Format(time.RFC1123), sinceLinked(v.AuthenticatedAt))
				fmt.Printf("Token:     %s\n", v.Token)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func sessionsDeleteCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:     "delete <session-id>",
		Aliases: []string{"rm"},
		Short:   "Forget a session; the phone has to be paired again",
		Args:    cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			id := config.NormalizeSessionID(args[0])
			if !yes {
				ok, err := promptConfirm(fmt.Sprintf("Forget session %s? The phone must be linked again.", id), false)
				if err != nil || !ok {
					fmt.Println("Cancelled.")
					return
				}
			}
			withSessions(func(ctx context.Context, s store.SessionStore) error {
				if err := s.Delete(ctx, id); err != nil {
					return err
				}
				fmt.Printf("Session %s removed.\n", id)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

// sessionView is the printable form of store.SessionData; it never carries
// the raw auth token.
type sessionView struct {
	SessionID       string    `json:"session_id"`
	Phone           string    `json:"phone"`
	DeviceID        string    `json:"device_id,omitempty"`
	AuthenticatedAt time.Time `json:"authenticated_at"`
	Token           string    `json:"token"`
}

func newSessionView(sd *store.SessionData) sessionView {
	return sessionView{
		SessionID:       sd.SessionID,
		Phone:           jid.MaskPhoneNumber(sd.PhoneNumber),
		DeviceID:        sd.DeviceID,
		AuthenticatedAt: sd.AuthenticatedAt,
		Token:           tokenState(sd.AuthToken),
	}
}

func tokenState(tok string) string {
	switch {
	case tok == "":
		return "missing"
	case crypto.IsSealed(tok):
		return "sealed"
	default:
		return fmt.Sprintf("present (%d chars)", len(tok))
	}
}

func sinceLinked(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t).Round(time.Minute)
	switch {
	case d < time.Minute:
		return "just now"
	case d < 48*time.Hour:
		return d.String() + " ago"
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
