package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/walink/internal/jid"
	"github.com/nextlevelbuilder/walink/internal/pairing"
)

func pairCmd() *cobra.Command {
	var phone, code string
	var hyphenated bool
	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Link a phone with a pairing code instead of a QR scan",
		Long: `Request a pairing code for a phone number. Enter the code on the phone
(Linked devices > Link with phone number), then run "walink pair verify" and
"walink pair complete".`,
		Run: func(cmd *cobra.Command, args []string) {
			if phone == "" {
				var err error
				if phone, err = promptPhone("Phone number to link"); err != nil {
					fmt.Println("Cancelled.")
					return
				}
			}
			if code == "" && hyphenated {
				code = pairing.GenerateCode(pairing.CodeLength, true)
			}

			ctx, cancel := signalContext()
			defer cancel()
			a := mustApp(ctx)
			defer a.Close()

			res, err := a.client.Pairing().RequestCode(ctx, phone, code)
			if err != nil {
				a.fail(err)
			}
			fmt.Printf("Pairing code for %s: %s\n", jid.MaskPhoneNumber(res.Number), titleStyle.Render(res.PairingCode))
			fmt.Printf("Pairing ID: %s (expires in %s)\n", res.PairingID, a.cfg.CodeTTL())
		},
	}
	cmd.Flags().StringVar(&phone, "phone", "", "phone number to pair")
	cmd.Flags().StringVar(&code, "code", "", "custom pairing code (A-F, at least 4 characters)")
	cmd.Flags().BoolVar(&hyphenated, "hyphenated", false, "generate the code as XXXX-XXXX")

	cmd.AddCommand(pairVerifyCmd())
	cmd.AddCommand(pairStepCmd("complete", "Finish a verified pairing and mint device credentials", (*pairing.Registry).Complete, pairing.StatusVerified))
	cmd.AddCommand(pairStepCmd("revoke", "Revoke a pairing", (*pairing.Registry).Revoke, ""))
	cmd.AddCommand(pairListCmd())
	cmd.AddCommand(pairStatsCmd())
	cmd.AddCommand(pairCleanupCmd())
	return cmd
}

func pairVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify [pairing-id] [code]",
		Short: "Verify the code shown on the phone",
		Args:  cobra.MaximumNArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := signalContext()
			defer cancel()
			a := mustApp(ctx)
			defer a.Close()
			reg := a.client.Pairing()

			id, code := argAt(args, 0), argAt(args, 1)
			if id == "" {
				if id = selectPairing(reg, pairing.StatusRequested); id == "" {
					return
				}
			}
			if code == "" {
				var err error
				if code, err = promptPairingCode(); err != nil {
					fmt.Println("Cancelled.")
					return
				}
			}

			req, err := reg.Verify(ctx, id, code)
			if err != nil {
				a.fail(err)
			}
			fmt.Printf("Pairing %s verified. Run: walink pair complete %s\n", req.PairingID, req.PairingID)
		},
	}
}

type pairStep func(r *pairing.Registry, ctx context.Context, pairingID string) (*pairing.Request, error)

func pairStepCmd(use, short string, step pairStep, pickFrom pairing.Status) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [pairing-id]",
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := signalContext()
			defer cancel()
			a := mustApp(ctx)
			defer a.Close()
			reg := a.client.Pairing()

			id := argAt(args, 0)
			if id == "" {
				if id = selectPairing(reg, pickFrom); id == "" {
					return
				}
				if use == "revoke" {
					if ok, err := promptConfirm("Revoke "+id+"?", false); err != nil || !ok {
						fmt.Println("Cancelled.")
						return
					}
				}
			}

			req, err := step(reg, ctx, id)
			if err != nil {
				a.fail(err)
			}
			fmt.Printf("Pairing %s: %s\n", req.PairingID, req.Status)
			if req.AuthTokens != nil {
				fmt.Printf("Device ID: %s\n", req.AuthTokens.DeviceID)
			}
		},
	}
}

// selectPairing lets the user pick a request, optionally only those in status.
func selectPairing(reg *pairing.Registry, status pairing.Status) string {
	var options []SelectOption[string]
	for _, r := range reg.List() {
		if status != "" && r.Status != status {
			continue
		}
		label := fmt.Sprintf("%s  %s  %s  (%s ago)", r.PairingID[:8], jid.MaskPhoneNumber(r.Number), r.Status,
			time.Since(r.RequestedAt).Truncate(time.Second))
		options = append(options, SelectOption[string]{Label: label, Value: r.PairingID})
	}
	if len(options) == 0 {
		fmt.Println("No matching pairing requests.")
		return ""
	}
	id, err := promptSelect("Select a pairing request", options, 0)
	if err != nil {
		fmt.Println("Cancelled.")
		return ""
	}
	return id
}

func pairListCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pairing requests",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			reg := pairing.NewRegistry(nil, cfg.Pairing.StorePath)
			list := reg.List()
			if jsonOutput {
				data, _ := json.MarshalIndent(list, "", "  ")
				fmt.Println(string(data))
				return
			}
			if len(list) == 0 {
				fmt.Println("No pairing requests.")
				return
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNUMBER\tSTATUS\tREQUESTED\tEXPIRES")
			for _, r := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.PairingID, jid.MaskPhoneNumber(r.Number), r.Status,
					r.RequestedAt.Local().Format("2006-01-02 15:04"), r.ExpiresAt.Local().Format("15:04"))
			}
			tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func pairStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show pairing statistics",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			st := pairing.NewRegistry(nil, cfg.Pairing.StorePath).Statistics()
			data, _ := json.MarshalIndent(st, "", "  ")
			fmt.Println(string(data))
		},
	}
}

func pairCleanupCmd() *cobra.Command {
	var schedule string
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Expire stale pairing requests (once, or on a cron schedule)",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			reg := pairing.NewRegistry(nil, cfg.Pairing.StorePath)
			reg.SetTTL(cfg.CodeTTL())
			if schedule == "" {
				fmt.Printf("Expired %d pairing request(s).\n", reg.CleanupExpired())
				return
			}
			ctx, cancel := signalContext()
			defer cancel()
			fmt.Printf("Running cleanup on %q until interrupted.\n", schedule)
			if err := reg.RunCleanup(ctx, schedule); err != nil {
				fail(err)
			}
		},
	}
	cmd.Flags().StringVar(&schedule, "schedule", "", "cron expression, e.g. \""+pairing.DefaultCleanupSchedule+"\"")
	return cmd
}

func argAt(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}
