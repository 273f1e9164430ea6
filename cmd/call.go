package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/walink/internal/jid"
)

func callCmd() *cobra.Command {
	var (
		to, country string
		hangupAfter time.Duration
	)
	cmd := &cobra.Command{
		Use:   "call",
		Short: "Place a voice call",
		Run: func(cmd *cobra.Command, args []string) {
			target, err := resolveTarget(to, country)
			if err != nil {
				fail(err)
			}

			ctx, cancel := signalContext()
			defer cancel()
			a := mustApp(ctx)
			defer a.Close()
			a.mustConnect(ctx)

			call, err := a.client.OfferCall(ctx, target)
			if err != nil {
				a.fail(err)
			}
			fmt.Printf("Calling %s (call %s)\n", jid.MaskPhoneNumber(jid.ExtractNumber(target)), call.CallID)
			if hangupAfter <= 0 {
				return
			}

			select {
			case <-time.After(hangupAfter):
			case <-ctx.Done():
			}
			m, err := a.client.Calls()
			if err != nil {
				a.fail(err)
			}
			// The remote side may have ended the call already.
			if cur, err := m.Info(call.CallID); err == nil && !cur.Status.Active() {
				fmt.Printf("Call %s: %s\n", cur.CallID, cur.Status)
				return
			}
			// ctx may already be cancelled by Ctrl+C; still hang up.
			endCtx, endCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer endCancel()
			ended, err := m.End(endCtx, call.CallID)
			if err != nil {
				a.fail(err)
			}
			fmt.Printf("Call ended after %ds\n", ended.Duration)
		},
	}
	cmd.Flags().StringVar(&to, "jid", "", "JID or phone number to call")
	cmd.Flags().StringVar(&country, "country", "", "country code for numbers without one")
	cmd.Flags().DurationVar(&hangupAfter, "hangup-after", 0, "end the call after this long (0 = leave ringing)")
	_ = cmd.MarkFlagRequired("jid")
	return cmd
}
