package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/walink/internal/errs"
	"github.com/nextlevelbuilder/walink/internal/jid"
	"github.com/nextlevelbuilder/walink/internal/media"
	"github.com/nextlevelbuilder/walink/internal/messages"
)

// resolveTarget accepts a JID or a phone number.
func resolveTarget(target, countryCode string) (string, error) {
	target = strings.TrimSpace(target)
	if jid.IsAddressable(target) {
		return target, nil
	}
	j := jid.FormatPhoneNumber(target, countryCode, true)
	if !jid.IsUserJID(j) {
		return "", fmt.Errorf("%w: %q is not a phone number or JID", errs.ErrInvalidInput, target)
	}
	return j, nil
}

func sendCmd() *cobra.Command {
	var (
		phone, message, country string
		replyTo                 string
		ephemeral               time.Duration
		mediaPath, caption      string
		viewOnce, noPreview     bool
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a text or media message",
		Example: `  walink send --phone +15551234567 --message "Hello"
  walink send --phone 120363000000000000@g.us --media ./report.pdf --caption "Q3"`,
		Run: func(cmd *cobra.Command, args []string) {
			to, err := resolveTarget(phone, country)
			if err != nil {
				fail(err)
			}
			if message == "" && mediaPath == "" {
				fail(fmt.Errorf("%w: --message or --media is required", errs.ErrInvalidInput))
			}

			ctx, cancel := signalContext()
			defer cancel()
			a := mustApp(ctx)
			defer a.Close()
			a.mustConnect(ctx)

			if mediaPath != "" {
				res, err := a.client.SendMedia(ctx, to, mediaPath, "", media.Options{Caption: caption, ViewOnce: viewOnce})
				if err != nil {
					a.fail(err)
				}
				fmt.Printf("Sent %s %s to %s (id %s)\n", res.MediaType, res.FileName, to, res.MessageID)
				return
			}

			h, err := a.client.Messages()
			if err != nil {
				a.fail(err)
			}
			var res *messages.SendResult
			opts := messages.TextOptions{ViewOnce: viewOnce, DisableLinkPreview: noPreview}
			switch {
			case ephemeral > 0:
				res, err = h.SendEphemeral(ctx, to, message, ephemeral)
			case replyTo != "":
				res, err = h.Reply(ctx, to, replyTo, message, opts)
			default:
				res, err = h.SendText(ctx, to, message, opts)
			}
			if err != nil {
				a.fail(err)
			}
			fmt.Printf("Message sent to %s (id %s)\n", jid.MaskPhoneNumber(jid.ExtractNumber(to)), res.MessageID)
		},
	}
	cmd.Flags().StringVar(&phone, "phone", "", "recipient phone number or JID")
	cmd.Flags().StringVar(&message, "message", "", "message text")
	cmd.Flags().StringVar(&country, "country", "", "country code for numbers without one (e.g. US or 44)")
	cmd.Flags().StringVar(&replyTo, "reply-to", "", "quote this message id")
	cmd.Flags().DurationVar(&ephemeral, "ephemeral", 0, "disappear after this long (1m to 24h)")
	cmd.Flags().StringVar(&mediaPath, "media", "", "send this file instead of text")
	cmd.Flags().StringVar(&caption, "caption", "", "media caption")
	cmd.Flags().BoolVar(&viewOnce, "view-once", false, "view once")
	cmd.Flags().BoolVar(&noPreview, "no-preview", false, "disable link preview")
	_ = cmd.MarkFlagRequired("phone")
	return cmd
}
