package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/walink/internal/errs"
	"github.com/nextlevelbuilder/walink/internal/media"
	"github.com/nextlevelbuilder/walink/internal/messages"
)

// parseButton reads "id:text" (or bare "text", id derived from position).
func parseButton(s string, i int) messages.Button {
	if id, text, ok := strings.Cut(s, ":"); ok && id != "" && text != "" {
		return messages.NewButton(text, id)
	}
	return messages.NewButton(s, fmt.Sprintf("btn_%d", i+1))
}

// parseListItem reads "title|description|value"; trailing parts are optional.
func parseListItem(s string) messages.ListItem {
	parts := strings.SplitN(s, "|", 3)
	for len(parts) < 3 {
		parts = append(parts, "")
	}
	return messages.NewListItem(parts[0], parts[1], parts[2])
}

func interactiveMessageCmd() *cobra.Command {
	var (
		to, message, caption, mediaType, mediaPath, country string
		buttons, items, pollOptions                         []string
		multiAnswer, viewOnce                               bool
	)
	cmd := &cobra.Command{
		Use:   "interactive-message",
		Short: "Send buttons, a list, a poll, or media with a caption",
		Example: `  walink interactive-message --jid +15551234567 --message "Pick one" --button yes:Yes --button no:No
  walink interactive-message --jid +15551234567 --message "When?" --item "Today|after 5pm" --item "Next Week"
  walink interactive-message --jid 120363000000000000@g.us --message "Lunch?" --poll Pizza --poll Sushi
  walink interactive-message --jid +15551234567 --message "Report" --media-path ./q3.pdf --media-type document`,
		Run: func(cmd *cobra.Command, args []string) {
			target, err := resolveTarget(to, country)
			if err != nil {
				fail(err)
			}
			if mediaType != "" && !media.Type(mediaType).Valid() {
				fail(fmt.Errorf("%w: unknown media type %q", errs.ErrInvalidInput, mediaType))
			}

			ctx, cancel := signalContext()
			defer cancel()
			a := mustApp(ctx)
			defer a.Close()
			a.mustConnect(ctx)

			if mediaPath != "" {
				if caption == "" {
					caption = message
				}
				res, err := a.client.SendMedia(ctx, target, mediaPath, media.Type(mediaType), media.Options{Caption: caption, ViewOnce: viewOnce})
				if err != nil {
					a.fail(err)
				}
				fmt.Printf("Sent %s %s (id %s)\n", res.MediaType, res.FileName, res.MessageID)
				return
			}

			h, err := a.client.Messages()
			if err != nil {
				a.fail(err)
			}
			var res *messages.SendResult
			if len(pollOptions) > 0 {
				res, err = h.SendPoll(ctx, target, message, pollOptions, multiAnswer)
			} else {
				btns := make([]messages.Button, 0, len(buttons))
				for i, b := range buttons {
					btns = append(btns, parseButton(b, i))
				}
				rows := make([]messages.ListItem, 0, len(items))
				for _, it := range items {
					rows = append(rows, parseListItem(it))
				}
				res, err = h.SendInteractive(ctx, target, message, btns, rows, viewOnce)
			}
			if err != nil {
				a.fail(err)
			}
			kind := res.InteractiveType
			if kind == "" {
				kind = "message"
			}
			fmt.Printf("Sent %s (id %s)\n", kind, res.MessageID)
		},
	}
	cmd.Flags().StringVar(&to, "jid", "", "recipient JID or phone number")
	cmd.Flags().StringVar(&message, "message", "", "message text (poll question for --poll)")
	cmd.Flags().StringVar(&country, "country", "", "country code for numbers without one")
	cmd.Flags().StringArrayVar(&buttons, "button", nil, "reply button as id:text (repeatable)")
	cmd.Flags().StringArrayVar(&items, "item", nil, "list item as title|description|value (repeatable)")
	cmd.Flags().StringArrayVar(&pollOptions, "poll", nil, "poll option (repeatable, 2 to 12)")
	cmd.Flags().BoolVar(&multiAnswer, "multiple", false, "allow several poll answers")
	cmd.Flags().StringVar(&caption, "caption", "", "media caption (defaults to --message)")
	cmd.Flags().StringVar(&mediaType, "media-type", "", "image, video, audio, document or sticker (detected when empty)")
	cmd.Flags().StringVar(&mediaPath, "media-path", "", "media file to send")
	cmd.Flags().BoolVar(&viewOnce, "view-once", false, "view once")
	_ = cmd.MarkFlagRequired("jid")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}
