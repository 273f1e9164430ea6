package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/walink/internal/media"
)

func setProfileCmd() *cobra.Command {
	var imagePath, groupID string
	cmd := &cobra.Command{
		Use:   "set-profile",
		Short: "Set the account (or a group's) profile picture",
		Run: func(cmd *cobra.Command, args []string) {
			// Fail on bad files before dialling the backend.
			info, err := media.Info(imagePath)
			if err != nil {
				fail(err)
			}

			ctx, cancel := signalContext()
			defer cancel()
			a := mustApp(ctx)
			defer a.Close()
			a.mustConnect(ctx)

			var res *media.UpdateResult
			if groupID != "" {
				h, herr := a.client.Media()
				if herr != nil {
					a.fail(herr)
				}
				res, err = h.SetGroupPicture(ctx, groupID, imagePath)
			} else {
				res, err = a.client.SetProfilePicture(ctx, imagePath)
			}
			if err != nil {
				a.fail(err)
			}
			dims := ""
			if info.Width > 0 {
				dims = fmt.Sprintf(" %dx%d ->", info.Width, info.Height)
			}
			fmt.Printf("Profile picture %s:%s %dx%d (%s)\n", res.Status, dims, media.PictureSide, media.PictureSide, res.FileName)
		},
	}
	cmd.Flags().StringVar(&imagePath, "image-path", "", "image file (jpg, png, gif, webp, bmp; max 5MB)")
	cmd.Flags().StringVar(&groupID, "group", "", "set this group's picture instead of the account's")
	_ = cmd.MarkFlagRequired("image-path")
	return cmd
}
