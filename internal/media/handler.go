// Package media validates local media files and forwards them to the
// backend as image, video, audio, document or sticker messages.
package media

import (
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "golang.org/x/image/webp"

	"github.com/nextlevelbuilder/walink/internal/backend"
	"github.com/nextlevelbuilder/walink/internal/errs"
	"github.com/nextlevelbuilder/walink/internal/jid"
	"github.com/nextlevelbuilder/walink/pkg/protocol"
)

// Options are the optional parts of a media message. Type-specific fields
// are only forwarded for the matching media type.
type Options struct {
	Caption         string
	QuotedMessageID string
	MentionedJIDs   []string
	ViewOnce        bool

	// image
	Width   int
	Height  int
	Quality string // high, medium, low

	// video and audio
	Duration int // seconds
	Loop     bool

	// audio
	AudioType string // voice, music
}

// SendResult describes a forwarded media message.
type SendResult struct {
	Status    string    `json:"status"`
	MessageID string    `json:"message_id"`
	JID       string    `json:"jid"`
	MediaType Type      `json:"media_type"`
	FileName  string    `json:"file_name"`
	FileSize  int64     `json:"file_size"`
	Caption   string    `json:"caption,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// UpdateResult describes a profile or group picture change.
type UpdateResult struct {
	Status    string    `json:"status"`
	GroupID   string    `json:"group_id,omitempty"`
	FileName  string    `json:"file_name"`
	FileSize  int64     `json:"file_size"`
	Timestamp time.Time `json:"timestamp"`
}

// DownloadResult describes a queued download. The backend writes the file.
type DownloadResult struct {
	Status     string    `json:"status"`
	MessageID  string    `json:"message_id"`
	OutputPath string    `json:"output_path"`
	Timestamp  time.Time `json:"timestamp"`
}

// FileInfo is local metadata about a media file.
type FileInfo struct {
	Path      string    `json:"file_path"`
	Name      string    `json:"file_name"`
	Size      int64     `json:"file_size"`
	Extension string    `json:"file_extension"`
	MimeType  string    `json:"mime_type,omitempty"`
	MediaType Type      `json:"media_type,omitempty"`
	ModTime   time.Time `json:"modified_time"`
	Width     int       `json:"width,omitempty"`
	Height    int       `json:"height,omitempty"`
}

// Handler sends media through a backend.Sender.
type Handler struct {
	sender backend.Sender
	now    func() time.Time
}

func NewHandler(sender backend.Sender) *Handler {
	return &Handler{sender: sender, now: time.Now}
}

// Send forwards the file at path to a chat. An empty mediaType is detected
// from the extension.
func (h *Handler) Send(ctx context.Context, to, path string, mediaType Type, opts Options) (*SendResult, error) {
	if !jid.IsAddressable(to) {
		return nil, fmt.Errorf("%w: %q is not a user or group JID", errs.ErrInvalidInput, to)
	}
	fi, err := statFile(path)
	if err != nil {
		return nil, err
	}
	if mediaType == "" {
		mediaType = Detect(path)
	}
	if !mediaType.Valid() {
		return nil, fmt.Errorf("%w: unsupported or unknown media type for file %s", errs.ErrInvalidInput, path)
	}
	if limit := MaxSize(mediaType); fi.Size() > limit {
		return nil, fmt.Errorf("%w: file size (%d bytes) exceeds %s limit (%d bytes)", errs.ErrInvalidInput, fi.Size(), mediaType, limit)
	}

	mentioned := opts.MentionedJIDs
	if mentioned == nil {
		mentioned = []string{}
	}
	payload := map[string]interface{}{
		"type":           "send_" + string(mediaType),
		"media_path":     path,
		"media_type":     mediaType,
		"file_name":      filepath.Base(path),
		"file_size":      fi.Size(),
		"mime_type":      mimeType(path),
		"mentioned_jids": mentioned,
		"view_once":      opts.ViewOnce,
	}
	if opts.Caption != "" {
		payload["caption"] = opts.Caption
	}
	if opts.QuotedMessageID != "" {
		payload["quoted_message_id"] = opts.QuotedMessageID
	}
	switch mediaType {
	case TypeImage:
		quality := opts.Quality
		if quality == "" {
			quality = "high"
		}
		payload["quality"] = quality
		if opts.Width > 0 && opts.Height > 0 {
			payload["width"] = opts.Width
			payload["height"] = opts.Height
		}
	case TypeVideo:
		payload["loop"] = opts.Loop
		if opts.Duration > 0 {
			payload["duration"] = opts.Duration
		}
	case TypeAudio:
		audioType := opts.AudioType
		if audioType == "" {
			audioType = "voice"
		}
		payload["audio_type"] = audioType
		if opts.Duration > 0 {
			payload["duration"] = opts.Duration
		}
	}

	res, err := backend.SendJSON(ctx, h.sender, to, payload, protocol.TypeMedia)
	if err != nil {
		return nil, fmt.Errorf("send %s to %s: %w", mediaType, to, err)
	}
	slog.Debug("media sent", "type", mediaType, "to", to, "file", filepath.Base(path), "bytes", fi.Size())

	ts := res.Timestamp
	if ts.IsZero() {
		ts = h.now()
	}
	return &SendResult{
		Status:    "sent",
		MessageID: res.MessageID,
		JID:       to,
		MediaType: mediaType,
		FileName:  filepath.Base(path),
		FileSize:  fi.Size(),
		Caption:   opts.Caption,
		Timestamp: ts,
	}, nil
}

func (h *Handler) SendImage(ctx context.Context, to, path, caption string) (*SendResult, error) {
	return h.Send(ctx, to, path, TypeImage, Options{Caption: caption})
}

func (h *Handler) SendVideo(ctx context.Context, to, path, caption string) (*SendResult, error) {
	return h.Send(ctx, to, path, TypeVideo, Options{Caption: caption})
}

// SendAudio sends an audio file; audioType is "voice" (default) or "music".
func (h *Handler) SendAudio(ctx context.Context, to, path, caption, audioType string) (*SendResult, error) {
	return h.Send(ctx, to, path, TypeAudio, Options{Caption: caption, AudioType: audioType})
}

func (h *Handler) SendDocument(ctx context.Context, to, path, caption string) (*SendResult, error) {
	return h.Send(ctx, to, path, TypeDocument, Options{Caption: caption})
}

// SendSticker sends a WebP sticker of at most MaxStickerSize bytes.
func (h *Handler) SendSticker(ctx context.Context, to, path string) (*SendResult, error) {
	if strings.ToLower(filepath.Ext(path)) != ".webp" {
		return nil, fmt.Errorf("%w: stickers must be in WebP format", errs.ErrInvalidInput)
	}
	return h.Send(ctx, to, path, TypeSticker, Options{})
}

// SetProfilePicture crops the image to PictureSide square and uploads it as
// the account picture.
func (h *Handler) SetProfilePicture(ctx context.Context, path string) (*UpdateResult, error) {
	payload, fi, err := h.picturePayload(path, "set_profile_picture")
	if err != nil {
		return nil, err
	}
	if _, err := backend.SendJSON(ctx, h.sender, protocol.JIDProfile, payload, protocol.TypeProfileUpdate); err != nil {
		return nil, fmt.Errorf("set profile picture: %w", err)
	}
	slog.Info("media: profile picture updated", "file", fi.Name())
	return &UpdateResult{
		Status:    "updated",
		FileName:  fi.Name(),
		FileSize:  fi.Size(),
		Timestamp: h.now(),
	}, nil
}

// SetGroupPicture is SetProfilePicture for a group.
func (h *Handler) SetGroupPicture(ctx context.Context, groupID, path string) (*UpdateResult, error) {
	if !jid.IsGroupJID(groupID) {
		return nil, fmt.Errorf("%w: %q is not a group JID", errs.ErrInvalidInput, groupID)
	}
	payload, fi, err := h.picturePayload(path, "set_group_picture")
	if err != nil {
		return nil, err
	}
	payload["group_id"] = groupID
	if _, err := backend.SendJSON(ctx, h.sender, groupID, payload, protocol.TypeGroupUpdate); err != nil {
		return nil, fmt.Errorf("set group picture %s: %w", groupID, err)
	}
	slog.Info("media: group picture updated", "group", groupID, "file", fi.Name())
	return &UpdateResult{
		Status:    "updated",
		GroupID:   groupID,
		FileName:  fi.Name(),
		FileSize:  fi.Size(),
		Timestamp: h.now(),
	}, nil
}

func (h *Handler) picturePayload(path, kind string) (map[string]interface{}, os.FileInfo, error) {
	fi, err := statFile(path)
	if err != nil {
		return nil, nil, err
	}
	if !isImage(path) {
		return nil, nil, fmt.Errorf("%w: unsupported image format %q", errs.ErrInvalidInput, filepath.Ext(path))
	}
	if fi.Size() > MaxPictureSize {
		return nil, nil, fmt.Errorf("%w: picture too large (%d bytes), maximum is %d bytes", errs.ErrInvalidInput, fi.Size(), MaxPictureSize)
	}
	data, err := PreparePicture(path)
	if err != nil {
		return nil, nil, err
	}
	return map[string]interface{}{
		"type":       kind,
		"image_path": path,
		"file_name":  fi.Name(),
		"file_size":  fi.Size(),
		"mime_type":  "image/jpeg",
		"image_data": base64.StdEncoding.EncodeToString(data),
		"timestamp":  h.now().Format(time.RFC3339),
	}, fi, nil
}

// Download asks the backend to store the media of messageID at outputPath.
// The parent directory is created so the backend can write into it.
func (h *Handler) Download(ctx context.Context, messageID, outputPath string) (*DownloadResult, error) {
	if messageID == "" {
		return nil, fmt.Errorf("%w: message id is empty", errs.ErrInvalidInput)
	}
	if outputPath == "" {
		return nil, fmt.Errorf("%w: output path is empty", errs.ErrInvalidInput)
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}

	payload := map[string]interface{}{
		"type":        "download_media",
		"message_id":  messageID,
		"output_path": outputPath,
		"timestamp":   h.now().Format(time.RFC3339),
	}
	if _, err := backend.SendJSON(ctx, h.sender, protocol.JIDDownload, payload, protocol.TypeDownload); err != nil {
		return nil, fmt.Errorf("download %s: %w", messageID, err)
	}
	return &DownloadResult{
		Status:     "downloading",
		MessageID:  messageID,
		OutputPath: outputPath,
		Timestamp:  h.now(),
	}, nil
}

// Info returns local metadata for a file. Image dimensions are filled in
// when the header can be decoded.
func Info(path string) (*FileInfo, error) {
	fi, err := statFile(path)
	if err != nil {
		return nil, err
	}
	info := &FileInfo{
		Path:      path,
		Name:      fi.Name(),
		Size:      fi.Size(),
		Extension: strings.ToLower(filepath.Ext(path)),
		MimeType:  mimeType(path),
		MediaType: Detect(path),
		ModTime:   fi.ModTime(),
	}
	if info.MediaType == TypeImage {
		if cfg, err := decodeConfig(path); err == nil {
			info.Width, info.Height = cfg.Width, cfg.Height
		}
	}
	return info, nil
}

// Validate reports whether path exists, has a supported type (equal to
// expected when set) and is within the size limit for that type.
func Validate(path string, expected Type) bool {
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() {
		return false
	}
	t := Detect(path)
	if expected == TypeSticker && strings.ToLower(filepath.Ext(path)) == ".webp" {
		t = TypeSticker
	}
	if t == "" {
		return false
	}
	if expected != "" && t != expected {
		return false
	}
	return fi.Size() <= MaxSize(t)
}

func statFile(path string) (os.FileInfo, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("media file %s: %w", path, errs.ErrNotFound)
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", errs.ErrInvalidInput, path)
	}
	return fi, nil
}

func decodeConfig(path string) (image.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return image.Config{}, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	return cfg, err
}
