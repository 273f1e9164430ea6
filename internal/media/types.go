package media

import (
	"mime"
	"path/filepath"
	"strings"
)

// Type is the media category a file is sent as.
type Type string

const (
	TypeImage    Type = "image"
	TypeVideo    Type = "video"
	TypeAudio    Type = "audio"
	TypeDocument Type = "document"
	TypeSticker  Type = "sticker"
)

const (
	MB = 1024 * 1024

	MaxMediaSize    = 16 * MB
	MaxDocumentSize = 100 * MB
	MaxStickerSize  = 100 * 1024
	MaxPictureSize  = 5 * MB

	// PictureSide is the edge length profile and group pictures are cropped to.
	PictureSide = 640
)

var extensions = map[Type][]string{
	TypeImage:    {".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp"},
	TypeVideo:    {".mp4", ".mov", ".avi", ".mkv", ".webm", ".3gp"},
	TypeAudio:    {".mp3", ".wav", ".ogg", ".aac", ".m4a"},
	TypeDocument: {".pdf", ".doc", ".docx", ".txt", ".rtf", ".xls", ".xlsx", ".ppt", ".pptx", ".zip", ".rar"},
}

// detectOrder is fixed so .webp resolves to image; stickers are only ever
// chosen explicitly.
var detectOrder = []Type{TypeImage, TypeVideo, TypeAudio, TypeDocument}

// Detect returns the media type implied by the file extension, or "" when
// the extension is not supported.
func Detect(path string) Type {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return ""
	}
	for _, t := range detectOrder {
		if hasExt(t, ext) {
			return t
		}
	}
	return ""
}

// MaxSize is the upload limit for t in bytes.
func MaxSize(t Type) int64 {
	switch t {
	case TypeDocument:
		return MaxDocumentSize
	case TypeSticker:
		return MaxStickerSize
	default:
		return MaxMediaSize
	}
}

// Valid reports whether t is one of the known media types.
func (t Type) Valid() bool {
	switch t {
	case TypeImage, TypeVideo, TypeAudio, TypeDocument, TypeSticker:
		return true
	}
	return false
}

func isImage(path string) bool {
	return hasExt(TypeImage, strings.ToLower(filepath.Ext(path)))
}

func hasExt(t Type, ext string) bool {
	for _, e := range extensions[t] {
		if e == ext {
			return true
		}
	}
	return false
}

func mimeType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if mt := mime.TypeByExtension(ext); mt != "" {
		return mt
	}
	switch ext {
	case ".webp":
		return "image/webp"
	case ".3gp":
		return "video/3gpp"
	case ".m4a":
		return "audio/mp4"
	case ".aac":
		return "audio/aac"
	case ".mkv":
		return "video/x-matroska"
	}
	return ""
}
