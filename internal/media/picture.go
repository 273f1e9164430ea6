package media

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/nextlevelbuilder/walink/internal/errs"
)

const pictureQuality = 85

// PreparePicture decodes an image, applies EXIF orientation, crops it to a
// PictureSide square and re-encodes it as JPEG.
func PreparePicture(path string) ([]byte, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: open image: %v", errs.ErrInvalidInput, err)
	}
	img = imaging.Fill(img, PictureSide, PictureSide, imaging.Center, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(pictureQuality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderQR renders content as a terminal QR code using half-height blocks.
func RenderQR(content string) (string, error) {
	if content == "" {
		return "", fmt.Errorf("%w: qr content is empty", errs.ErrInvalidInput)
	}
	q, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}
	return q.ToSmallString(false), nil
}

// WriteQRPNG writes content as a size×size PNG QR code.
func WriteQRPNG(content, path string, size int) error {
	if content == "" {
		return fmt.Errorf("%w: qr content is empty", errs.ErrInvalidInput)
	}
	if err := qrcode.WriteFile(content, qrcode.Medium, size, path); err != nil {
		return fmt.Errorf("write qr png: %w", err)
	}
	return nil
}
