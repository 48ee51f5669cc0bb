package qr

import (
	"errors"
	"fmt"
	"image"

	"github.com/makiuchi-d/gozxing"
	zxqr "github.com/makiuchi-d/gozxing/qrcode"
)

// Decoder finds one QR code in an RGBA pixel buffer. A frame with no
// readable code is found=false with a nil error.
type Decoder interface {
	Decode(pix []byte, width, height int) (code string, found bool, err error)
}

// ErrBadFrame is returned when the buffer does not match width*height*4.
var ErrBadFrame = errors.New("pixel buffer does not match frame size")

// ZXing decodes with the gozxing QR reader.
type ZXing struct {
	hints map[gozxing.DecodeHintType]interface{}
}

// NewZXing returns a decoder that tries harder on low contrast frames.
func NewZXing() *ZXing {
	return &ZXing{hints: map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}}
}

func (z *ZXing) Decode(pix []byte, width, height int) (string, bool, error) {
	if width <= 0 || height <= 0 || len(pix) != width*height*4 {
		return "", false, fmt.Errorf("%w: %dx%d with %d bytes", ErrBadFrame, width, height, len(pix))
	}
	img := &image.RGBA{Pix: pix, Stride: width * 4, Rect: image.Rect(0, 0, width, height)}
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", false, fmt.Errorf("binarize frame: %w", err)
	}
	result, err := zxqr.NewQRCodeReader().Decode(bmp, z.hints)
	if err != nil {
		if isMiss(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return result.GetText(), true, nil
}

// Not found, checksum and format failures all mean "nothing usable in this frame".
func isMiss(err error) bool {
	switch err.(type) {
	case gozxing.NotFoundException, gozxing.ChecksumException, gozxing.FormatException:
		return true
	}
	return false
}
