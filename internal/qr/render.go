package qr

import (
	"errors"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

const (
	minSize     = 64
	maxSize     = 1024
	defaultSize = 256
)

// Render encodes a student's unique code as a PNG at the given pixel size.
func Render(code string, size int) ([]byte, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, errors.New("code required")
	}
	switch {
	case size <= 0:
		size = defaultSize
	case size < minSize:
		size = minSize
	case size > maxSize:
		size = maxSize
	}
	return qrcode.Encode(code, qrcode.Medium, size)
}
