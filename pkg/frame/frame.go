// Package frame converts transport-encoded camera stills into raster frames.
// Browsers deliver frames as base64 data URLs over the socket; malformed
// payloads are expected under lossy capture and decode to an error the
// caller drops silently.
package frame

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/jpeg"
	_ "image/png"
	"strings"
)

// Frame is a decoded camera still. JPEG always holds a JPEG encoding of the
// image, re-encoded when the transport payload used another format, since
// the recognition engine consumes JPEG bytes directly.
type Frame struct {
	Image  image.Image
	JPEG   []byte
	Width  int
	Height int
}

// ErrBadFrame is returned when the payload cannot be decoded into an image.
var ErrBadFrame = errors.New("undecodable frame payload")

const jpegQuality = 75

// DecodeDataURL decodes a "data:image/...;base64,..." payload, or a bare
// base64 string, into a Frame.
func DecodeDataURL(payload string) (*Frame, error) {
	encoded := payload
	if idx := strings.IndexByte(payload, ','); idx >= 0 && strings.HasPrefix(payload, "data:") {
		encoded = payload[idx+1:]
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrBadFrame
	}

	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, ErrBadFrame
	}

	f := &Frame{
		Image:  img,
		Width:  img.Bounds().Dx(),
		Height: img.Bounds().Dy(),
	}

	if format == "jpeg" {
		f.JPEG = raw
		return f, nil
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, ErrBadFrame
	}
	f.JPEG = buf.Bytes()
	return f, nil
}

// EncodeDataURL encodes JPEG bytes back into a data URL for the client.
func EncodeDataURL(jpegData []byte) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpegData)
}
