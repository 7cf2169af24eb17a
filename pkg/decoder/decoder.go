// Package decoder turns encoded frame payloads into displayable images.
//
// JPEG, PNG and GIF payloads are recognised by their magic bytes. Decoding is
// stateless per call and safe for concurrent use.
package decoder

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register GIF
	_ "image/jpeg" // register JPEG
	_ "image/png"  // register PNG
)

// ErrEmptyPayload is returned when there is nothing to decode.
var ErrEmptyPayload = errors.New("decoder: empty payload")

// FrameDecoder decodes one encoded frame.
type FrameDecoder interface {
	Decode(payload []byte) (image.Image, string, error)
}

// ImageDecoder is the default FrameDecoder backed by the registered image
// formats.
type ImageDecoder struct{}

// New returns the default decoder.
func New() ImageDecoder {
	return ImageDecoder{}
}

// Decode decodes payload and returns the image with its format name.
func (ImageDecoder) Decode(payload []byte) (image.Image, string, error) {
	if len(payload) == 0 {
		return nil, "", ErrEmptyPayload
	}
	img, format, err := image.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, "", fmt.Errorf("decoder: %w", err)
	}
	return img, format, nil
}

// Probe reads only the header of payload and reports its dimensions.
func Probe(payload []byte) (image.Config, string, error) {
	if len(payload) == 0 {
		return image.Config{}, "", ErrEmptyPayload
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(payload))
	if err != nil {
		return image.Config{}, "", fmt.Errorf("decoder: %w", err)
	}
	return cfg, format, nil
}
