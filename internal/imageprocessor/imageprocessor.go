package imageprocessor

import "context"

// FormatJPEG is the only transport format the verifier accepts.
const FormatJPEG = "jpeg"

// EncodedImage is a transport-ready frame. It must not be mutated once produced.
type EncodedImage struct {
	Data   []byte
	Format string
	// SizeHint is the encoded size in bytes, kept for diagnostics only.
	SizeHint int
}

// Encoder exposes the resize/compress step used by the capture flow.
type Encoder interface {
	Encode(ctx context.Context, raw []byte, targetWidth, quality int) (EncodedImage, error)
}
