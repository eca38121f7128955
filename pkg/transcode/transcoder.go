package transcode

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"math"

	xdraw "golang.org/x/image/draw"

	// Decoders for media types ingestion admits beyond PNG and JPEG.
	_ "image/gif"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"photodeck/pkg/models"
)

// losslessTypes are declared media types whose slides are re-encoded as
// PNG. Everything else goes through JPEG at the configured quality.
var losslessTypes = map[string]struct{}{
	"image/png": {},
	"image/gif": {},
	"image/bmp": {},
}

// DecodeError means one image's raw bytes could not be decoded. It aborts
// the transformation for that image only; no placeholder is produced.
type DecodeError struct {
	Name string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode %s: %v", e.Name, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Transcoder turns one raw image into an embeddable slide: decode,
// downscale under MaxDimension preserving aspect ratio, re-encode.
type Transcoder struct {
	// MaxDimension bounds the longer side of the output. Images already
	// within the bound keep their natural dimensions; nothing is upscaled.
	MaxDimension int

	// Quality for JPEG encoding of lossy sources, 1-100.
	Quality int
}

// Transcode decodes raw, scales it to fit MaxDimension and encodes the
// result. The encoded bytes are PNG when the declared media type is a
// lossless format, JPEG otherwise.
func (t *Transcoder) Transcode(name, mediaType string, raw io.Reader) (models.Slide, error) {
	src, _, err := image.Decode(raw)
	if err != nil {
		return models.Slide{}, &DecodeError{Name: name, Err: err}
	}

	bounds := src.Bounds()
	w0, h0 := bounds.Dx(), bounds.Dy()

	scale := 1.0
	if longest := max(w0, h0); longest > t.MaxDimension {
		scale = float64(t.MaxDimension) / float64(longest)
	}
	w := max(1, int(math.Round(float64(w0)*scale)))
	h := max(1, int(math.Round(float64(h0)*scale)))

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if w == w0 && h == h0 {
		xdraw.Copy(dst, image.Point{}, src, bounds, xdraw.Src, nil)
	} else {
		xdraw.CatmullRom.Scale(dst, dst.Rect, src, bounds, xdraw.Src, nil)
	}

	var buf bytes.Buffer
	if _, lossless := losslessTypes[mediaType]; lossless {
		err = png.Encode(&buf, dst)
	} else {
		err = jpeg.Encode(&buf, dst, &jpeg.Options{Quality: t.Quality})
	}
	if err != nil {
		return models.Slide{}, fmt.Errorf("encode %s: %w", name, err)
	}

	return models.Slide{Name: name, Data: buf.Bytes(), Width: w, Height: h}, nil
}
