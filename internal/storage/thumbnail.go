package storage

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"os"

	"quill/internal/middleware"

	"github.com/chai2010/webp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

const (
	ThumbnailWidth = 640
	WebPQuality    = 70
)

// renderThumbnail writes a webp thumbnail beside the cover at abs. Files that
// do not decode as images are left without one.
func (s *CoverStore) renderThumbnail(ctx context.Context, abs string) {
	data, err := os.ReadFile(abs)
	if err != nil {
		return
	}
	out, ok, err := RenderThumbnail(data, ThumbnailWidth)
	if err != nil {
		middleware.Logger.WarnContext(ctx, "cover thumbnail encode failed", "path", abs, "error", err)
		return
	}
	if !ok {
		return
	}
	if err := writeBytesToFile(ThumbnailPath(abs), out); err != nil {
		middleware.Logger.WarnContext(ctx, "cover thumbnail write failed", "path", abs, "error", err)
	}
}

// RenderThumbnail scales an encoded image down to maxWidth, keeping its aspect
// ratio, and returns it as webp. ok is false when data is not a decodable image.
func RenderThumbnail(data []byte, maxWidth int) (out []byte, ok bool, err error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, false, nil
	}
	resized := resizeToWidth(src, maxWidth)

	buf := bytes.NewBuffer(nil)
	if err := webp.Encode(buf, resized, &webp.Options{Quality: WebPQuality}); err != nil {
		return nil, false, err
	}
	return buf.Bytes(), true, nil
}

func resizeToWidth(src image.Image, maxWidth int) image.Image {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxWidth || w == 0 {
		return src
	}
	nh := h * maxWidth / w
	if nh < 1 {
		nh = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, nh))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, xdraw.Over, nil)
	return dst
}
