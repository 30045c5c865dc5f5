package port

import (
	"context"
	"io"
)

type ImageStore interface {
	// SaveImage stores the bytes of an uploaded image and returns its public URL
	SaveImage(ctx context.Context, originalName string, r io.Reader) (string, error)
	// DeleteImage removes an image previously returned by SaveImage
	DeleteImage(ctx context.Context, url string) error
}
