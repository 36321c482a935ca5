package imagefetch

import (
	"fmt"

	"github.com/gabriel-vasile/mimetype"

	"github.com/polisai/ogis/pkg/domain"
)

// AllowedImageTypes lists the formats accepted from remote servers.
var AllowedImageTypes = []string{
	"image/png",
	"image/jpeg",
	"image/gif",
	"image/webp",
	"image/svg+xml",
}

// SniffImage classifies data by its leading bytes and returns the allowed MIME
// type it matches. Subtypes such as APNG resolve to their allowed parent.
func SniffImage(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("imagefetch: empty payload: %w", domain.ErrUnsupportedContentType)
	}

	detected := mimetype.Detect(data)
	for m := detected; m != nil; m = m.Parent() {
		for _, allowed := range AllowedImageTypes {
			if m.Is(allowed) {
				return allowed, nil
			}
		}
	}
	return "", fmt.Errorf("imagefetch: detected %s: %w", detected.String(), domain.ErrUnsupportedContentType)
}

// Validate turns a downloaded payload into a ValidatedImage.
func Validate(img domain.FetchedImage) (domain.ValidatedImage, error) {
	mime, err := SniffImage(img.Bytes)
	if err != nil {
		return domain.ValidatedImage{}, domain.NewFetchError(domain.ErrUnsupportedContentType, img.SourceURL, err)
	}
	return domain.ValidatedImage{Bytes: img.Bytes, MIMEType: mime}, nil
}
