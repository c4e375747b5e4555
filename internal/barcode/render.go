package barcode

import (
	"fmt"
	"image"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
)

// Render draws text as a Code 128 barcode of the given size. Invoice access
// keys are rendered this way so another branch can scan them off a screen.
func Render(text string, width, height int) (image.Image, error) {
	if text == "" {
		return nil, fmt.Errorf("nothing to render")
	}
	img, err := oned.NewCode128Writer().Encode(text, gozxing.BarcodeFormat_CODE_128, width, height, nil)
	if err != nil {
		return nil, fmt.Errorf("rendering code 128: %w", err)
	}
	return img, nil
}
