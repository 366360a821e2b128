package captcha

import (
	"fmt"

	"github.com/mojocn/base64Captcha"
)

// DigitRenderer renders a numeric code as a distorted PNG using the
// base64Captcha digit driver. It satisfies fetch.Renderer.
type DigitRenderer struct {
	driver *base64Captcha.DriverDigit
}

// NewDigitRenderer constructs a renderer sized for short numeric codes.
func NewDigitRenderer(codeLength int) *DigitRenderer {
	if codeLength <= 0 {
		codeLength = 4
	}
	return &DigitRenderer{
		driver: base64Captcha.NewDriverDigit(80, 240, codeLength, 0.7, 80),
	}
}

// Render returns the code drawn as a base64 data URL.
func (r *DigitRenderer) Render(code string) (string, error) {
	item, err := r.driver.DrawCaptcha(code)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRenderFailed, err)
	}
	return item.EncodeB64string(), nil
}
