package capture

import (
	"fmt"
	"image"

	"github.com/kbinani/screenshot"
)

// Screen grabs raw frames from a display. Implementations need not be safe
// for concurrent use; the producer calls Grab from a single goroutine.
type Screen interface {
	// Grab captures the current contents of the display
	Grab() (*image.RGBA, error)
	// Bounds returns the pixel dimensions of the display
	Bounds() (width, height int)
}

// DisplayScreen captures a physical display via the OS screenshot API
type DisplayScreen struct {
	display int
}

// NewDisplayScreen returns a Screen for the given display index (0 = primary)
func NewDisplayScreen(display int) (*DisplayScreen, error) {
	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return nil, fmt.Errorf("no active displays detected")
	}
	if display < 0 || display >= n {
		return nil, fmt.Errorf("display index %d out of range (%d displays available)", display, n)
	}
	return &DisplayScreen{display: display}, nil
}

// Grab captures the display contents
func (d *DisplayScreen) Grab() (*image.RGBA, error) {
	img, err := screenshot.CaptureDisplay(d.display)
	if err != nil {
		return nil, fmt.Errorf("failed to capture display %d: %w", d.display, err)
	}
	return img, nil
}

// Bounds returns the display dimensions
func (d *DisplayScreen) Bounds() (int, int) {
	b := screenshot.GetDisplayBounds(d.display)
	return b.Dx(), b.Dy()
}
