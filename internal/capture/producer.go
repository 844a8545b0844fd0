package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"golang.org/x/image/draw"

	"github.com/ferrovax/deskrelay/internal/config"
	"github.com/ferrovax/deskrelay/pkg/logger"
)

// Frame is a single encoded screen frame
type Frame struct {
	Data       []byte    // JPEG bytes; published once, never mutated afterwards
	Width      int       // Encoded width after any downscaling
	Height     int       // Encoded height after any downscaling
	CapturedAt time.Time // Wall-clock capture time
}

// Producer runs the shared capture loop: grab, downscale, encode, publish.
// The loop is alive only while at least one reader is registered. Frames go
// into a single slot that each cycle overwrites, so a slow reader misses
// intermediate frames instead of queueing them.
type Producer struct {
	screen   Screen
	fps      int
	quality  int
	maxWidth int
	logger   *logger.Logger

	frameMu sync.RWMutex
	frame   *Frame

	// mu guards readers and the loop lifecycle
	mu      sync.Mutex
	readers map[string]struct{}
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewProducer creates a frame producer for the given screen
func NewProducer(screen Screen, cfg *config.CaptureConfig, log *logger.Logger) *Producer {
	return &Producer{
		screen:   screen,
		fps:      cfg.FPS,
		quality:  cfg.JPEGQuality,
		maxWidth: cfg.MaxWidth,
		logger:   log.Named("capture"),
		readers:  make(map[string]struct{}),
	}
}

// AddReader registers a frame consumer. The first reader starts the capture
// loop; later readers share it.
func (p *Producer) AddReader(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.readers[id]; ok {
		return
	}
	p.readers[id] = struct{}{}
	p.logger.Info("Reader attached",
		logger.String("reader_id", id),
		logger.Int("readers", len(p.readers)),
	)
	if !p.running {
		p.startLoopLocked()
	}
}

// RemoveReader unregisters a consumer. When the last one leaves, the loop is
// stopped cooperatively: the in-flight cycle finishes before this returns.
func (p *Producer) RemoveReader(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.readers[id]; !ok {
		return
	}
	delete(p.readers, id)
	p.logger.Info("Reader detached",
		logger.String("reader_id", id),
		logger.Int("readers", len(p.readers)),
	)
	if p.running && len(p.readers) == 0 {
		p.stopLoopLocked()
	}
}

// HasReader reports whether the given consumer is currently registered
func (p *Producer) HasReader(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.readers[id]
	return ok
}

// Stop halts the loop regardless of registered readers. Used at shutdown.
func (p *Producer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		p.stopLoopLocked()
	}
	p.logger.Info("Frame producer stopped")
}

// startLoopLocked starts the capture goroutine. Caller holds mu.
func (p *Producer) startLoopLocked() {
	p.stopCh = make(chan struct{})
	p.running = true
	p.wg.Add(1)
	go p.captureLoop(p.stopCh)
}

// stopLoopLocked signals the loop and waits for the in-flight cycle to
// finish. Caller holds mu; the loop never takes mu, so this cannot deadlock.
func (p *Producer) stopLoopLocked() {
	close(p.stopCh)
	p.wg.Wait()
	p.running = false
}

func (p *Producer) captureLoop(stopCh chan struct{}) {
	defer p.wg.Done()

	interval := time.Second / time.Duration(p.fps)
	p.logger.Info("Capture loop started",
		logger.Int("fps", p.fps),
		logger.Int("jpeg_quality", p.quality),
		logger.Int("max_width", p.maxWidth),
	)

	for {
		select {
		case <-stopCh:
			p.logger.Info("Capture loop stopped")
			return
		default:
		}

		started := time.Now()
		if err := p.captureOnce(); err != nil {
			// Keep the previous frame; the next cycle tries again
			p.logger.Error("Capture cycle failed", logger.Error(err))
		}

		// Sleep whatever remains of the frame interval
		if remaining := interval - time.Since(started); remaining > 0 {
			select {
			case <-stopCh:
				p.logger.Info("Capture loop stopped")
				return
			case <-time.After(remaining):
			}
		}
	}
}

// captureOnce grabs, downscales and encodes one frame, then publishes it
func (p *Producer) captureOnce() error {
	img, err := p.screen.Grab()
	if err != nil {
		return fmt.Errorf("grabbing screen: %w", err)
	}

	scaled := downscale(img, p.maxWidth)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: p.quality}); err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}

	frame := &Frame{
		Data:       buf.Bytes(),
		Width:      scaled.Bounds().Dx(),
		Height:     scaled.Bounds().Dy(),
		CapturedAt: time.Now().UTC(),
	}

	p.frameMu.Lock()
	p.frame = frame
	p.frameMu.Unlock()
	return nil
}

// Latest returns the most recent frame. The bool is false until the first
// successful cycle has published one. The frame's Data is safe to hand out:
// every cycle publishes a fresh buffer and old ones are never written again.
func (p *Producer) Latest() (Frame, bool) {
	p.frameMu.RLock()
	defer p.frameMu.RUnlock()

	if p.frame == nil {
		return Frame{}, false
	}
	return *p.frame, true
}

// downscale shrinks img to at most maxWidth wide, preserving the aspect
// ratio. Frames that already fit are returned unchanged.
func downscale(img *image.RGBA, maxWidth int) image.Image {
	b := img.Bounds()
	if b.Dx() <= maxWidth {
		return img
	}
	ratio := float64(maxWidth) / float64(b.Dx())
	height := int(float64(b.Dy())*ratio + 0.5)
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// Stats describes the producer's current state
type Stats struct {
	Running     bool `json:"running"`
	Readers     int  `json:"readers"`
	FPS         int  `json:"fps"`
	JPEGQuality int  `json:"jpeg_quality"`
	MaxWidth    int  `json:"max_width"`
}

// Stats returns the producer's current state
func (p *Producer) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		Running:     p.running,
		Readers:     len(p.readers),
		FPS:         p.fps,
		JPEGQuality: p.quality,
		MaxWidth:    p.maxWidth,
	}
}
