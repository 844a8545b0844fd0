package input

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/ferrovax/deskrelay/pkg/logger"
)

// ErrNotAuthorized is returned when a connection attempts an input action
// without having been authorized
var ErrNotAuthorized = errors.New("connection not authorized for input")

// Controller authorizes connections and serializes their actions onto the
// machine's single pointer and keyboard
type Controller struct {
	dispatcher Dispatcher
	logger     *logger.Logger

	localWidth  int
	localHeight int

	// mu guards the authorized set
	mu         sync.RWMutex
	authorized map[string]struct{}

	// actionMu serializes every dispatched action across all connections;
	// the input devices are one shared physical resource and concurrent
	// actions must not interleave at the hardware level
	actionMu sync.Mutex
}

// NewController creates an input controller over the given dispatcher
func NewController(dispatcher Dispatcher, log *logger.Logger) *Controller {
	width, height := dispatcher.ScreenSize()
	c := &Controller{
		dispatcher:  dispatcher,
		logger:      log.Named("input"),
		localWidth:  width,
		localHeight: height,
		authorized:  make(map[string]struct{}),
	}
	c.logger.Info("Input controller initialized",
		logger.Int("screen_width", width),
		logger.Int("screen_height", height),
	)
	return c
}

// Authorize grants a connection permission to inject input
func (c *Controller) Authorize(connID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authorized[connID] = struct{}{}
	c.logger.Info("Connection authorized for remote input", logger.String("conn_id", connID))
}

// Revoke withdraws a connection's input permission
func (c *Controller) Revoke(connID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.authorized, connID)
	c.logger.Info("Connection input authorization revoked", logger.String("conn_id", connID))
}

// IsAuthorized reports whether a connection may inject input
func (c *Controller) IsAuthorized(connID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.authorized[connID]
	return ok
}

// PointerMove remaps the sender's viewport coordinates onto the local screen
// and moves the pointer there
func (c *Controller) PointerMove(connID string, x, y float64, srcWidth, srcHeight int) error {
	if !c.IsAuthorized(connID) {
		return ErrNotAuthorized
	}
	ax, ay, err := c.remapPoint(x, y, srcWidth, srcHeight)
	if err != nil {
		return err
	}

	c.actionMu.Lock()
	defer c.actionMu.Unlock()
	if err := c.dispatcher.Move(ax, ay); err != nil {
		c.logger.Error("Pointer move failed", logger.Error(err))
		return fmt.Errorf("pointer move: %w", err)
	}
	return nil
}

// PointerButton dispatches a click variant at the remapped coordinates.
// kind is one of "single", "double", "down", "up"; button is one of "left",
// "right", "middle".
func (c *Controller) PointerButton(connID string, x, y float64, srcWidth, srcHeight int, button, kind string) error {
	if !c.IsAuthorized(connID) {
		return ErrNotAuthorized
	}
	switch button {
	case "left", "right", "middle":
	default:
		return fmt.Errorf("unknown mouse button: %q", button)
	}
	ax, ay, err := c.remapPoint(x, y, srcWidth, srcHeight)
	if err != nil {
		return err
	}

	c.actionMu.Lock()
	defer c.actionMu.Unlock()
	switch kind {
	case "single":
		err = c.dispatcher.Click(ax, ay, button, false)
	case "double":
		err = c.dispatcher.Click(ax, ay, button, true)
	case "down":
		err = c.dispatcher.ButtonDown(ax, ay, button)
	case "up":
		err = c.dispatcher.ButtonUp(ax, ay, button)
	default:
		return fmt.Errorf("unknown click type: %q", kind)
	}
	if err != nil {
		c.logger.Error("Pointer button failed",
			logger.String("button", button),
			logger.String("kind", kind),
			logger.Error(err),
		)
		return fmt.Errorf("pointer button: %w", err)
	}
	c.logger.Debug("Pointer button dispatched",
		logger.String("button", button),
		logger.String("kind", kind),
		logger.Int("x", ax),
		logger.Int("y", ay),
	)
	return nil
}

// PointerScroll dispatches a vertical scroll of magnitude delta at the
// remapped coordinates
func (c *Controller) PointerScroll(connID string, x, y float64, srcWidth, srcHeight int, delta int) error {
	if !c.IsAuthorized(connID) {
		return ErrNotAuthorized
	}
	ax, ay, err := c.remapPoint(x, y, srcWidth, srcHeight)
	if err != nil {
		return err
	}

	c.actionMu.Lock()
	defer c.actionMu.Unlock()
	if err := c.dispatcher.Scroll(ax, ay, delta); err != nil {
		c.logger.Error("Pointer scroll failed", logger.Error(err))
		return fmt.Errorf("pointer scroll: %w", err)
	}
	return nil
}

// KeyAction maps a symbolic key name to the local name and dispatches the
// requested action ("press", "down" or "up")
func (c *Controller) KeyAction(connID, key, action string) error {
	if !c.IsAuthorized(connID) {
		return ErrNotAuthorized
	}
	mapped := MapKey(key)

	c.actionMu.Lock()
	defer c.actionMu.Unlock()
	var err error
	switch action {
	case "press":
		err = c.dispatcher.KeyTap(mapped)
	case "down":
		err = c.dispatcher.KeyDown(mapped)
	case "up":
		err = c.dispatcher.KeyUp(mapped)
	default:
		return fmt.Errorf("unknown key action: %q", action)
	}
	if err != nil {
		c.logger.Error("Key action failed",
			logger.String("key", mapped),
			logger.String("action", action),
			logger.Error(err),
		)
		return fmt.Errorf("key %s: %w", action, err)
	}
	c.logger.Debug("Key action dispatched",
		logger.String("key", mapped),
		logger.String("action", action),
	)
	return nil
}

// KeyCombination normalizes modifier names and dispatches the keys as one
// simultaneous chord
func (c *Controller) KeyCombination(connID string, keys []string) error {
	if !c.IsAuthorized(connID) {
		return ErrNotAuthorized
	}
	if len(keys) == 0 {
		return fmt.Errorf("empty key combination")
	}
	chord := NormalizeChord(keys)

	c.actionMu.Lock()
	defer c.actionMu.Unlock()
	if err := c.dispatcher.KeyCombo(chord); err != nil {
		c.logger.Error("Key combination failed", logger.Any("keys", chord), logger.Error(err))
		return fmt.Errorf("key combination: %w", err)
	}
	c.logger.Debug("Key combination dispatched", logger.Any("keys", chord))
	return nil
}

// TextInput types the literal text on the local keyboard
func (c *Controller) TextInput(connID, text string) error {
	if !c.IsAuthorized(connID) {
		return ErrNotAuthorized
	}

	c.actionMu.Lock()
	defer c.actionMu.Unlock()
	if err := c.dispatcher.TypeText(text); err != nil {
		c.logger.Error("Text input failed", logger.Error(err))
		return fmt.Errorf("text input: %w", err)
	}
	return nil
}

// remapPoint converts viewport coordinates to local screen coordinates
func (c *Controller) remapPoint(x, y float64, srcWidth, srcHeight int) (int, int, error) {
	ax, err := remap(x, srcWidth, c.localWidth)
	if err != nil {
		return 0, 0, err
	}
	ay, err := remap(y, srcHeight, c.localHeight)
	if err != nil {
		return 0, 0, err
	}
	return ax, ay, nil
}

// remap linearly scales a coordinate from the sender's viewport to the local
// screen, then clamps it into the visible range
func remap(value float64, sourceDim, localDim int) (int, error) {
	if sourceDim <= 0 {
		return 0, fmt.Errorf("invalid source dimension: %d", sourceDim)
	}
	actual := int(math.Round(value / float64(sourceDim) * float64(localDim)))
	if actual < 0 {
		actual = 0
	}
	if actual > localDim-1 {
		actual = localDim - 1
	}
	return actual, nil
}

// Stats describes the controller's current state
type Stats struct {
	ScreenWidth  int `json:"screen_width"`
	ScreenHeight int `json:"screen_height"`
	Authorized   int `json:"authorized_connections"`
	PointerX     int `json:"pointer_x"`
	PointerY     int `json:"pointer_y"`
}

// Stats returns screen geometry, authorization count and pointer position
func (c *Controller) Stats() Stats {
	c.mu.RLock()
	authorized := len(c.authorized)
	c.mu.RUnlock()

	px, py := c.dispatcher.PointerPosition()
	return Stats{
		ScreenWidth:  c.localWidth,
		ScreenHeight: c.localHeight,
		Authorized:   authorized,
		PointerX:     px,
		PointerY:     py,
	}
}
