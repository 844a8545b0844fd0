package input

import (
	"github.com/go-vgo/robotgo"

	"github.com/ferrovax/deskrelay/internal/config"
)

// Dispatcher delivers individual input actions to the OS automation layer.
// The controller serializes calls; implementations need not be thread-safe.
type Dispatcher interface {
	Move(x, y int) error
	Click(x, y int, button string, double bool) error
	ButtonDown(x, y int, button string) error
	ButtonUp(x, y int, button string) error
	Scroll(x, y, delta int) error
	KeyTap(key string) error
	KeyDown(key string) error
	KeyUp(key string) error
	KeyCombo(keys []string) error
	TypeText(text string) error
	ScreenSize() (width, height int)
	PointerPosition() (x, y int)
}

// RobotDispatcher injects input through robotgo
type RobotDispatcher struct{}

// NewRobotDispatcher configures the automation layer and returns a dispatcher
func NewRobotDispatcher(cfg *config.InputConfig) *RobotDispatcher {
	// Small settle pause after each action so rapid event streams do not
	// outrun the OS input queue
	robotgo.MouseSleep = cfg.ActionDelayMs
	robotgo.KeySleep = cfg.ActionDelayMs
	return &RobotDispatcher{}
}

// Move positions the pointer at absolute screen coordinates
func (d *RobotDispatcher) Move(x, y int) error {
	robotgo.Move(x, y)
	return nil
}

// Click moves the pointer and clicks the given button
func (d *RobotDispatcher) Click(x, y int, button string, double bool) error {
	robotgo.Move(x, y)
	robotgo.Click(button, double)
	return nil
}

// ButtonDown moves the pointer and presses the given button without releasing
func (d *RobotDispatcher) ButtonDown(x, y int, button string) error {
	robotgo.Move(x, y)
	return robotgo.Toggle(button)
}

// ButtonUp moves the pointer and releases the given button
func (d *RobotDispatcher) ButtonUp(x, y int, button string) error {
	robotgo.Move(x, y)
	return robotgo.Toggle(button, "up")
}

// Scroll moves the pointer and scrolls vertically by delta
func (d *RobotDispatcher) Scroll(x, y, delta int) error {
	robotgo.Move(x, y)
	robotgo.Scroll(0, delta)
	return nil
}

// KeyTap presses and releases a key
func (d *RobotDispatcher) KeyTap(key string) error {
	return robotgo.KeyTap(key)
}

// KeyDown presses a key without releasing it
func (d *RobotDispatcher) KeyDown(key string) error {
	return robotgo.KeyToggle(key)
}

// KeyUp releases a held key
func (d *RobotDispatcher) KeyUp(key string) error {
	return robotgo.KeyToggle(key, "up")
}

// KeyCombo dispatches a simultaneous chord. The final element is the main
// key, the rest are held as modifiers.
func (d *RobotDispatcher) KeyCombo(keys []string) error {
	main := keys[len(keys)-1]
	mods := make([]interface{}, 0, len(keys)-1)
	for _, m := range keys[:len(keys)-1] {
		mods = append(mods, m)
	}
	return robotgo.KeyTap(main, mods...)
}

// TypeText types the literal text as a sequence of keystrokes
func (d *RobotDispatcher) TypeText(text string) error {
	robotgo.TypeStr(text)
	return nil
}

// ScreenSize returns the local screen dimensions in pixels
func (d *RobotDispatcher) ScreenSize() (int, int) {
	return robotgo.GetScreenSize()
}

// PointerPosition returns the current pointer location
func (d *RobotDispatcher) PointerPosition() (int, int) {
	return robotgo.Location()
}
