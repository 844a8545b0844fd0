package input

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ferrovax/deskrelay/pkg/logger"
)

type dispatchedCall struct {
	op     string
	x, y   int
	button string
	double bool
	delta  int
	key    string
	keys   []string
	text   string
}

type fakeDispatcher struct {
	w, h   int
	px, py int
	err    error
	calls  []dispatchedCall
}

func (f *fakeDispatcher) record(c dispatchedCall) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, c)
	return nil
}

func (f *fakeDispatcher) Move(x, y int) error {
	return f.record(dispatchedCall{op: "move", x: x, y: y})
}

func (f *fakeDispatcher) Click(x, y int, button string, double bool) error {
	return f.record(dispatchedCall{op: "click", x: x, y: y, button: button, double: double})
}

func (f *fakeDispatcher) ButtonDown(x, y int, button string) error {
	return f.record(dispatchedCall{op: "button_down", x: x, y: y, button: button})
}

func (f *fakeDispatcher) ButtonUp(x, y int, button string) error {
	return f.record(dispatchedCall{op: "button_up", x: x, y: y, button: button})
}

func (f *fakeDispatcher) Scroll(x, y, delta int) error {
	return f.record(dispatchedCall{op: "scroll", x: x, y: y, delta: delta})
}

func (f *fakeDispatcher) KeyTap(key string) error {
	return f.record(dispatchedCall{op: "key_tap", key: key})
}

func (f *fakeDispatcher) KeyDown(key string) error {
	return f.record(dispatchedCall{op: "key_down", key: key})
}

func (f *fakeDispatcher) KeyUp(key string) error {
	return f.record(dispatchedCall{op: "key_up", key: key})
}

func (f *fakeDispatcher) KeyCombo(keys []string) error {
	return f.record(dispatchedCall{op: "key_combo", keys: keys})
}

func (f *fakeDispatcher) TypeText(text string) error {
	return f.record(dispatchedCall{op: "type_text", text: text})
}

func (f *fakeDispatcher) ScreenSize() (int, int) {
	return f.w, f.h
}

func (f *fakeDispatcher) PointerPosition() (int, int) {
	return f.px, f.py
}

func (f *fakeDispatcher) last(t *testing.T) dispatchedCall {
	t.Helper()
	require.NotEmpty(t, f.calls)
	return f.calls[len(f.calls)-1]
}

func newTestController(w, h int) (*Controller, *fakeDispatcher) {
	fake := &fakeDispatcher{w: w, h: h}
	return NewController(fake, logger.NewNop()), fake
}

func TestActionsRequireAuthorization(t *testing.T) {
	c, fake := newTestController(1920, 1080)

	actions := map[string]func() error{
		"move":   func() error { return c.PointerMove("conn", 10, 10, 100, 100) },
		"button": func() error { return c.PointerButton("conn", 10, 10, 100, 100, "left", "single") },
		"scroll": func() error { return c.PointerScroll("conn", 10, 10, 100, 100, 3) },
		"key":    func() error { return c.KeyAction("conn", "Enter", "press") },
		"combo":  func() error { return c.KeyCombination("conn", []string{"ctrl", "c"}) },
		"text":   func() error { return c.TextInput("conn", "hello") },
	}
	for name, fn := range actions {
		require.ErrorIs(t, fn(), ErrNotAuthorized, name)
	}
	require.Empty(t, fake.calls)

	// The identical sequence goes through once the connection is authorized
	c.Authorize("conn")
	for name, fn := range actions {
		require.NoError(t, fn(), name)
	}
	require.Len(t, fake.calls, len(actions))
}

func TestAuthorizeRevokeLifecycle(t *testing.T) {
	c, fake := newTestController(1920, 1080)

	require.False(t, c.IsAuthorized("conn-1"))
	c.Authorize("conn-1")
	require.True(t, c.IsAuthorized("conn-1"))

	require.NoError(t, c.PointerMove("conn-1", 0, 0, 100, 100))
	require.Len(t, fake.calls, 1)

	c.Revoke("conn-1")
	require.False(t, c.IsAuthorized("conn-1"))
	require.ErrorIs(t, c.PointerMove("conn-1", 0, 0, 100, 100), ErrNotAuthorized)
	require.Len(t, fake.calls, 1)
}

func TestPointerRemapScalesToLocalScreen(t *testing.T) {
	c, fake := newTestController(1920, 1080)
	c.Authorize("conn")

	require.NoError(t, c.PointerMove("conn", 640, 360, 1280, 720))
	call := fake.last(t)
	require.Equal(t, 960, call.x)
	require.Equal(t, 540, call.y)
}

func TestPointerRemapIdentityWhenDimensionsMatch(t *testing.T) {
	c, fake := newTestController(1920, 1080)
	c.Authorize("conn")

	// Matching viewport and screen dimensions pass coordinates through unchanged
	require.NoError(t, c.PointerMove("conn", 640, 360, 1920, 1080))
	call := fake.last(t)
	require.Equal(t, 640, call.x)
	require.Equal(t, 360, call.y)

	// Out-of-range input still clamps to the addressable area
	require.NoError(t, c.PointerMove("conn", -5, 1085, 1920, 1080))
	call = fake.last(t)
	require.Equal(t, 0, call.x)
	require.Equal(t, 1079, call.y)
}

func TestPointerRemapRoundsToNearest(t *testing.T) {
	c, fake := newTestController(10, 10)
	c.Authorize("conn")

	// 2/3*10 = 6.67 and 1/3*10 = 3.33; truncation would give (6, 3)
	require.NoError(t, c.PointerMove("conn", 2, 1, 3, 3))
	call := fake.last(t)
	require.Equal(t, 7, call.x)
	require.Equal(t, 3, call.y)
}

func TestPointerRemapClampsToScreen(t *testing.T) {
	c, fake := newTestController(1920, 1080)
	c.Authorize("conn")

	require.NoError(t, c.PointerMove("conn", -5, 2000, 1280, 720))
	call := fake.last(t)
	require.Equal(t, 0, call.x)
	require.Equal(t, 1079, call.y)

	// The far edge lands on the last addressable pixel
	require.NoError(t, c.PointerMove("conn", 1280, 720, 1280, 720))
	call = fake.last(t)
	require.Equal(t, 1919, call.x)
	require.Equal(t, 1079, call.y)
}

func TestPointerRemapRejectsBadViewport(t *testing.T) {
	c, fake := newTestController(1920, 1080)
	c.Authorize("conn")

	require.Error(t, c.PointerMove("conn", 10, 10, 0, 720))
	require.Error(t, c.PointerMove("conn", 10, 10, 1280, -1))
	require.Empty(t, fake.calls)
}

func TestClickVariants(t *testing.T) {
	c, fake := newTestController(1920, 1080)
	c.Authorize("conn")

	require.NoError(t, c.PointerButton("conn", 640, 360, 1280, 720, "left", "single"))
	call := fake.last(t)
	require.Equal(t, "click", call.op)
	require.Equal(t, "left", call.button)
	require.False(t, call.double)
	require.Equal(t, 960, call.x)
	require.Equal(t, 540, call.y)

	require.NoError(t, c.PointerButton("conn", 0, 0, 1280, 720, "right", "double"))
	call = fake.last(t)
	require.Equal(t, "click", call.op)
	require.True(t, call.double)

	require.NoError(t, c.PointerButton("conn", 0, 0, 1280, 720, "left", "down"))
	require.Equal(t, "button_down", fake.last(t).op)

	require.NoError(t, c.PointerButton("conn", 0, 0, 1280, 720, "left", "up"))
	require.Equal(t, "button_up", fake.last(t).op)

	before := len(fake.calls)
	require.Error(t, c.PointerButton("conn", 0, 0, 1280, 720, "left", "triple"))
	require.Error(t, c.PointerButton("conn", 0, 0, 1280, 720, "side", "single"))
	require.Len(t, fake.calls, before)
}

func TestPointerScroll(t *testing.T) {
	c, fake := newTestController(1920, 1080)
	c.Authorize("conn")

	require.NoError(t, c.PointerScroll("conn", 640, 360, 1280, 720, -3))
	call := fake.last(t)
	require.Equal(t, "scroll", call.op)
	require.Equal(t, 960, call.x)
	require.Equal(t, 540, call.y)
	require.Equal(t, -3, call.delta)
}

func TestKeyActionMapsSymbolicNames(t *testing.T) {
	c, fake := newTestController(1920, 1080)
	c.Authorize("conn")

	require.NoError(t, c.KeyAction("conn", "Enter", "press"))
	require.Equal(t, dispatchedCall{op: "key_tap", key: "enter"}, fake.last(t))

	require.NoError(t, c.KeyAction("conn", "ArrowLeft", "press"))
	require.Equal(t, "left", fake.last(t).key)

	require.NoError(t, c.KeyAction("conn", "F5", "press"))
	require.Equal(t, "f5", fake.last(t).key)

	// Unmapped keys fall back to lower-casing
	require.NoError(t, c.KeyAction("conn", "Q", "press"))
	require.Equal(t, "q", fake.last(t).key)

	require.NoError(t, c.KeyAction("conn", "Shift", "down"))
	require.Equal(t, "key_down", fake.last(t).op)
	require.NoError(t, c.KeyAction("conn", "Shift", "up"))
	require.Equal(t, "key_up", fake.last(t).op)

	require.Error(t, c.KeyAction("conn", "Enter", "hold"))
}

func TestKeyCombinationNormalizesModifiers(t *testing.T) {
	c, fake := newTestController(1920, 1080)
	c.Authorize("conn")

	require.NoError(t, c.KeyCombination("conn", []string{"Ctrl", "Shift", "T"}))
	require.Equal(t, []string{"ctrl", "shift", "t"}, fake.last(t).keys)

	require.NoError(t, c.KeyCombination("conn", []string{"Win", "e"}))
	require.Equal(t, []string{"cmd", "e"}, fake.last(t).keys)

	require.NoError(t, c.KeyCombination("conn", []string{"CMD", "Tab"}))
	require.Equal(t, []string{"cmd", "tab"}, fake.last(t).keys)

	require.Error(t, c.KeyCombination("conn", nil))
}

func TestTextInput(t *testing.T) {
	c, fake := newTestController(1920, 1080)
	c.Authorize("conn")

	require.NoError(t, c.TextInput("conn", "hello remote"))
	call := fake.last(t)
	require.Equal(t, "type_text", call.op)
	require.Equal(t, "hello remote", call.text)
}

func TestDispatchFailureDoesNotKillTheChannel(t *testing.T) {
	c, fake := newTestController(1920, 1080)
	c.Authorize("conn")

	fake.err = errors.New("injection blocked")
	err := c.PointerMove("conn", 0, 0, 100, 100)
	require.ErrorContains(t, err, "injection blocked")

	// Subsequent valid actions still go through
	fake.err = nil
	require.NoError(t, c.PointerMove("conn", 0, 0, 100, 100))
}

func TestStats(t *testing.T) {
	c, fake := newTestController(2560, 1440)
	fake.px, fake.py = 123, 456
	c.Authorize("a")
	c.Authorize("b")

	st := c.Stats()
	require.Equal(t, 2560, st.ScreenWidth)
	require.Equal(t, 1440, st.ScreenHeight)
	require.Equal(t, 2, st.Authorized)
	require.Equal(t, 123, st.PointerX)
	require.Equal(t, 456, st.PointerY)
}

func TestMapKeyFallback(t *testing.T) {
	require.Equal(t, "esc", MapKey("Escape"))
	require.Equal(t, "pageup", MapKey("PageUp"))
	require.Equal(t, "a", MapKey("A"))
	require.Equal(t, "capslock", MapKey("CapsLock"))
}
