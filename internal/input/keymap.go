package input

import "strings"

// keyNames maps the symbolic key names sent by viewer clients (browser
// KeyboardEvent values) to the names understood by the local automation
// layer. Anything not listed falls back to its lower-cased raw value.
var keyNames = map[string]string{
	"Enter":      "enter",
	"Backspace":  "backspace",
	"Delete":     "delete",
	"Tab":        "tab",
	"Escape":     "esc",
	"Space":      "space",
	"ArrowUp":    "up",
	"ArrowDown":  "down",
	"ArrowLeft":  "left",
	"ArrowRight": "right",
	"Home":       "home",
	"End":        "end",
	"PageUp":     "pageup",
	"PageDown":   "pagedown",
	"Insert":     "insert",
	"F1":         "f1",
	"F2":         "f2",
	"F3":         "f3",
	"F4":         "f4",
	"F5":         "f5",
	"F6":         "f6",
	"F7":         "f7",
	"F8":         "f8",
	"F9":         "f9",
	"F10":        "f10",
	"F11":        "f11",
	"F12":        "f12",
}

// MapKey resolves a symbolic key name to the local key-event name
func MapKey(key string) string {
	if mapped, ok := keyNames[key]; ok {
		return mapped
	}
	return strings.ToLower(key)
}

// NormalizeChord canonicalizes the keys of a simultaneous chord. Modifier
// names are folded case-insensitively; "win" and "cmd" both resolve to the
// local OS/meta key. Remaining keys go through MapKey.
func NormalizeChord(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		switch strings.ToLower(k) {
		case "ctrl":
			out = append(out, "ctrl")
		case "alt":
			out = append(out, "alt")
		case "shift":
			out = append(out, "shift")
		case "win", "cmd":
			out = append(out, "cmd")
		default:
			out = append(out, MapKey(k))
		}
	}
	return out
}
