package main

// modifierNames maps the modifier bitmask byte of a keyboard report to
// the modifier name, for single-modifier reports.
var modifierNames = map[byte]string{
	0x01: "LCTRL",
	0x02: "LSHIFT",
	0x04: "LALT",
	0x08: "LGUI",
	0x10: "RCTRL",
	0x20: "RSHIFT",
	0x40: "RALT",
	0x80: "RGUI",
}

// keyNames maps HID keyboard usage codes to key names, covering the
// keys present on the KU1255 matrix.
var keyNames = map[byte]string{
	0x01: "(rollover)",
	0x04: "A",
	0x05: "B",
	0x06: "C",
	0x07: "D",
	0x08: "E",
	0x09: "F",
	0x0a: "G",
	0x0b: "H",
	0x0c: "I",
	0x0d: "J",
	0x0e: "K",
	0x0f: "L",
	0x10: "M",
	0x11: "N",
	0x12: "O",
	0x13: "P",
	0x14: "Q",
	0x15: "R",
	0x16: "S",
	0x17: "T",
	0x18: "U",
	0x19: "V",
	0x1a: "W",
	0x1b: "X",
	0x1c: "Y",
	0x1d: "Z",
	0x1e: "1",
	0x1f: "2",
	0x20: "3",
	0x21: "4",
	0x22: "5",
	0x23: "6",
	0x24: "7",
	0x25: "8",
	0x26: "9",
	0x27: "0",
	0x28: "RETURN",
	0x29: "ESCAPE",
	0x2a: "BACKSPACE",
	0x2b: "TAB",
	0x2c: "SPACE",
	0x2d: "MINUS",
	0x2e: "EQUALS",
	0x2f: "LEFTBRACKET",
	0x30: "RIGHTBRACKET",
	0x31: "BACKSLASH",
	0x32: "NONUSHASH",
	0x33: "SEMICOLON",
	0x34: "APOSTROPHE",
	0x35: "GRAVE",
	0x36: "COMMA",
	0x37: "PERIOD",
	0x38: "SLASH",
	0x39: "CAPSLOCK",
	0x3a: "F1",
	0x3b: "F2",
	0x3c: "F3",
	0x3d: "F4",
	0x3e: "F5",
	0x3f: "F6",
	0x40: "F7",
	0x41: "F8",
	0x42: "F9",
	0x43: "F10",
	0x44: "F11",
	0x45: "F12",
	0x46: "PRINTSCREEN",
	0x48: "PAUSE",
	0x49: "INSERT",
	0x4a: "HOME",
	0x4b: "PAGEUP",
	0x4c: "DELETE",
	0x4d: "END",
	0x4e: "PAGEDOWN",
	0x4f: "RIGHT",
	0x50: "LEFT",
	0x51: "DOWN",
	0x52: "UP",
	0x64: "NONUSBACKSLASH",
	0x87: "INTERNATIONAL1",
	0x88: "INTERNATIONAL2",
	0x89: "INTERNATIONAL3",
	0x8a: "INTERNATIONAL4",
	0x8b: "INTERNATIONAL5",
	0xd0: "KP_MEMSTORE",
	0xd2: "KP_MEMCLEAR",
	0xd4: "KP_MEMSUBTRACT",
}
