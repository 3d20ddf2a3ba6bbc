package canonical

// scancodeTable maps a virtual-key code to its IBM PC/AT Set-1 make code,
// the byte the output synthesizer's SendInput call needs alongside
// KEYEVENTF_SCANCODE so synthetic input matches what a real keyboard
// driver reports. Extended keys (see IsExtended) additionally require the
// 0xE0 prefix the injector applies itself.
var scancodeTable = map[uint16]uint16{
	vkBack: 0x0E, vkTab: 0x0F, vkReturn: 0x1C, vkEscape: 0x01, vkSpace: 0x39,
	vkPrior: 0x49, vkNext: 0x51, vkEnd: 0x4F, vkHome: 0x47,
	vkLeft: 0x4B, vkUp: 0x48, vkRight: 0x4D, vkDown: 0x50,
	vkSnapshot: 0x37, vkInsert: 0x52, vkDelete: 0x53,
	vkPause: 0x45, vkCapital: 0x3A, vkNumlock: 0x45, vkScroll: 0x46,
	vkLWin: 0x5B, vkRWin: 0x5C,
	vkLShift: 0x2A, vkRShift: 0x36, vkLControl: 0x1D, vkRControl: 0x1D,
	vkLMenu: 0x38, vkRMenu: 0x38,
	vkNumpad0 + 0: 0x52, vkNumpad0 + 1: 0x4F, vkNumpad0 + 2: 0x50,
	vkNumpad0 + 3: 0x51, vkNumpad0 + 4: 0x4B, vkNumpad0 + 5: 0x4C,
	vkNumpad0 + 6: 0x4D, vkNumpad0 + 7: 0x47, vkNumpad0 + 8: 0x48,
	vkNumpad0 + 9: 0x49,
	vkMultiply: 0x37, vkAdd: 0x4E, vkSubtract: 0x4A, vkDecimal: 0x53, vkDivide: 0x35,
	vkOEM1: 0x27, vkOEMPlus: 0x0D, vkOEMComma: 0x33, vkOEMMinus: 0x0C,
	vkOEMPeriod: 0x34, vkOEM2: 0x35, vkOEM3: 0x29, vkOEM4: 0x1A,
	vkOEM5: 0x2B, vkOEM6: 0x1B, vkOEM7: 0x28,
	'A': 0x1E, 'B': 0x30, 'C': 0x2E, 'D': 0x20, 'E': 0x12, 'F': 0x21,
	'G': 0x22, 'H': 0x23, 'I': 0x17, 'J': 0x24, 'K': 0x25, 'L': 0x26,
	'M': 0x32, 'N': 0x31, 'O': 0x18, 'P': 0x19, 'Q': 0x10, 'R': 0x13,
	'S': 0x1F, 'T': 0x14, 'U': 0x16, 'V': 0x2F, 'W': 0x11, 'X': 0x2D,
	'Y': 0x15, 'Z': 0x2C,
	'0': 0x0B, '1': 0x02, '2': 0x03, '3': 0x04, '4': 0x05,
	'5': 0x06, '6': 0x07, '7': 0x08, '8': 0x09, '9': 0x0A,
	vkF1 + 0: 0x3B, vkF1 + 1: 0x3C, vkF1 + 2: 0x3D, vkF1 + 3: 0x3E,
	vkF1 + 4: 0x3F, vkF1 + 5: 0x40, vkF1 + 6: 0x41, vkF1 + 7: 0x42,
	vkF1 + 8: 0x43, vkF1 + 9: 0x44, vkF1 + 10: 0x57, vkF1 + 11: 0x58,
}

// ScancodeForVK returns the Set-1 make code for vk, the extended flag it
// carries (mirroring IsExtended), and whether vk is in the table. Callers
// synthesizing a key the table doesn't cover should fall back to the
// platform's own VK-to-scancode translation.
func ScancodeForVK(vk uint16) (scancode uint16, extended bool, ok bool) {
	sc, ok := scancodeTable[vk]
	return sc, IsExtended(vk), ok
}
