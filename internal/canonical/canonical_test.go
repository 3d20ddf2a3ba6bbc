package canonical

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	// format(parse(s)) must be a fixed point: re-parsing the formatted
	// string always yields the identical token, regardless of the raw
	// input's case or spelling quirks.
	samples := []string{
		"a", "Z", "5", "lctrl", "RSHIFT", "F1", "f24", "SPACE", "enter",
		"mouse_l", "MOUSE_X2", "wheel_up",
		"GAMEPAD_045E_A", "gamepad_045e_ls_click",
		"GAMEPAD_045E_LS_RightUp", "gamepad_045e_ls_rightup",
		"DEVICE_046D_C21D_ABC123_B2.0",
		"shift",
	}
	for _, s := range samples {
		tok, err := ParseToken(s)
		require.NoError(t, err, "token %q", s)

		reparsed, err := ParseToken(tok.Format())
		require.NoError(t, err, "re-parsing formatted token %q", tok.Format())
		require.Equal(t, tok, reparsed, "round trip for %q", s)
	}
}

func TestGamepadStickTokenCasePreservedRegardlessOfInput(t *testing.T) {
	mixed, err := ParseToken("GAMEPAD_045E_LS_RightUp")
	require.NoError(t, err)
	lower, err := ParseToken("gamepad_045e_ls_rightup")
	require.NoError(t, err)
	require.Equal(t, mixed, lower)
	require.Equal(t, Token("GAMEPAD_045E_LS_RightUp"), mixed)
}

func TestShiftRewrittenToLShift(t *testing.T) {
	tok, err := ParseToken("shift")
	require.NoError(t, err)
	require.Equal(t, Token("LSHIFT"), tok)
}

func TestLShiftRShiftDistinct(t *testing.T) {
	l, err := ParseToken("LSHIFT")
	require.NoError(t, err)
	r, err := ParseToken("RSHIFT")
	require.NoError(t, err)
	require.NotEqual(t, l, r)
}

func TestUnknownTokenRejected(t *testing.T) {
	_, err := ParseToken("NOT_A_REAL_KEY")
	require.Error(t, err)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
}

func TestChordModifierExcludesMain(t *testing.T) {
	c, err := ParseChord("LSHIFT+A")
	require.NoError(t, err)
	require.Equal(t, Token("A"), c.Main)
	require.Equal(t, ModLShift, c.Modifiers)
	require.Equal(t, "LSHIFT+A", c.Format())
}

func TestChordMultipleMainKeysRejected(t *testing.T) {
	_, err := ParseChord("A+B")
	require.Error(t, err)
}

func TestChordFormatCanonicalOrder(t *testing.T) {
	c, err := ParseChord("A+LALT+LCTRL")
	require.NoError(t, err)
	require.Equal(t, "LCTRL+LALT+A", c.Format())
}

func TestChordEqual(t *testing.T) {
	a, err := ParseChord("LCTRL+C")
	require.NoError(t, err)
	b, err := ParseChord("C+LCTRL")
	require.NoError(t, err)
	require.True(t, a.Equal(b))

	// "CTRL" is not a recognized alias (only SHIFT rewrites), so this must
	// fail to parse rather than silently collide with LCTRL+C.
	_, err = ParseChord("ctrl+c")
	require.Error(t, err)
}

func TestGamepadStickTokenFormat(t *testing.T) {
	tok := FormatGamepadStickToken(0x045E, "LS", DirDownRight)
	require.Equal(t, Token("GAMEPAD_045E_LS_DownRight"), tok)
	parsed, err := ParseToken(string(tok))
	require.NoError(t, err)
	require.Equal(t, tok, parsed)
}

func TestHIDTokenFormat(t *testing.T) {
	tok := FormatHIDToken(0x046D, 0xC21D, "ABC123", 2, 0)
	require.Equal(t, Token("DEVICE_046D_C21D_ABC123_B2.0"), tok)
}

func TestDirectionCardinals(t *testing.T) {
	a, b := DirDownRight.Cardinals()
	require.Equal(t, DirDown, a)
	require.Equal(t, DirRight, b)
}

func TestExtendedVKTable(t *testing.T) {
	upVK, _ := Token("UP").VK()
	require.True(t, IsExtended(upVK))
	aVK, _ := Token("A").VK()
	require.False(t, IsExtended(aVK))
}

func TestKeyboardInputToken(t *testing.T) {
	vk, ok := Token("A").VK()
	require.True(t, ok)
	in := Keyboard{VK: vk, Pressed: true}
	require.Equal(t, Token("A"), in.Token())
}

func TestHashStableAcrossCalls(t *testing.T) {
	h1 := Token("LCTRL").Hash()
	h2 := Token("LCTRL").Hash()
	require.Equal(t, h1, h2)
	require.NotEqual(t, h1, Token("RCTRL").Hash())
}
