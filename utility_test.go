package main

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "hello...", Truncate("hello world", 8))
	assert.Equal(t, "é...", Truncate("ééééé", 4))
	assert.Equal(t, "he", Truncate("hello", 2))
}

func TestTruncateCenter(t *testing.T) {
	assert.Equal(t, "abc", TruncateCenter("abc", 5))
	assert.Equal(t, "ab...ij", TruncateCenter("abcdefghij", 7))
}

func TestTruncateWithPreserve(t *testing.T) {
	got := TruncateWithPreserve("abcdefghijklmnopqrstuvwxyz", 20, "[YT] ", "")
	assert.Equal(t, "[YT] abcdef...uvwxyz", got)

	assert.Equal(t, "🎶 song · band", TruncateWithPreserve("song", 128, "🎶 ", " · band"))
}

func TestEscapeMarkdown(t *testing.T) {
	assert.Equal(t, `a\*b\_\[c\]`, EscapeMarkdown("a*b_[c]"))
	assert.Equal(t, "plain text", EscapeMarkdown("plain text"))
	assert.Equal(t, "\\`x\\`", EscapeMarkdown("`x`"))
}

func TestFormatDuration(t *testing.T) {
	cases := map[time.Duration]string{
		0:                           "live",
		-time.Second:                "live",
		65 * time.Second:            "1:05",
		3725 * time.Second:          "1:02:05",
		59600 * time.Millisecond:    "1:00",
		10 * time.Hour:              "10:00:00",
		4*time.Minute + time.Second: "4:01",
	}
	for d, want := range cases {
		assert.Equal(t, want, FormatDuration(d), d.String())
	}
}

func TestV2ComponentsMarshalWithType(t *testing.T) {
	c := NewV2Container(NewTextDisplay("hi"), NewSeparator(true))
	c.AccentColor = 0xff

	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": 17,
		"accent_color": 255,
		"components": [
			{"type": 10, "content": "hi"},
			{"type": 14, "divider": true}
		]
	}`, string(data))
}

func TestNewSection(t *testing.T) {
	assert.Equal(t, NewTextDisplay("x"), NewSection("x", ""))

	data, err := json.Marshal(NewSection("x", "https://i.ytimg.com/vi/a/hqdefault.jpg"))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": 9,
		"components": [{"type": 10, "content": "x"}],
		"accessory": {"type": 11, "media": {"url": "https://i.ytimg.com/vi/a/hqdefault.jpg"}}
	}`, string(data))
}

func TestV2Body(t *testing.T) {
	body := v2Body(NewV2Container(), true)
	assert.NotZero(t, body.Flags&MessageFlagsIsComponentsV2)
	assert.Len(t, body.Components, 1)

	body = v2Body(NewV2Container(), false)
	assert.Equal(t, MessageFlagsIsComponentsV2, body.Flags)
}
