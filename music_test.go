package main

import (
	"strings"
	"testing"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSinceDuration(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	got, err := parseSince("30m", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-30*time.Minute), got)

	got, err = parseSince(" 2h ", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-2*time.Hour), got)
}

func TestParseSinceNaturalLanguage(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	got, err := parseSince("2 hours ago", now)
	require.NoError(t, err)
	assert.WithinDuration(t, now.Add(-2*time.Hour), got, time.Minute)
}

func TestParseSinceRejectsGarbage(t *testing.T) {
	_, err := parseSince("definitely not a time", time.Now())
	assert.Error(t, err)
}

func TestChoice(t *testing.T) {
	c := choice("Song", "https://youtu.be/a").(discord.AutocompleteChoiceString)
	assert.Equal(t, "Song", c.Name)
	assert.Equal(t, "https://youtu.be/a", c.Value)

	long := "https://www.youtube.com/watch?v=a&list=" + strings.Repeat("x", 120)
	c = choice(strings.Repeat("t", 150), long).(discord.AutocompleteChoiceString)
	assert.Len(t, c.Name, maxChoiceLen)
	assert.Equal(t, c.Name, c.Value)
}
