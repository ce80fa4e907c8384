package main

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leeineian/jukebox/proc"
)

func queueEntries(n int, playing bool) []proc.Entry {
	var out []proc.Entry
	if playing {
		out = append(out, proc.Entry{
			Song:  proc.Song{Title: "Current", PageURL: "https://www.youtube.com/watch?v=cur", Requester: "ann", Duration: 3 * time.Minute},
			State: proc.NowPlaying,
		})
	}
	for i := 1; i <= n; i++ {
		out = append(out, proc.Entry{
			Song:     proc.Song{ID: i, Title: fmt.Sprintf("Song %d", i), PageURL: fmt.Sprintf("https://youtu.be/%d", i), Requester: "bob"},
			State:    proc.Ready,
			Position: i,
		})
	}
	return out
}

func text(t *testing.T, c any) string {
	t.Helper()
	td, ok := c.(TextDisplay)
	require.True(t, ok, "expected TextDisplay, got %T", c)
	return td.Content
}

func TestRenderQueueFirstPage(t *testing.T) {
	c := renderQueue(queueEntries(12, true), proc.Progress{}, 0)
	require.Len(t, c.Components, 5)

	section, ok := c.Components[0].(Section)
	require.True(t, ok)
	assert.Contains(t, text(t, section.Components[0]), "Current")
	assert.Equal(t, Thumbnail{Media: UnfurledMediaItem{URL: "https://i.ytimg.com/vi/cur/hqdefault.jpg"}}, section.Accessory)

	body := text(t, c.Components[2])
	assert.Contains(t, body, "`1.`")
	assert.Contains(t, body, "`10.`")
	assert.NotContains(t, body, "`11.`")
	assert.Equal(t, "-# Page 1/2 · 12 songs", text(t, c.Components[3]))

	_, ok = c.Components[4].(discord.ActionRowComponent)
	assert.True(t, ok)
}

func TestRenderQueueLastPageAndClamp(t *testing.T) {
	for _, page := range []int{1, 99} {
		c := renderQueue(queueEntries(12, false), proc.Progress{}, page)
		require.Len(t, c.Components, 3)
		body := text(t, c.Components[0])
		assert.Contains(t, body, "`11.`")
		assert.Contains(t, body, "`12.`")
		assert.NotContains(t, body, "`10.`")
		assert.Contains(t, text(t, c.Components[1]), "Page 2/2")
	}
}

func TestRenderQueueEmpty(t *testing.T) {
	c := renderQueue(nil, proc.Progress{}, 3)
	require.Len(t, c.Components, 2)
	assert.Contains(t, text(t, c.Components[0]), MsgMusicQueueEmpty)
	assert.Equal(t, "-# Page 1/1 · 0 songs", text(t, c.Components[1]))
}

func TestQueueFooterProgress(t *testing.T) {
	assert.Equal(t, "-# Page 1/3 · 25 songs · still adding 40 items",
		queueFooter(0, 3, 25, proc.Progress{Adding: true, Pending: 40}))
	assert.Equal(t, "-# Page 2/3 · 25 songs · still adding",
		queueFooter(1, 3, 25, proc.Progress{Adding: true}))
}

func TestQueueLineIcons(t *testing.T) {
	line := queueLine(proc.Entry{
		Song:     proc.Song{Title: "Lo*fi", PageURL: "https://youtu.be/x", Requester: "cat", Duration: 95 * time.Second, Marker: proc.MarkerShuffled},
		State:    proc.Ready,
		Position: 3,
	})
	assert.Equal(t, "✅🔀 `3.` [Lo\\*fi](<https://youtu.be/x>) · `1:35` · cat", line)

	line = queueLine(proc.Entry{Song: proc.Song{Title: "raw", Marker: proc.MarkerDeferred}, State: proc.Preparing, Position: 7})
	assert.True(t, strings.HasPrefix(line, "⏳❇️ `7.` raw"), line)
}

func TestQueueNavRow(t *testing.T) {
	ids := func(row discord.ActionRowComponent) ([]string, []bool) {
		var ids []string
		var disabled []bool
		for _, c := range row.Components {
			b := c.(discord.ButtonComponent)
			ids = append(ids, b.CustomID)
			disabled = append(disabled, b.Disabled)
		}
		return ids, disabled
	}

	got, disabled := ids(queueNavRow(0, 3))
	assert.Equal(t, []string{"queue:0:first", "queue:0:prev", "queue:1:next", "queue:2:last"}, got)
	assert.Equal(t, []bool{true, true, false, false}, disabled)
	assert.Len(t, lo.Uniq(got), 4)

	got, disabled = ids(queueNavRow(2, 3))
	assert.Equal(t, []string{"queue:0:first", "queue:1:prev", "queue:2:next", "queue:2:last"}, got)
	assert.Equal(t, []bool{false, false, true, true}, disabled)
}

func TestParseQueuePage(t *testing.T) {
	page, ok := parseQueuePage("queue:3:next")
	assert.True(t, ok)
	assert.Equal(t, 3, page)

	for _, id := range []string{"queue:x", "queue:-1:prev", "other:1", ""} {
		_, ok := parseQueuePage(id)
		assert.False(t, ok, id)
	}
}

func TestProgressText(t *testing.T) {
	job := proc.Job{First: proc.Song{Title: "First", PageURL: "https://youtu.be/f"}, Streaming: true}
	added := fmt.Sprintf(MsgMusicAdded, "First", "https://youtu.be/f")

	assert.Equal(t, added+MsgMusicAddingMore, progressText(job, nil))
	assert.Equal(t, added+"\n"+fmt.Sprintf(MsgMusicProgress, 6, 1, 10),
		progressText(job, &proc.Report{Added: 6, Failed: 1, Remaining: 10}))
	assert.Equal(t, added+"\n"+fmt.Sprintf(MsgMusicProgressDone, 10, 2),
		progressText(job, &proc.Report{Added: 10, Failed: 2, Done: true}))

	single := proc.Job{First: job.First}
	assert.Equal(t, added, progressText(single, &proc.Report{Added: 1, Done: true}))
}

func TestRenderHistory(t *testing.T) {
	c := renderHistory(nil, time.Time{})
	assert.Contains(t, text(t, c.Components[0]), MsgMusicHistoryEmpty)

	since := time.Unix(1700000000, 0)
	c = renderHistory([]*HistoryEntry{
		{Title: "A", URL: "https://youtu.be/a", Requester: "ann", PlayedAt: since.Add(time.Hour)},
	}, since)
	body := text(t, c.Components[0])
	assert.Contains(t, body, "<t:1700000000:R>")
	assert.Contains(t, body, "`1.` [A](<https://youtu.be/a>) · ann")
}
