package main

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/samber/lo"
	"golang.org/x/time/rate"

	"github.com/leeineian/jukebox/proc"
)

const (
	queuePageSize   = 10
	queueButtonID   = "queue:"
	queueTitleLen   = 60
	queueAccent     = 0x5865F2
	progressEvery   = 2 * time.Second
	progressBurst   = 1
	historyPageSize = 15
)

// ===========================
// Queue view
// ===========================

func queuePageCount(n int) int {
	return max(1, (n+queuePageSize-1)/queuePageSize)
}

func clampPage(page, pages int) int {
	return min(max(page, 0), pages-1)
}

var stateIcons = map[proc.DisplayState]string{
	proc.NowPlaying: "🔊",
	proc.Ready:      "✅",
	proc.Preparing:  "⏳",
}

var markerIcons = map[proc.ShuffleMarker]string{
	proc.MarkerNormal:   "▶️",
	proc.MarkerDeferred: "❇️",
	proc.MarkerShuffled: "🔀",
}

// songLink renders a masked link, or the bare title when the song has no page.
func songLink(s proc.Song) string {
	title := EscapeMarkdown(Truncate(s.Title, queueTitleLen))
	if link := s.Link(); link != "" {
		return fmt.Sprintf("[%s](<%s>)", title, link)
	}
	return title
}

func queueLine(e proc.Entry) string {
	return fmt.Sprintf("%s%s `%d.` %s · `%s` · %s",
		stateIcons[e.State], markerIcons[e.Marker], e.Position, songLink(e.Song),
		FormatDuration(e.Duration), EscapeMarkdown(e.Requester))
}

func nowPlayingText(s proc.Song) string {
	var sb strings.Builder
	sb.WriteString("🔊 **Now playing**\n")
	sb.WriteString(songLink(s))
	if s.Uploader != "" {
		sb.WriteString(" · " + EscapeMarkdown(s.Uploader))
	}
	fmt.Fprintf(&sb, "\n`%s` · requested by %s", FormatDuration(s.Duration), EscapeMarkdown(s.Requester))
	return sb.String()
}

func queueFooter(page, pages, n int, progress proc.Progress) string {
	footer := fmt.Sprintf(MsgMusicQueueFooter, page+1, pages, n)
	switch {
	case progress.Pending > 0:
		footer += fmt.Sprintf(MsgMusicQueueAdding, progress.Pending)
	case progress.Adding:
		footer += MsgMusicQueueStreaming
	}
	return "-# " + footer
}

// renderQueue builds one page of the queue listing from a Show snapshot. The
// playing song is shown above every page.
func renderQueue(entries []proc.Entry, progress proc.Progress, page int) Container {
	var current *proc.Entry
	if len(entries) > 0 && entries[0].State == proc.NowPlaying {
		current = &entries[0]
		entries = entries[1:]
	}

	pages := queuePageCount(len(entries))
	page = clampPage(page, pages)

	c := Container{AccentColor: queueAccent}
	if current != nil {
		c.Components = append(c.Components, NewSection(nowPlayingText(current.Song), thumbnailURL(current.Link())), NewSeparator(true))
	}

	body := MsgMusicQueueHeader + "\n"
	if len(entries) == 0 {
		body += MsgMusicQueueEmpty
	} else {
		lines := lo.Map(lo.Subset(entries, page*queuePageSize, queuePageSize), func(e proc.Entry, _ int) string {
			return queueLine(e)
		})
		body += strings.Join(lines, "\n")
	}
	c.Components = append(c.Components,
		NewTextDisplay(body),
		NewTextDisplay(queueFooter(page, pages, len(entries), progress)),
	)
	if pages > 1 {
		c.Components = append(c.Components, queueNavRow(page, pages))
	}
	return c
}

// queueNavRow builds the pagination buttons. Custom ids carry the target page
// and a slot suffix so that buttons pointing at the same page stay unique.
func queueNavRow(page, pages int) discord.ActionRowComponent {
	last := pages - 1
	button := func(label string, target int, slot string, disabled bool) discord.InteractiveComponent {
		id := fmt.Sprintf("%s%d:%s", queueButtonID, target, slot)
		return discord.NewButton(discord.ButtonStyleSecondary, label, id, "", 0).WithDisabled(disabled)
	}
	return discord.NewActionRow(
		button("<<", 0, "first", page == 0),
		button("<", max(page-1, 0), "prev", page == 0),
		button(">", min(page+1, last), "next", page == last),
		button(">>", last, "last", page == last),
	)
}

// parseQueuePage extracts the target page from a queue button id.
func parseQueuePage(customID string) (int, bool) {
	rest, ok := strings.CutPrefix(customID, queueButtonID)
	if !ok {
		return 0, false
	}
	raw, _, _ := strings.Cut(rest, ":")
	page, err := strconv.Atoi(raw)
	if err != nil || page < 0 {
		return 0, false
	}
	return page, true
}

func handleQueueButton(event *events.ComponentInteractionCreate) {
	page, ok := parseQueuePage(event.Data.CustomID())
	if !ok {
		return
	}
	guildID := event.GuildID()
	if guildID == nil {
		return
	}

	var view Container
	if s := GetVoiceManager().GetSession(*guildID); s != nil {
		view = renderQueue(s.Player.Show(), s.Player.Progress(), page)
	} else {
		view = renderQueue(nil, proc.Progress{}, 0)
	}
	if err := UpdateInteractionV2(event.Client(), event, view); err != nil {
		LogMusic(MsgMusicProgressFail, err)
	}
}

// ===========================
// History view
// ===========================

func renderHistory(entries []*HistoryEntry, since time.Time) Container {
	header := "**Recently played**"
	if !since.IsZero() {
		header = fmt.Sprintf("**Played since <t:%d:R>**", since.Unix())
	}
	if len(entries) == 0 {
		return NewV2Container(NewTextDisplay(header + "\n" + MsgMusicHistoryEmpty))
	}
	lines := lo.Map(entries, func(e *HistoryEntry, i int) string {
		return fmt.Sprintf("`%d.` [%s](<%s>) · %s · <t:%d:R>", i+1,
			EscapeMarkdown(Truncate(e.Title, queueTitleLen)), e.URL,
			EscapeMarkdown(e.Requester), e.PlayedAt.Unix())
	})
	return NewV2Container(NewTextDisplay(header + "\n" + strings.Join(lines, "\n")))
}

// ===========================
// Request progress
// ===========================

// progressReporter edits the deferred /music play response while a playlist
// streams into the queue. Intermediate edits are rate limited; the final one
// is always sent.
type progressReporter struct {
	client      *bot.Client
	interaction discord.Interaction
	limiter     *rate.Limiter

	mu    sync.Mutex
	job   *proc.Job
	last  *proc.Report
	ended bool
}

func newProgressReporter(client *bot.Client, interaction discord.Interaction) *progressReporter {
	return &progressReporter{
		client:      client,
		interaction: interaction,
		limiter:     rate.NewLimiter(rate.Every(progressEvery), progressBurst),
	}
}

// Report is handed to Session.Request.
func (p *progressReporter) Report(r proc.Report) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ended {
		return
	}
	p.last = &r
	if p.job == nil {
		return
	}
	if !r.Done && !p.limiter.Allow() {
		return
	}
	p.editLocked()
}

// Accepted renders the first response once the request returns its job.
func (p *progressReporter) Accepted(job proc.Job) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.job = &job
	p.limiter.Allow()
	p.editLocked()
}

func (p *progressReporter) editLocked() {
	if p.last != nil && p.last.Done {
		p.ended = true
	}
	view := NewV2Container(NewSection(progressText(*p.job, p.last), thumbnailURL(p.job.First.Link())))
	if err := EditInteractionV2(p.client, p.interaction, view); err != nil {
		LogMusic(MsgMusicProgressFail, err)
	}
}

func progressText(job proc.Job, last *proc.Report) string {
	text := fmt.Sprintf(MsgMusicAdded, EscapeMarkdown(Truncate(job.First.Title, queueTitleLen)), job.First.Link())
	switch {
	case last != nil && last.Done:
		if last.Added > 1 || last.Failed > 0 {
			text += "\n" + fmt.Sprintf(MsgMusicProgressDone, last.Added, last.Failed)
		}
	case last != nil && (last.Added > 1 || last.Failed > 0):
		text += "\n" + fmt.Sprintf(MsgMusicProgress, last.Added, last.Failed, last.Remaining)
	case job.Streaming:
		text += MsgMusicAddingMore
	}
	return text
}
