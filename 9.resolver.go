package main

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lrstanley/go-ytdlp"
	"github.com/ppalone/ytsearch"
	"github.com/raitonoberu/ytmusic"
	"github.com/samber/lo"

	"github.com/leeineian/jukebox/proc"
)

const (
	// maxPlaylistEntries caps how much of a playlist a single request pulls.
	maxPlaylistEntries = 500
	maxSearchResults   = 25

	flatPrintTemplate     = "%(webpage_url,url)s\t%(title)s\t%(uploader,channel)s\t%(duration)s"
	metadataPrintTemplate = "%(url)s\t%(title)s\t%(uploader,channel)s\t%(duration)s"
)

var errUnparsableEntry = errors.New("unparsable yt-dlp entry")

// ===========================
// Query classification
// ===========================

type querySource int

const (
	sourceLink querySource = iota
	sourceYTMusic
	sourceYouTube
)

// classifyQuery decides where a query is resolved and strips any source prefix.
func classifyQuery(q, ytPrefix, ytmPrefix string) (querySource, string) {
	q = strings.TrimSpace(q)
	if isLink(q) {
		return sourceLink, q
	}
	upper := strings.ToUpper(q)
	switch {
	case ytPrefix != "" && strings.HasPrefix(upper, strings.ToUpper(ytPrefix)):
		return sourceYouTube, strings.TrimSpace(q[len(ytPrefix):])
	case ytmPrefix != "" && strings.HasPrefix(upper, strings.ToUpper(ytmPrefix)):
		return sourceYTMusic, strings.TrimSpace(q[len(ytmPrefix):])
	default:
		return sourceYTMusic, q
	}
}

func isLink(q string) bool {
	u, err := url.Parse(q)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ===========================
// yt-dlp output parsing
// ===========================

// parseFlatLines parses flat-playlist output. Lines that cannot be parsed are
// returned as errors in place so they count as failed entries.
func parseFlatLines(stdout string) []lo.Tuple2[proc.Match, error] {
	lines := lo.Filter(strings.Split(strings.TrimSpace(stdout), "\n"), func(l string, _ int) bool {
		return strings.TrimSpace(l) != ""
	})

	out := make([]lo.Tuple2[proc.Match, error], 0, len(lines))
	for _, l := range lines {
		ps := strings.Split(l, "\t")
		if len(ps) < 4 || !isLink(ps[0]) {
			out = append(out, lo.T2(proc.Match{}, fmt.Errorf("%w: %q", errUnparsableEntry, TruncateCenter(l, 80))))
			continue
		}
		out = append(out, lo.T2(proc.Match{
			Title:    cleanField(ps[1], ps[0]),
			Locator:  ps[0],
			PageURL:  ps[0],
			Uploader: cleanField(ps[2], ""),
			Duration: parseSeconds(ps[3]),
		}, error(nil)))
	}
	for i := range out {
		out[i].A.Total = len(out)
	}
	return out
}

// parseMetadata parses single-video metadata output into a stream resolution.
func parseMetadata(stdout string) (proc.Resolution, error) {
	for _, l := range strings.Split(strings.TrimSpace(stdout), "\n") {
		ps := strings.Split(l, "\t")
		if len(ps) < 4 || !isLink(ps[0]) {
			continue
		}
		return proc.Resolution{
			Locator:  ps[0],
			Title:    cleanField(ps[1], ""),
			Uploader: cleanField(ps[2], ""),
			Duration: parseSeconds(ps[3]),
		}, nil
	}
	return proc.Resolution{}, errors.New("failed to parse metadata")
}

// cleanField maps yt-dlp's "NA" placeholder to def.
func cleanField(v, def string) string {
	v = strings.TrimSpace(v)
	if v == "" || v == "NA" {
		return def
	}
	return v
}

func parseSeconds(v string) time.Duration {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || f <= 0 {
		return 0
	}
	return time.Duration(f * float64(time.Second))
}

// ===========================
// Resolver
// ===========================

type SearchResult struct{ Title, URL string }

// YTResolver resolves queries with YouTube Music / YouTube search and
// yt-dlp, and prepares songs by extracting their audio stream URL.
type YTResolver struct {
	ytPrefix, ytmPrefix string
	searchTimeout       time.Duration

	// swapped in tests
	runFlat     func(ctx context.Context, link string, limit int) (string, error)
	runMetadata func(ctx context.Context, link string) (string, error)
	search      func(ctx context.Context, q string) ([]SearchResult, error)
}

func NewYTResolver() *YTResolver {
	r := &YTResolver{
		ytPrefix:      "[YT]",
		ytmPrefix:     "[YTM]",
		searchTimeout: 2300 * time.Millisecond,
		runFlat:       ytdlpFlat,
		runMetadata:   ytdlpMetadata,
	}
	if cfg := GlobalConfig; cfg != nil {
		r.ytPrefix, r.ytmPrefix = cfg.YoutubePrefix, cfg.YTMusicPrefix
	}
	r.search = r.searchOnline
	return r
}

// Resolve yields the entries of a link (a video or a playlist) or the best
// search hit of a text query.
func (r *YTResolver) Resolve(ctx context.Context, query string) iter.Seq2[proc.Match, error] {
	return func(yield func(proc.Match, error) bool) {
		src, q := classifyQuery(query, r.ytPrefix, r.ytmPrefix)
		if q == "" {
			return
		}

		if src != sourceLink {
			results, err := r.Search(ctx, query)
			if err != nil {
				yield(proc.Match{}, err)
				return
			}
			if len(results) == 0 {
				return
			}
			q = results[0].URL
		}

		stdout, err := r.runFlat(ctx, q, maxPlaylistEntries)
		if err != nil {
			yield(proc.Match{}, fmt.Errorf("yt-dlp: %w", err))
			return
		}
		for _, e := range parseFlatLines(stdout) {
			if !yield(e.A, e.B) {
				return
			}
		}
	}
}

// Prepare extracts the direct audio stream of a song's page.
func (r *YTResolver) Prepare(ctx context.Context, s proc.Song) (proc.Resolution, error) {
	link := s.PageURL
	if link == "" {
		link = s.Locator
	}
	stdout, err := r.runMetadata(ctx, link)
	if err != nil {
		return proc.Resolution{}, fmt.Errorf("yt-dlp %s: %w", link, err)
	}
	return parseMetadata(stdout)
}

// Search returns autocomplete candidates for a text query.
func (r *YTResolver) Search(ctx context.Context, q string) ([]SearchResult, error) {
	return r.search(ctx, q)
}

// searchOnline queries YouTube Music and YouTube concurrently. The source named
// by the query prefix is listed first.
func (r *YTResolver) searchOnline(ctx context.Context, q string) ([]SearchResult, error) {
	src, query := classifyQuery(q, r.ytPrefix, r.ytmPrefix)
	if query == "" {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.searchTimeout)
	defer cancel()

	var (
		mu      sync.Mutex
		ytm, yt []SearchResult
		errs    []error
		wg      sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		res, err := ytmusic.TrackSearch(query).Next()
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			errs = append(errs, err)
			return
		}
		for _, v := range res.Tracks {
			if v.VideoID == "" {
				continue
			}
			artist := ""
			if len(v.Artists) > 0 {
				artist = " - " + v.Artists[0].Name
			}
			ytm = append(ytm, SearchResult{
				URL:   "https://music.youtube.com/watch?v=" + v.VideoID,
				Title: TruncateWithPreserve(v.Title, 100, r.ytmPrefix+" ", artist),
			})
		}
	}()
	go func() {
		defer wg.Done()
		res, err := ytsearch.NewClient(nil).Search(ctx, query)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			errs = append(errs, err)
			return
		}
		for _, v := range res.Results {
			yt = append(yt, SearchResult{
				URL:   "https://www.youtube.com/watch?v=" + v.VideoID,
				Title: TruncateWithPreserve(v.Title, 100, r.ytPrefix+" ", ""),
			})
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()
	merged := mergeResults(src, ytm, yt)
	if len(merged) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return merged, nil
}

// mergeResults orders the preferred source first, drops duplicate videos and
// caps the list at the autocomplete limit.
func mergeResults(src querySource, ytm, yt []SearchResult) []SearchResult {
	all := append(append([]SearchResult{}, ytm...), yt...)
	if src == sourceYouTube {
		all = append(append([]SearchResult{}, yt...), ytm...)
	}
	uniq := lo.UniqBy(all, func(r SearchResult) string { return videoID(r.URL) })
	if len(uniq) > maxSearchResults {
		uniq = uniq[:maxSearchResults]
	}
	return uniq
}

// videoID extracts the YouTube video id of a link, or returns the link itself.
func videoID(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return link
	}
	if v := u.Query().Get("v"); v != "" {
		return v
	}
	if u.Host == "youtu.be" {
		return strings.Trim(u.Path, "/")
	}
	if id, ok := strings.CutPrefix(u.Path, "/shorts/"); ok {
		return id
	}
	return link
}

// thumbnailURL returns the YouTube thumbnail of a link, or "".
func thumbnailURL(link string) string {
	id := videoID(link)
	if id == "" || id == link {
		return ""
	}
	return "https://i.ytimg.com/vi/" + id + "/hqdefault.jpg"
}

// ===========================
// yt-dlp low-level
// ===========================

func ytdlpFlat(ctx context.Context, link string, limit int) (string, error) {
	res, err := ytdlp.New().
		FlatPlaylist().
		Print(flatPrintTemplate).
		PlaylistItems(fmt.Sprintf("1-%d", limit)).
		NoWarnings().
		IgnoreConfig().
		Run(ctx, link)
	if err != nil {
		if res != nil && res.Stderr != "" {
			return "", fmt.Errorf("%w: %s", err, TruncateCenter(strings.TrimSpace(res.Stderr), 200))
		}
		return "", err
	}
	return res.Stdout, nil
}

// metadataCommand prints the stream URL and display fields without downloading.
func metadataCommand() *ytdlp.Command {
	return ytdlp.New().
		Print(metadataPrintTemplate).
		Format("bestaudio[ext=webm]/bestaudio/best").
		NoPlaylist().
		NoCheckFormats().
		NoWarnings().
		IgnoreConfig().
		SkipDownload()
}

func ytdlpMetadata(ctx context.Context, link string) (string, error) {
	res, err := metadataCommand().Run(ctx, link)
	if err != nil {
		if res != nil && res.Stderr != "" {
			return "", fmt.Errorf("%w: %s", err, TruncateCenter(strings.TrimSpace(res.Stderr), 200))
		}
		return "", err
	}
	return res.Stdout, nil
}
