package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/snowflake/v2"

	"github.com/leeineian/jukebox/proc"
)

var (
	ErrNotConnected = errors.New("not connected to voice")
	ErrOtherChannel = errors.New("already playing in another channel")
)

const (
	statusPlaying = "🎶 "
	statusPaused  = "⏸️ "
	statusMaxLen  = 128

	// historyKeep bounds music_history per guild.
	historyKeep = 500
)

func init() {
	astiav.SetLogLevel(astiav.LogLevelFatal)

	RegisterDaemon(Daemon{
		Name: "voice manager",
		Start: func(context.Context, *bot.Client) (func(), func()) {
			return nil, func() {
				LogVoice(MsgVoiceShuttingDown)
				GetVoiceManager().Shutdown(context.Background())
			}
		},
	})
}

// ===========================
// Voice Manager
// ===========================

// VoiceSystem owns one VoiceSession per guild. Sessions outlive their voice
// connection so a guild keeps the same player across joins.
type VoiceSystem struct {
	mu       sync.Mutex
	sessions map[snowflake.ID]*VoiceSession
	resolver *YTResolver
}

var (
	voiceManager *VoiceSystem
	onceVoice    sync.Once
)

// GetVoiceManager returns the singleton VoiceSystem instance
func GetVoiceManager() *VoiceSystem {
	onceVoice.Do(func() {
		voiceManager = &VoiceSystem{
			sessions: make(map[snowflake.ID]*VoiceSession),
			resolver: NewYTResolver(),
		}
	})
	return voiceManager
}

// GetSession retrieves the voice session for a guild, or nil.
func (vs *VoiceSystem) GetSession(guildID snowflake.ID) *VoiceSession {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.sessions[guildID]
}

// Session returns the guild's session, creating it and its player on first use.
func (vs *VoiceSystem) Session(client *bot.Client, guildID snowflake.ID) *VoiceSession {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if s, ok := vs.sessions[guildID]; ok {
		return s
	}

	ctx, cancel := context.WithCancel(appContext())
	s := &VoiceSession{
		GuildID:    guildID,
		client:     client,
		ctx:        ctx,
		cancel:     cancel,
		statusChan: make(chan string, 10),
	}

	opts := proc.Options{OnPlay: s.onPlay}
	if cfg := GlobalConfig; cfg != nil {
		opts.PrepareAhead = cfg.PrepareAhead
		opts.BatchSize = cfg.ShuffleBatch
		opts.WaitPolls = cfg.WaitPolls
	}
	s.Player = proc.NewSession(ctx, s, vs.resolver, opts)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.statusManager()
	}()

	vs.sessions[guildID] = s
	return s
}

// Search returns autocomplete candidates from the shared resolver.
func (vs *VoiceSystem) Search(ctx context.Context, q string) ([]SearchResult, error) {
	return vs.resolver.Search(ctx, q)
}

// PlayerStats summarizes every guild's player.
type PlayerStats struct {
	Sessions  int
	Connected int
	Playing   int
	Queued    int
}

func (vs *VoiceSystem) Stats() PlayerStats {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	st := PlayerStats{Sessions: len(vs.sessions)}
	for _, s := range vs.sessions {
		if s.Connected() {
			st.Connected++
		}
		if s.Player.IsPlaying() {
			st.Playing++
		}
		st.Queued += s.Player.Queue().Len()
	}
	return st
}

// Shutdown stops every player, leaves voice and clears channel statuses.
func (vs *VoiceSystem) Shutdown(ctx context.Context) {
	vs.mu.Lock()
	sessions := make([]*VoiceSession, 0, len(vs.sessions))
	for id, s := range vs.sessions {
		sessions = append(sessions, s)
		delete(vs.sessions, id)
	}
	vs.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *VoiceSession) {
			defer wg.Done()
			s.Player.Close()
			s.Disconnect(ctx)
			s.putStatus(s.channel(), "")
			s.cancel()
			s.wg.Wait()
		}(s)
	}
	wg.Wait()
}

// onVoiceStateUpdate tracks bot moves and disconnects, and pauses playback
// while no humans are listening.
func (vs *VoiceSystem) onVoiceStateUpdate(event *events.GuildVoiceStateUpdate) {
	state := event.VoiceState
	s := vs.GetSession(state.GuildID)
	if s == nil {
		return
	}
	client := event.Client()

	if state.UserID == client.ID() {
		if state.ChannelID == nil {
			if s.joined.Swap(false) {
				LogVoice(MsgVoiceExternalLeave, state.GuildID)
				safeGo("external leave", func() {
					ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
					defer cancel()
					_ = s.Player.Stop(ctx)
				})
			}
			return
		}

		old := s.channel()
		if old != *state.ChannelID {
			LogVoice(MsgVoiceMoved, old, *state.ChannelID, state.GuildID)
			if old != 0 {
				s.putStatus(old, "")
			}
			s.channelMu.Lock()
			s.ChannelID = *state.ChannelID
			s.channelMu.Unlock()
			s.setVoiceStatus(s.currentStatus())
		}
		return
	}

	channelID := s.channel()
	if channelID == 0 || !s.Connected() {
		return
	}

	humans := 0
	for other := range client.Caches.VoiceStates(state.GuildID) {
		if other.ChannelID == nil || *other.ChannelID != channelID || other.UserID == client.ID() {
			continue
		}
		if m, ok := client.Caches.Member(state.GuildID, other.UserID); !ok || !m.User.Bot {
			humans++
		}
	}

	switch {
	case humans == 0 && !s.autoPaused.Load():
		LogVoice(MsgVoiceAutoPause, state.GuildID)
		s.autoPaused.Store(true)
		s.setVoiceStatus(s.currentStatus())
	case humans > 0 && s.autoPaused.Load():
		LogVoice(MsgVoiceAutoResume, state.GuildID)
		s.autoPaused.Store(false)
		s.setVoiceStatus(s.currentStatus())
	}
}

// ===========================
// Voice Session
// ===========================

// VoiceSession is a guild's voice connection. It is the audio transport of
// the guild's player.
type VoiceSession struct {
	GuildID snowflake.ID
	Player  *proc.Session

	channelMu sync.RWMutex
	ChannelID snowflake.ID

	client *bot.Client
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connMu sync.Mutex
	conn   voice.Conn
	joined atomic.Bool

	streamMu     sync.Mutex
	provider     *StreamProvider
	streamCancel context.CancelFunc
	nowPlaying   proc.Song

	paused     atomic.Bool
	autoPaused atomic.Bool

	statusChan chan string
}

func (s *VoiceSession) channel() snowflake.ID {
	s.channelMu.RLock()
	defer s.channelMu.RUnlock()
	return s.ChannelID
}

// Join connects to channelID. It fails with ErrOtherChannel when the session
// is already connected elsewhere in the guild.
func (s *VoiceSession) Join(ctx context.Context, channelID snowflake.ID) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.joined.Load() {
		if s.channel() == channelID {
			return nil
		}
		return ErrOtherChannel
	}

	LogVoice(MsgVoiceJoining, channelID, s.GuildID)
	if s.conn == nil {
		s.conn = s.client.VoiceManager.CreateConn(s.GuildID)
	}
	s.channelMu.Lock()
	s.ChannelID = channelID
	s.channelMu.Unlock()

	if err := s.conn.Open(ctx, channelID, false, false); err != nil {
		LogVoice(MsgVoiceJoinFail, s.GuildID, err)
		s.conn.Close(ctx)
		s.conn = nil
		s.putStatus(channelID, "")
		return err
	}
	s.autoPaused.Store(false)
	s.joined.Store(true)
	return nil
}

// --- proc.Transport ---

func (s *VoiceSession) Connected() bool { return s.joined.Load() }

// Play starts streaming song and calls done once when the stream ends.
func (s *VoiceSession) Play(ctx context.Context, song proc.Song, done func(error)) error {
	if !s.Connected() {
		return ErrNotConnected
	}

	s.streamMu.Lock()
	if s.streamCancel != nil {
		s.streamCancel()
	}
	streamCtx, cancel := context.WithCancel(s.ctx)
	p := NewStreamProvider(streamCtx, s.isPaused)
	s.provider = p
	s.streamCancel = cancel
	s.nowPlaying = song
	s.paused.Store(false)
	s.streamMu.Unlock()

	go s.transcode(streamCtx, song.Locator, p)

	s.setOpusFrameProviderSafe(p)
	s.setSpeaking(voice.SpeakingFlagMicrophone)

	go func() {
		defer cancel()
		var err error
		select {
		case <-p.Finished():
			err = p.Err()
			LogVoice(MsgVoiceStreamEnded, song.Title)
		case <-streamCtx.Done():
		}

		s.streamMu.Lock()
		current := s.provider == p
		if current {
			s.provider = nil
			s.streamCancel = nil
			s.nowPlaying = proc.Song{}
		}
		s.streamMu.Unlock()
		if current {
			s.setOpusFrameProviderSafe(nil)
			s.setSpeaking(0)
		}
		done(err)
	}()
	return nil
}

func (s *VoiceSession) transcode(ctx context.Context, locator string, p *StreamProvider) {
	t := NewAstiavTranscoder()
	defer t.Close()

	err := t.OpenInput(locator)
	if err == nil {
		err = t.SetupDecoder()
	}
	if err == nil {
		err = t.SetupEncoder()
	}
	if err == nil {
		err = t.Transcode(ctx, p.PushFrame)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		LogVoice(MsgVoiceTranscoderFail, TruncateCenter(locator, 60), err)
		p.Fail(err)
	}
	p.PushFrame(nil)
}

// Stop ends the current stream. The driver is notified through the stream's
// done callback.
func (s *VoiceSession) Stop() {
	s.streamMu.Lock()
	cancel := s.streamCancel
	s.streamMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *VoiceSession) Pause() bool {
	if !s.IsPlaying() {
		return false
	}
	s.paused.Store(true)
	s.setVoiceStatus(s.currentStatus())
	return true
}

func (s *VoiceSession) Resume() bool {
	s.streamMu.Lock()
	active := s.provider != nil
	s.streamMu.Unlock()
	if !active || !s.paused.CompareAndSwap(true, false) {
		return false
	}
	s.setVoiceStatus(s.currentStatus())
	return true
}

func (s *VoiceSession) IsPlaying() bool {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()
	return s.provider != nil && !s.paused.Load()
}

func (s *VoiceSession) isPaused() bool {
	return s.paused.Load() || s.autoPaused.Load()
}

// Disconnect leaves the voice channel. The session and its player stay.
func (s *VoiceSession) Disconnect(ctx context.Context) {
	s.Stop()

	s.connMu.Lock()
	defer s.connMu.Unlock()
	wasJoined := s.joined.Swap(false)
	if s.conn != nil {
		if wasJoined {
			LogVoice(MsgVoiceLeaving, s.GuildID)
		}
		s.conn.Close(ctx)
		s.conn = nil
	}
	s.setVoiceStatus("")
}

// --- Status line ---

func (s *VoiceSession) onPlay(song proc.Song) {
	LogMusic(MsgMusicNowPlaying, song.Title, song.Link())
	s.setVoiceStatus(s.currentStatus())

	safeGo("history", func() {
		if DB == nil {
			return
		}
		ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
		defer cancel()
		err := AddHistory(ctx, &HistoryEntry{
			GuildID:   s.GuildID,
			Title:     song.Title,
			URL:       song.Link(),
			Requester: song.Requester,
		})
		if err != nil {
			WarnMusic(MsgMusicHistoryFail, err)
			return
		}
		if _, err := PruneHistory(ctx, s.GuildID, historyKeep); err != nil {
			WarnMusic(MsgMusicHistoryFail, err)
		}
	})
}

// currentStatus renders the status line for the stream in progress.
func (s *VoiceSession) currentStatus() string {
	s.streamMu.Lock()
	song, active := s.nowPlaying, s.provider != nil
	s.streamMu.Unlock()
	if !active {
		return ""
	}
	return statusLine(song, s.isPaused())
}

func statusLine(song proc.Song, paused bool) string {
	prefix := statusPlaying
	if paused {
		prefix = statusPaused
	}
	suffix := ""
	if song.Uploader != "" && song.Uploader != "NA" {
		suffix = " · " + song.Uploader
	}
	return TruncateWithPreserve(song.Title, statusMaxLen, prefix, suffix)
}

// setVoiceStatus queues a status update for the debounced status manager.
func (s *VoiceSession) setVoiceStatus(status string) {
	select {
	case s.statusChan <- status:
	default:
	}
}

func (s *VoiceSession) putStatus(channelID snowflake.ID, status string) error {
	if channelID == 0 || s.client == nil {
		return nil
	}
	route := rest.NewEndpoint(http.MethodPut, "/channels/"+channelID.String()+"/voice-status")
	return s.client.Rest.Do(route.Compile(nil), map[string]string{"status": status}, nil)
}

// statusManager debounces status writes and retries failed ones.
func (s *VoiceSession) statusManager() {
	var cur, next string
	hasNext := false
	t := time.NewTimer(0)
	if !t.Stop() {
		<-t.C
	}
	for {
		select {
		case <-s.ctx.Done():
			return
		case n := <-s.statusChan:
			next, hasNext = n, true
		drain:
			for {
				select {
				case n := <-s.statusChan:
					next = n
				default:
					break drain
				}
			}
			if next == cur {
				hasNext = false
				continue
			}
			t.Reset(500 * time.Millisecond)
		case <-t.C:
			if !hasNext {
				continue
			}
			target := TruncateCenter(next, statusMaxLen)
			channelID := s.channel()
			if err := s.putStatus(channelID, target); err != nil {
				LogVoice(MsgVoiceStatusFail, channelID, err)
				t.Reset(time.Second)
				continue
			}
			cur, hasNext = next, false
		}
	}
}

// setOpusFrameProviderSafe sets the opus frame provider safely, recovering from any potential panics
func (s *VoiceSession) setOpusFrameProviderSafe(provider voice.OpusFrameProvider) {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			LogVoice("Recovered from panic in SetOpusFrameProvider: %v", r)
		}
	}()
	conn.SetOpusFrameProvider(provider)
}

func (s *VoiceSession) setSpeaking(flags voice.SpeakingFlags) {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	conn.SetSpeaking(ctx, flags)
}

// ===========================
// Opus frame provider
// ===========================

// StreamProvider hands transcoded opus frames to the voice connection. A nil
// frame marks the end of the stream.
type StreamProvider struct {
	ctx      context.Context
	frames   chan []byte
	paused   func() bool
	finished chan struct{}
	once     sync.Once
	err      error
	errMu    sync.Mutex
}

func NewStreamProvider(ctx context.Context, paused func() bool) *StreamProvider {
	return &StreamProvider{
		ctx:      ctx,
		frames:   make(chan []byte, 100),
		paused:   paused,
		finished: make(chan struct{}),
	}
}

// Finished is closed once the final frame has been consumed.
func (p *StreamProvider) Finished() <-chan struct{} { return p.finished }

func (p *StreamProvider) Fail(err error) {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	if p.err == nil {
		p.err = err
	}
}

func (p *StreamProvider) Err() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.err
}

func (p *StreamProvider) finish() {
	p.once.Do(func() { close(p.finished) })
}

func (p *StreamProvider) PushFrame(f []byte) {
	select {
	case p.frames <- f:
	case <-p.ctx.Done():
	}
}

func (p *StreamProvider) ProvideOpusFrame() ([]byte, error) {
	if p.paused != nil && p.paused() {
		return nil, nil
	}
	select {
	case f := <-p.frames:
		if f == nil {
			p.finish()
			return nil, io.EOF
		}
		return f, nil
	case <-p.ctx.Done():
		return nil, io.EOF
	case <-time.After(100 * time.Millisecond):
		return nil, nil // Silence
	}
}

func (p *StreamProvider) Close() { p.finish() }

// ===========================
// Transcoder
// ===========================

const (
	opusSampleRate = 48000
	opusFrameSize  = 960
)

// AstiavTranscoder decodes any input ffmpeg understands into 20ms opus frames.
type AstiavTranscoder struct {
	inputCtx               *astiav.FormatContext
	decoderCtx, encoderCtx *astiav.CodecContext
	audioStreamIndex       int
	packet                 *astiav.Packet
	frame                  *astiav.Frame
	resampleCtx            *astiav.SoftwareResampleContext
	resampleFrame          *astiav.Frame
	fifo                   *astiav.AudioFifo
	onFrame                func([]byte)
	pts                    int64
}

func NewAstiavTranscoder() *AstiavTranscoder {
	return &AstiavTranscoder{packet: astiav.AllocPacket(), frame: astiav.AllocFrame(), resampleFrame: astiav.AllocFrame()}
}

func (t *AstiavTranscoder) OpenInput(in string) error {
	t.inputCtx = astiav.AllocFormatContext()
	if t.inputCtx == nil {
		return errors.New("failed to alloc ctx")
	}
	var opts *astiav.Dictionary
	if strings.HasPrefix(in, "http") {
		opts = astiav.NewDictionary()
		defer opts.Free()
		opts.Set("reconnect", "1", 0)
		opts.Set("reconnect_streamed", "1", 0)
		opts.Set("reconnect_delay_max", "5", 0)
		opts.Set("timeout", "30000000", 0)
	}
	if err := t.inputCtx.OpenInput(in, nil, opts); err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	if err := t.inputCtx.FindStreamInfo(nil); err != nil {
		return err
	}
	t.audioStreamIndex = -1
	for _, s := range t.inputCtx.Streams() {
		if s.CodecParameters().MediaType() == astiav.MediaTypeAudio {
			t.audioStreamIndex = s.Index()
			break
		}
	}
	if t.audioStreamIndex == -1 {
		return errors.New("no audio")
	}
	return nil
}

func (t *AstiavTranscoder) SetupDecoder() error {
	p := t.inputCtx.Streams()[t.audioStreamIndex].CodecParameters()
	d := astiav.FindDecoder(p.CodecID())
	if d == nil {
		return errors.New("no decoder")
	}
	t.decoderCtx = astiav.AllocCodecContext(d)
	_ = p.ToCodecContext(t.decoderCtx)
	return t.decoderCtx.Open(d, nil)
}

func (t *AstiavTranscoder) SetupEncoder() error {
	e := astiav.FindEncoderByName("libopus")
	if e == nil {
		e = astiav.FindEncoder(astiav.CodecIDOpus)
	}
	if e == nil {
		return errors.New("no encoder")
	}
	t.encoderCtx = astiav.AllocCodecContext(e)
	t.encoderCtx.SetBitRate(128000)
	t.encoderCtx.SetSampleRate(opusSampleRate)
	t.encoderCtx.SetChannelLayout(astiav.ChannelLayoutStereo)
	t.encoderCtx.SetSampleFormat(astiav.SampleFormatS16)
	t.encoderCtx.SetTimeBase(astiav.NewRational(1, opusSampleRate))
	o := astiav.NewDictionary()
	defer o.Free()
	o.Set("vbr", "on", 0)
	o.Set("compression_level", "10", 0)
	o.Set("frame_size", "20", 0)
	if err := t.encoderCtx.Open(e, o); err != nil {
		return err
	}
	// The resampler is configured lazily by ConvertFrame from the first decoded frame.
	t.resampleCtx = astiav.AllocSoftwareResampleContext()
	if t.resampleCtx == nil {
		return errors.New("failed to allocate resampler")
	}
	return nil
}

// Transcode reads the input until EOF or ctx is done, calling on for every encoded frame.
func (t *AstiavTranscoder) Transcode(ctx context.Context, on func([]byte)) error {
	defer t.packet.Unref()
	t.onFrame = on
	t.fifo = astiav.AllocAudioFifo(t.encoderCtx.SampleFormat(), t.encoderCtx.ChannelLayout().Channels(), opusFrameSize*2)
	defer func() {
		t.fifo.Free()
		t.fifo = nil
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.inputCtx.ReadFrame(t.packet); err != nil {
			if errors.Is(err, astiav.ErrEof) {
				break
			}
			return err
		}
		if t.packet.StreamIndex() != t.audioStreamIndex {
			t.packet.Unref()
			continue
		}
		err := t.decoderCtx.SendPacket(t.packet)
		t.packet.Unref()
		if err != nil {
			return err
		}
		t.drainDecoder()
		t.writeFifo(opusFrameSize)
	}

	// Flush decoder, then the partial tail, then the encoder.
	_ = t.decoderCtx.SendPacket(nil)
	t.drainDecoder()
	t.writeFifo(1)

	_ = t.encoderCtx.SendFrame(nil)
	t.receivePackets()
	return nil
}

func (t *AstiavTranscoder) prepareResampleFrame(n int) {
	t.resampleFrame.Unref()
	t.resampleFrame.SetChannelLayout(t.encoderCtx.ChannelLayout())
	t.resampleFrame.SetSampleFormat(t.encoderCtx.SampleFormat())
	t.resampleFrame.SetSampleRate(t.encoderCtx.SampleRate())
	t.resampleFrame.SetNbSamples(n)
	_ = t.resampleFrame.AllocBuffer(0)
}

// drainDecoder resamples every decoded frame into the fifo.
func (t *AstiavTranscoder) drainDecoder() {
	for t.decoderCtx.ReceiveFrame(t.frame) == nil {
		nb := int(astiav.RescaleQ(int64(t.frame.NbSamples()), astiav.NewRational(1, t.frame.SampleRate()), astiav.NewRational(1, t.encoderCtx.SampleRate())))
		if nb > 0 {
			t.prepareResampleFrame(nb)
			if t.resampleCtx.ConvertFrame(t.frame, t.resampleFrame) == nil {
				_, _ = t.fifo.Write(t.resampleFrame)
			}
		}
		t.frame.Unref()
	}
}

// writeFifo encodes frames from the fifo while at least threshold samples remain.
func (t *AstiavTranscoder) writeFifo(threshold int) {
	for t.fifo.Size() >= threshold && t.fifo.Size() > 0 {
		n := min(opusFrameSize, t.fifo.Size())
		t.prepareResampleFrame(n)
		_, _ = t.fifo.Read(t.resampleFrame)
		t.resampleFrame.SetPts(t.pts)
		t.pts += int64(n)
		if t.encoderCtx.SendFrame(t.resampleFrame) == nil {
			t.receivePackets()
		}
	}
}

func (t *AstiavTranscoder) receivePackets() {
	for {
		p := astiav.AllocPacket()
		if t.encoderCtx.ReceivePacket(p) != nil {
			p.Free()
			return
		}
		d := p.Data()
		fd := make([]byte, len(d))
		copy(fd, d)
		t.onFrame(fd)
		p.Free()
	}
}

func (t *AstiavTranscoder) Close() {
	if t.resampleCtx != nil {
		t.resampleCtx.Free()
	}
	if t.resampleFrame != nil {
		t.resampleFrame.Free()
	}
	if t.packet != nil {
		t.packet.Free()
	}
	if t.frame != nil {
		t.frame.Free()
	}
	if t.decoderCtx != nil {
		t.decoderCtx.Free()
	}
	if t.encoderCtx != nil {
		t.encoderCtx.Free()
	}
	if t.inputCtx != nil {
		t.inputCtx.CloseInput()
		t.inputCtx.Free()
	}
}
