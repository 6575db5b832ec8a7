package liveness

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrDetectorUnsupported indicates no liveness channel is available. The
// caller must fail closed: "cannot verify single-session", never
// "verified single".
var ErrDetectorUnsupported = errors.New("liveness detection unsupported in this environment")

const (
	kindAnnounce = "announce"
	kindProbe    = "probe"

	defaultAnnounceInterval = 500 * time.Millisecond
	defaultProbeInterval    = time.Second
	defaultGraceWindow      = 3 * time.Second
)

type message struct {
	Kind   string    `json:"kind"`
	ID     string    `json:"id"`
	SentAt time.Time `json:"sent_at"`
}

// Assessment is the outcome of the initial grace-window check.
type Assessment struct {
	Passed bool
	Peers  []string
}

// Options tunes the detection protocol. Zero values fall back to the
// recommended intervals.
type Options struct {
	// AnnounceInterval is the heartbeat broadcast period (T1).
	AnnounceInterval time.Duration
	// ProbeInterval is the request/response and slot-poll period (T2).
	ProbeInterval time.Duration
	// GraceWindow is the delay before the initial assessment (T3).
	GraceWindow time.Duration
	// StaleAfter is how long a silent peer stays in the membership set.
	// Defaults to three probe intervals.
	StaleAfter time.Duration
	// OnPeers fires whenever the live membership set (self included)
	// holds two or more contexts. Invoked from the detector's goroutines.
	OnPeers func(peers []string)
	Logger  zerolog.Logger
}

// Detector discovers concurrent browsing contexts attempting the same
// exam. Two independent channels, the broadcast bus and the persistent
// slot, feed one membership-set accumulator. Detection is best-effort
// with explicit false-negative tolerance: a second context is surfaced
// within one announce plus one probe interval.
type Detector struct {
	id   string
	bus  Bus
	slot Slot
	opts Options

	mu           sync.Mutex
	peers        map[string]time.Time
	lastReported string

	result      chan Assessment
	stop        chan struct{}
	stopOnce    sync.Once
	unsubscribe func()
	wg          sync.WaitGroup
	now         func() time.Time
}

// NewDetector builds a detector over the given channels. Either channel
// may be nil; Start fails with ErrDetectorUnsupported when none is usable.
func NewDetector(bus Bus, slot Slot, opts Options) *Detector {
	if opts.AnnounceInterval <= 0 {
		opts.AnnounceInterval = defaultAnnounceInterval
	}
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = defaultProbeInterval
	}
	if opts.GraceWindow <= 0 {
		opts.GraceWindow = defaultGraceWindow
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 3 * opts.ProbeInterval
	}

	return &Detector{
		id:     uuid.NewString(),
		bus:    bus,
		slot:   slot,
		opts:   opts,
		peers:  make(map[string]time.Time),
		result: make(chan Assessment, 1),
		stop:   make(chan struct{}),
		now:    time.Now,
	}
}

// ID returns the context's ephemeral identifier.
func (d *Detector) ID() string {
	return d.id
}

// Result delivers the initial assessment exactly once.
func (d *Detector) Result() <-chan Assessment {
	return d.result
}

// Start begins announcing and monitoring. It returns
// ErrDetectorUnsupported when neither channel can be established.
func (d *Detector) Start(ctx context.Context) error {
	if d.bus == nil && d.slot == nil {
		return ErrDetectorUnsupported
	}

	if d.bus != nil {
		unsubscribe, err := d.bus.Subscribe(d.handleIncoming)
		if err != nil {
			if d.slot == nil {
				return ErrDetectorUnsupported
			}
			d.opts.Logger.Warn().Err(err).Msg("broadcast channel unavailable, falling back to shared slot only")
			d.bus = nil
		} else {
			d.unsubscribe = unsubscribe
		}
	}

	// Announce and probe immediately so a context that opened late is
	// discovered without waiting a full interval. The slot is read before
	// the first overwrite to catch an occupant that wrote earlier.
	d.send(ctx, kindAnnounce)
	d.send(ctx, kindProbe)
	d.pollSlot(ctx)
	d.writeSlot(ctx)

	d.wg.Add(3)
	go d.announceLoop(ctx)
	go d.monitorLoop(ctx)
	go d.assessOnce(ctx)

	return nil
}

// Stop tears the detector down: timers stopped, subscription released,
// no further callbacks. Safe to call multiple times.
func (d *Detector) Stop() {
	d.stopOnce.Do(func() {
		close(d.stop)
		if d.unsubscribe != nil {
			d.unsubscribe()
		}
	})
	d.wg.Wait()
}

// Peers returns the identifiers of live foreign contexts.
func (d *Detector) Peers() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.livePeersLocked(d.now())
}

func (d *Detector) announceLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.opts.AnnounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stop:
			return
		case <-ticker.C:
			d.send(ctx, kindAnnounce)
		}
	}
}

func (d *Detector) monitorLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.opts.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stop:
			return
		case <-ticker.C:
			d.send(ctx, kindProbe)
			// Read before overwriting, otherwise a context only ever sees
			// its own slot entry.
			d.pollSlot(ctx)
			d.writeSlot(ctx)
			d.reportPeers()
		}
	}
}

func (d *Detector) assessOnce(ctx context.Context) {
	defer d.wg.Done()

	timer := time.NewTimer(d.opts.GraceWindow)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-d.stop:
		return
	case <-timer.C:
		d.mu.Lock()
		peers := d.livePeersLocked(d.now())
		d.mu.Unlock()

		d.result <- Assessment{Passed: len(peers) == 0, Peers: peers}
	}
}

func (d *Detector) handleIncoming(data []byte) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		d.opts.Logger.Warn().Err(err).Msg("discarding malformed liveness message")
		return
	}
	if msg.ID == "" || msg.ID == d.id {
		return
	}

	d.observePeer(msg.ID)

	if msg.Kind == kindProbe {
		// Answer probes immediately so late-opening tabs learn about us
		// without waiting for the next announce tick.
		d.send(context.Background(), kindAnnounce)
	}

	d.reportPeers()
}

func (d *Detector) observePeer(id string) {
	d.mu.Lock()
	d.peers[id] = d.now()
	d.mu.Unlock()
}

func (d *Detector) send(ctx context.Context, kind string) {
	if d.bus == nil {
		return
	}

	payload, err := json.Marshal(message{Kind: kind, ID: d.id, SentAt: d.now().UTC()})
	if err != nil {
		return
	}

	select {
	case <-d.stop:
		return
	default:
	}

	if err := d.bus.Publish(ctx, payload); err != nil {
		d.opts.Logger.Warn().Err(err).Msg("failed to publish liveness message")
	}
}

func (d *Detector) writeSlot(ctx context.Context) {
	if d.slot == nil {
		return
	}

	if err := d.slot.Write(ctx, SlotEntry{ID: d.id, At: d.now().UTC()}); err != nil {
		d.opts.Logger.Warn().Err(err).Msg("failed to write liveness slot")
	}
}

func (d *Detector) pollSlot(ctx context.Context) {
	if d.slot == nil {
		return
	}

	entry, err := d.slot.Read(ctx)
	if err != nil {
		if !errors.Is(err, ErrSlotEmpty) {
			d.opts.Logger.Warn().Err(err).Msg("failed to read liveness slot")
		}
		return
	}

	if entry.ID == "" || entry.ID == d.id {
		return
	}
	if d.now().Sub(entry.At) > d.opts.StaleAfter {
		return
	}

	d.observePeer(entry.ID)
}

// reportPeers fires OnPeers when the live membership set holds two or
// more contexts and its composition changed since the last report.
func (d *Detector) reportPeers() {
	if d.opts.OnPeers == nil {
		return
	}

	d.mu.Lock()
	peers := d.livePeersLocked(d.now())
	key := strings.Join(peers, ",")
	changed := key != d.lastReported
	if changed {
		d.lastReported = key
	}
	d.mu.Unlock()

	if changed && len(peers) > 0 {
		d.opts.OnPeers(peers)
	}
}

func (d *Detector) livePeersLocked(now time.Time) []string {
	peers := make([]string, 0, len(d.peers))
	for id, seen := range d.peers {
		if now.Sub(seen) > d.opts.StaleAfter {
			delete(d.peers, id)
			continue
		}
		peers = append(peers, id)
	}
	sort.Strings(peers)
	return peers
}
