package sysex

import (
	"sync"
	"time"

	"github.com/oddnote/midimind/midierr"
)

// Chunk marker bytes (spec §4.2's custom protocol, byte 0 of each
// chunk's payload). The Open Question in spec §9 about the exact
// marker layout is resolved to this literal assignment; see
// DESIGN.md.
const (
	ChunkFirst    byte = 0x00
	ChunkContinue byte = 0x01
	ChunkLast     byte = 0x02
	ChunkSingle   byte = 0x03
)

// DefaultMaxChunkPayload is the builder's default max payload size per
// chunk (spec §4.2).
const DefaultMaxChunkPayload = 256

// ReassemblyTimeout is how long a partial frame may wait for its next
// chunk before being dropped (spec §4.2, §5 timeouts).
const ReassemblyTimeout = 2 * time.Second

// Builder splits an oversized SysEx payload into a sequence of chunks,
// each itself a well-formed single SysEx frame whose payload begins
// with the marker byte.
type Builder struct {
	MaxChunkPayload int
}

// NewBuilder returns a Builder using DefaultMaxChunkPayload.
func NewBuilder() *Builder { return &Builder{MaxChunkPayload: DefaultMaxChunkPayload} }

// Split divides payload into one or more Frames for mfr, each no
// larger than b.MaxChunkPayload bytes of caller payload (plus the one
// marker byte). A payload that fits in a single chunk gets marker
// ChunkSingle; otherwise the first chunk gets ChunkFirst, the last
// gets ChunkLast, and any in between get ChunkContinue.
func (b *Builder) Split(mfr Manufacturer, payload []byte) []Frame {
	maxPayload := b.MaxChunkPayload
	if maxPayload <= 0 {
		maxPayload = DefaultMaxChunkPayload
	}

	if len(payload) <= maxPayload {
		return []Frame{{Manufacturer: mfr, Payload: append([]byte{ChunkSingle}, payload...)}}
	}

	var frames []Frame
	for offset := 0; offset < len(payload); offset += maxPayload {
		end := offset + maxPayload
		if end > len(payload) {
			end = len(payload)
		}
		var marker byte
		switch {
		case offset == 0:
			marker = ChunkFirst
		case end == len(payload):
			marker = ChunkLast
		default:
			marker = ChunkContinue
		}
		chunkPayload := append([]byte{marker}, payload[offset:end]...)
		frames = append(frames, Frame{Manufacturer: mfr, Payload: chunkPayload})
	}
	return frames
}

// partial tracks one in-progress multi-chunk frame.
type partial struct {
	payload  []byte
	lastSeen time.Time
}

// partialKey identifies a partial frame by its source device and
// manufacturer, per spec §4.2: "Reassembler keys partial frames by
// (source device ID, manufacturer ID)".
type partialKey struct {
	deviceID string
	mfr      [3]byte
}

// Reassembler accumulates chunked frames from one or more source
// devices and emits complete payloads once all chunks have arrived,
// or drops a partial frame once ReassemblyTimeout elapses without the
// final chunk (ExpireOverdue reports which devices lost one).
type Reassembler struct {
	mu      sync.Mutex
	partial map[partialKey]*partial
	timeout time.Duration
	now     func() time.Time
}

// NewReassembler returns a Reassembler using ReassemblyTimeout.
func NewReassembler() *Reassembler {
	return &Reassembler{
		partial: make(map[partialKey]*partial),
		timeout: ReassemblyTimeout,
		now:     time.Now,
	}
}

// Feed processes one chunk Frame received from deviceID. It returns
// (payload, true, nil) once a complete frame has been reassembled,
// (nil, false, nil) while more chunks are still expected, or a
// MalformedPayload error (empty payload, unknown marker, or a
// continue/last chunk with no partial frame in progress).
func (r *Reassembler) Feed(deviceID string, f Frame) ([]byte, bool, error) {
	const op = "sysex.Reassembler.Feed"
	if len(f.Payload) == 0 {
		return nil, false, midierr.New(op, midierr.KindMalformedPayload)
	}
	marker := f.Payload[0]
	body := f.Payload[1:]

	key := partialKey{deviceID: deviceID, mfr: f.Manufacturer.key()}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.expireLocked()

	switch marker {
	case ChunkSingle:
		delete(r.partial, key)
		return append([]byte(nil), body...), true, nil

	case ChunkFirst:
		r.partial[key] = &partial{payload: append([]byte(nil), body...), lastSeen: r.now()}
		return nil, false, nil

	case ChunkContinue:
		p, ok := r.partial[key]
		if !ok {
			return nil, false, midierr.New(op, midierr.KindMalformedPayload)
		}
		p.payload = append(p.payload, body...)
		p.lastSeen = r.now()
		return nil, false, nil

	case ChunkLast:
		p, ok := r.partial[key]
		if !ok {
			return nil, false, midierr.New(op, midierr.KindMalformedPayload)
		}
		complete := append(p.payload, body...)
		delete(r.partial, key)
		return complete, true, nil

	default:
		return nil, false, midierr.New(op, midierr.KindMalformedPayload)
	}
}

// expireLocked drops any partial frame whose last chunk arrived more
// than r.timeout ago. Callers observe the drop only indirectly (the
// frame never completes); ExpireOverdue returns the keys dropped so a
// caller can report IncompleteFrame per device.
func (r *Reassembler) expireLocked() {
	now := r.now()
	for k, p := range r.partial {
		if now.Sub(p.lastSeen) > r.timeout {
			delete(r.partial, k)
		}
	}
}

// ExpireOverdue scans for partial frames that have exceeded the
// reassembly timeout and removes them, returning the device IDs whose
// frames were dropped so the caller can emit IncompleteFrame errors.
// Intended to be called periodically (e.g. from a ticker) so
// abandoned partials are reclaimed even if no further chunk ever
// arrives to trigger expireLocked via Feed.
func (r *Reassembler) ExpireOverdue() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var dropped []string
	for k, p := range r.partial {
		if now.Sub(p.lastSeen) > r.timeout {
			dropped = append(dropped, k.deviceID)
			delete(r.partial, k)
		}
	}
	return dropped
}
