package sftp

// replySlot is one held-but-unclaimed reply frame: a fully received
// frame whose request id didn't match the id some earlier caller was
// awaiting (spec GLOSSARY "Deferred reply"). The ring is a fixed-
// capacity array of slots, never a linked structure (Design Note §9).
type replySlot struct {
	id      uint32
	typ     uint8
	payload []byte
}

// replyRing is the session's deferred-reply buffer. Its capacity is
// min(maxReplyRingCeiling, server-advertised max open handles), per
// spec §4.3 and §8 ("The deferred-reply ring size never exceeds
// min(MAX_REPLY_BUFFER, server_max_open_handles)").
type replyRing struct {
	slots []replySlot // len(slots) is the current occupancy, cap is the ceiling
	cap   int
}

// maxReplyRingCeiling is the compile-time ceiling referenced throughout
// spec §3/§4.3/§8 as MAX_REPLY_BUFFER.
const maxReplyRingCeiling = 64

func (r *replyRing) init(serverMaxOpenHandles uint32) {
	r.cap = maxReplyRingCeiling
	if serverMaxOpenHandles > 0 && int(serverMaxOpenHandles) < r.cap {
		r.cap = int(serverMaxOpenHandles)
	}
	r.slots = make([]replySlot, 0, r.cap)
}

// take removes and returns the slot for id, if buffered, compacting the
// ring (spec §4.3 step 1: "free the slot, compact the ring").
func (r *replyRing) take(id uint32) (replySlot, bool) {
	for i := range r.slots {
		if r.slots[i].id == id {
			s := r.slots[i]
			r.slots = append(r.slots[:i], r.slots[i+1:]...)
			return s, true
		}
	}
	return replySlot{}, false
}

// contains reports whether id is currently buffered, without consuming it.
func (r *replyRing) contains(id uint32) bool {
	for i := range r.slots {
		if r.slots[i].id == id {
			return true
		}
	}
	return false
}

// put buffers a newly-received, unmatched frame (spec §4.3 step 3:
// "duplicate the payload into a newly allocated slot, increment ring
// length"). Returns ErrTooManyOutstandingReplies if the ring is already
// at its ceiling.
func (r *replyRing) put(id uint32, typ uint8, payload []byte) error {
	if len(r.slots) >= r.cap {
		return ErrTooManyOutstandingReplies
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	r.slots = append(r.slots, replySlot{id: id, typ: typ, payload: cp})
	return nil
}

func (r *replyRing) len() int { return len(r.slots) }

// pendingWriteSet tracks request ids of writes sent but not yet
// acknowledged, preserving issuance order (spec §4.7 "the pending-id
// array").
type pendingWriteSet struct {
	ids []uint32
	cap int
}

func (p *pendingWriteSet) init(cap int) {
	p.cap = cap
	p.ids = p.ids[:0]
}

func (p *pendingWriteSet) atCap() bool { return len(p.ids) >= p.cap }

func (p *pendingWriteSet) add(id uint32) { p.ids = append(p.ids, id) }

func (p *pendingWriteSet) contains(id uint32) bool {
	for _, v := range p.ids {
		if v == id {
			return true
		}
	}
	return false
}

func (p *pendingWriteSet) remove(id uint32) bool {
	for i, v := range p.ids {
		if v == id {
			p.ids = append(p.ids[:i], p.ids[i+1:]...)
			return true
		}
	}
	return false
}

func (p *pendingWriteSet) oldest() (uint32, bool) {
	if len(p.ids) == 0 {
		return 0, false
	}
	return p.ids[0], true
}

func (p *pendingWriteSet) snapshot() []uint32 {
	cp := make([]uint32, len(p.ids))
	copy(cp, p.ids)
	return cp
}

func (p *pendingWriteSet) empty() bool { return len(p.ids) == 0 }

// pendingReadSet tracks request ids of in-flight pipelined reads, in
// strict offset/issuance order (spec §4.7 "Requests are issued in
// strict offset order").
type pendingReadSet struct {
	ids []uint32
}

func (p *pendingReadSet) add(id uint32) { p.ids = append(p.ids, id) }

func (p *pendingReadSet) popFront() (uint32, bool) {
	if len(p.ids) == 0 {
		return 0, false
	}
	id := p.ids[0]
	p.ids = p.ids[1:]
	return id, true
}

func (p *pendingReadSet) len() int { return len(p.ids) }

func (p *pendingReadSet) contains(id uint32) bool {
	for _, v := range p.ids {
		if v == id {
			return true
		}
	}
	return false
}

// readFrame reads one full SFTP frame from the wire: u32 length, u8
// type, u32 request id, payload (spec §6 "Each SFTP packet is itself
// framed on the pipe as u32 total_length || payload"; §4.3 framing:
// u32 length || u8 type || u32 request_id || payload).
//
// An oversized length is a framing error, not a buffer-growth trigger
// (spec §8 "Oversized frame: a length-prefix exceeding the ceiling
// yields framing error, not buffer growth").
func (s *Session) readFrame() (id uint32, typ uint8, payload []byte, err error) {
	var hdr [4]byte
	res, rerr := s.transport.readExact(hdr[:], 4)
	if rerr != nil {
		s.onTransportResult(res)
		return 0, 0, nil, rerr
	}
	length := uint32(hdr[0])<<24 | uint32(hdr[1])<<16 | uint32(hdr[2])<<8 | uint32(hdr[3])
	if length < 5 {
		return 0, 0, nil, framingErrorf("frame length %d too short for type+id", length)
	}
	if length > s.maxFrameLength() {
		return 0, 0, nil, framingErrorf("frame length %d exceeds session ceiling %d",
			length, s.maxFrameLength())
	}
	s.growWorkBuf(int(length))
	buf := s.workBuf[:length]
	res, rerr = s.transport.readExact(buf, int(length))
	if rerr != nil {
		s.onTransportResult(res)
		return 0, 0, nil, rerr
	}
	typ = buf[0]
	id = uint32(buf[1])<<24 | uint32(buf[2])<<16 | uint32(buf[3])<<8 | uint32(buf[4])
	return id, typ, buf[5:length], nil
}

// onTransportResult applies the latching rule of spec §3/§7: once a
// transport-fatal condition is observed, pipeBroken is latched and
// stays latched for the life of the session.
func (s *Session) onTransportResult(res transportResult) {
	switch res {
	case transportTimeout:
		if s.timeoutFlag != nil {
			s.timeoutFlag.Set()
		}
	case transportPipeClosed, transportConnReset, transportBrokenPipe:
		s.pipeBroken.Set()
	}
}

// getReply implements spec §4.3's get_reply(id) algorithm.
func (s *Session) getReply(id uint32) (typ uint8, payload []byte, err error) {
	if s.pipeBroken.IsSet() {
		return 0, nil, ErrPipeBroken
	}
	if slot, ok := s.replies.take(id); ok {
		return slot.typ, slot.payload, nil
	}
	for {
		frameID, frameTyp, framePayload, err := s.readFrame()
		if err != nil {
			return 0, nil, err
		}
		if frameID == id {
			return frameTyp, framePayload, nil
		}
		if perr := s.replies.put(frameID, frameTyp, framePayload); perr != nil {
			return 0, nil, perr
		}
	}
}

// getWriteReply implements spec §4.3's get_write_reply(id): it ensures
// id's acknowledgement has been consumed (removing it from the
// pending-write window), while opportunistically draining any other
// pending writes' acks that are already sitting in the deferred-reply
// ring, so the window doesn't stay needlessly full (spec: "drains
// multiple acknowledgements per call so the send window stays non-
// empty"). True OS-level non-blocking readiness (the spec's "zero-
// timeout readiness probe") has no portable stdlib equivalent for a
// pipe-backed fd without platform-specific polling, so this client
// approximates it by only ever consuming already-buffered ring entries
// when opportunistically draining, never issuing a speculative wire
// read.
func (s *Session) getWriteReply(id uint32) error {
	if s.pipeBroken.IsSet() {
		return ErrPipeBroken
	}
	for {
		if slot, ok := s.replies.take(id); ok {
			s.pendingWrites.remove(id)
			err := decodeWriteAck(slot.typ, slot.payload)
			s.drainBufferedWriteAcks()
			return err
		}
		frameID, frameTyp, framePayload, err := s.readFrame()
		if err != nil {
			return err
		}
		if frameID == id {
			s.pendingWrites.remove(id)
			ackErr := decodeWriteAck(frameTyp, framePayload)
			s.drainBufferedWriteAcks()
			return ackErr
		}
		if s.pendingWrites.contains(frameID) {
			s.pendingWrites.remove(frameID)
			if err := decodeWriteAck(frameTyp, framePayload); err != nil {
				ulogWarnWriteAck(frameID, err)
			}
			continue
		}
		if perr := s.replies.put(frameID, frameTyp, framePayload); perr != nil {
			return perr
		}
	}
}

// drainBufferedWriteAcks consumes any already-buffered deferred replies
// that correspond to still-pending writes, without touching the wire.
func (s *Session) drainBufferedWriteAcks() {
	for _, pid := range s.pendingWrites.snapshot() {
		if slot, ok := s.replies.take(pid); ok {
			s.pendingWrites.remove(pid)
			if err := decodeWriteAck(slot.typ, slot.payload); err != nil {
				ulogWarnWriteAck(pid, err)
			}
		}
	}
}

func decodeWriteAck(typ uint8, payload []byte) error {
	if typ != sshFxpStatus {
		return framingErrorf("expected STATUS for write ack, got type %d", typ)
	}
	return decodeStatus(payload)
}
