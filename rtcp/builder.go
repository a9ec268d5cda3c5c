// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

package rtcp

// BuilderState is the compound builder's lifecycle (§4.5 "builder state
// machine"): Idle accepts nothing but a first SR/RR, Building accepts any
// further section, Built is terminal until Reset.
type BuilderState int

const (
	BuilderIdle BuilderState = iota
	BuilderBuilding
	BuilderBuilt
)

// maxRecordCount is the 5-bit RFC 3550 §6.1 "count" field ceiling shared
// by report blocks per SR/RR, SDES chunks per SDES record, and SSRCs per
// BYE record (§4.5). APP's subtype field shares the same width.
const maxRecordCount = 31

// CompoundBuilder assembles one compound RTCP packet section by section,
// enforcing RFC 3550 §6.1's "starts with SR or RR" rule and the 1200-byte
// path-MTU budget the original targets for a single write.
type CompoundBuilder struct {
	state BuilderState
	buf   []byte

	MaxSize int
}

// NewCompoundBuilder constructs an empty builder. maxSize of 0 selects
// the conventional 1200-byte compound packet budget.
func NewCompoundBuilder(maxSize int) *CompoundBuilder {
	if maxSize == 0 {
		maxSize = 1200
	}
	return &CompoundBuilder{MaxSize: maxSize}
}

func (b *CompoundBuilder) appendSection(section []byte) error {
	if len(b.buf)+len(section) > b.MaxSize {
		return wrapErr(KindNoBufferSpace, "rtcp: compound packet exceeds max size", ErrNoBufferSpace)
	}
	b.buf = append(b.buf, section...)
	b.state = BuilderBuilding
	return nil
}

// splitReportBlocks breaks blocks into groups of at most maxRecordCount,
// the most a single SR/RR record's 5-bit count field can hold (§4.5 "at
// most 31 report blocks per header record — additional blocks start a new
// SR/RR record under the same sender").
func splitReportBlocks(blocks []ReportBlock) [][]ReportBlock {
	if len(blocks) == 0 {
		return [][]ReportBlock{nil}
	}
	var groups [][]ReportBlock
	for len(blocks) > maxRecordCount {
		groups = append(groups, blocks[:maxRecordCount])
		blocks = blocks[maxRecordCount:]
	}
	return append(groups, blocks)
}

// AddSenderReport appends an SR section. Only valid as the first call
// after construction or Reset. Report blocks beyond the first 31 spill
// into trailing RR records carrying the same SSRC, since the wire format
// has no way to continue an SR's count field past 5 bits.
func (b *CompoundBuilder) AddSenderReport(sr SenderReport) error {
	if b.state != BuilderIdle {
		return wrapErr(KindInvalidState, "rtcp: SR/RR must be the first section", ErrInvalidState)
	}
	groups := splitReportBlocks(sr.Reports)
	head := sr
	head.Reports = groups[0]
	if err := b.appendSection(EncodeSenderReport(head)); err != nil {
		return err
	}
	for _, g := range groups[1:] {
		if err := b.appendSection(EncodeReceiverReport(ReceiverReport{SSRC: sr.SSRC, Reports: g})); err != nil {
			return err
		}
	}
	return nil
}

// AddReceiverReport appends an RR section. Only valid as the first call
// after construction or Reset. Spills past 31 report blocks into further
// RR records the same way AddSenderReport does.
func (b *CompoundBuilder) AddReceiverReport(rr ReceiverReport) error {
	if b.state != BuilderIdle {
		return wrapErr(KindInvalidState, "rtcp: SR/RR must be the first section", ErrInvalidState)
	}
	for _, g := range splitReportBlocks(rr.Reports) {
		if err := b.appendSection(EncodeReceiverReport(ReceiverReport{SSRC: rr.SSRC, Reports: g})); err != nil {
			return err
		}
	}
	return nil
}

// AddSDES appends an SDES section. Must follow an SR or RR. More than 31
// chunks spill into additional SDES records (§4.5 "at most 31 chunks per
// SDES record").
func (b *CompoundBuilder) AddSDES(sdes SourceDescription) error {
	if b.state != BuilderBuilding {
		return wrapErr(KindInvalidState, "rtcp: SDES must follow SR/RR", ErrInvalidState)
	}
	chunks := sdes.Chunks
	for len(chunks) > maxRecordCount {
		if err := b.appendSection(EncodeSDES(SourceDescription{Chunks: chunks[:maxRecordCount]})); err != nil {
			return err
		}
		chunks = chunks[maxRecordCount:]
	}
	return b.appendSection(EncodeSDES(SourceDescription{Chunks: chunks}))
}

// AddBye appends a BYE section. Must follow an SR or RR. More than 31
// SSRCs spill into additional BYE records (§4.5 "ssrcs[≤31]"); the reason
// text, if any, is carried only on the final record.
func (b *CompoundBuilder) AddBye(bye Goodbye) error {
	if b.state != BuilderBuilding {
		return wrapErr(KindInvalidState, "rtcp: BYE must follow SR/RR", ErrInvalidState)
	}
	sources := bye.Sources
	for len(sources) > maxRecordCount {
		if err := b.appendSection(EncodeBye(Goodbye{Sources: sources[:maxRecordCount]})); err != nil {
			return err
		}
		sources = sources[maxRecordCount:]
	}
	return b.appendSection(EncodeBye(Goodbye{Sources: sources, Reason: bye.Reason}))
}

// AddApp appends an APP section. Must follow an SR or RR. SubType must
// fit the 5-bit count field the wire format shares with SR/RR/SDES/BYE
// (§4.5 "subtype≤31").
func (b *CompoundBuilder) AddApp(app App) error {
	if b.state != BuilderBuilding {
		return wrapErr(KindInvalidState, "rtcp: APP must follow SR/RR", ErrInvalidState)
	}
	if app.SubType > maxRecordCount {
		return wrapErr(KindNoBufferSpace, "rtcp: app subtype exceeds 5-bit field", ErrNoBufferSpace)
	}
	return b.appendSection(EncodeApp(app))
}

// Build finalizes and returns the compound packet bytes, transitioning
// the builder to Built. Calling Build from BuilderIdle (no SR/RR added)
// is an error.
func (b *CompoundBuilder) Build() ([]byte, error) {
	if b.state == BuilderIdle {
		return nil, wrapErr(KindInvalidState, "rtcp: compound packet needs a leading SR or RR", ErrInvalidState)
	}
	b.state = BuilderBuilt
	return b.buf, nil
}

// Reset clears the builder back to Idle so it can assemble another
// compound packet.
func (b *CompoundBuilder) Reset() {
	b.state = BuilderIdle
	b.buf = b.buf[:0]
}

// State reports the builder's current lifecycle state.
func (b *CompoundBuilder) State() BuilderState { return b.state }
