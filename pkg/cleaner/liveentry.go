package cleaner

// LiveEntry is the ephemeral record collected while scanning a pass's input
// segments: which segment held the entry, at what offset, and its cached
// timestamp for the age sort. Field order matters: uint64 then two uint32s
// packs to exactly 16 bytes with no padding on a 64-bit platform, since a
// pass may hold millions of these live simultaneously.
type LiveEntry struct {
	Handle    uint64
	Offset    uint32
	Timestamp uint32
}
