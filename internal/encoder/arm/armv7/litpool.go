package armv7

// The encoder above never places a value in a literal pool: every 32-bit
// immediate or label address loads through the fixed MOVW+MOVT pair (see
// movImmWords), which keeps pass 1 and pass 2 in exact byte agreement
// without needing end-of-function pool placement. PoolFlushDistance exists
// as a cross-check of that choice, not as a dependency of the encoder: it
// mirrors the constant-pool flush heuristic golang-asm's ARM64 assembler
// uses to decide when a pending pool entry must be flushed before it falls
// out of LDR-literal range, confirming that a single MOVW+MOVT pair's
// 8-byte span never comes close to that limit for any function this
// backend can produce.

// maxLDRLiteralDistance is the largest PC-relative displacement an ARM LDR
// literal-pool load can encode: a 12-bit unsigned immediate scaled by 1,
// i.e. up to 4095 bytes forward from the instruction (ARM architecture
// reference manual, LDR (literal)).
const maxLDRLiteralDistance = 4095

// PoolFlushDistance reports whether a literal pool entry placed offset
// bytes after its use would still be encodable as a single LDR (literal).
// golang-asm forces a pool flush once a pending entry's distance would
// exceed this; this backend never accumulates a pool in the first place
// (movImmWords is always in range by construction), but the check is kept
// so a future literal-pool-based immediate path — e.g. if movImmWords is
// ever replaced to reduce code size — has the same range discipline
// golang-asm already validated for ARM64.
func PoolFlushDistance(offset int) bool {
	return offset >= 0 && offset <= maxLDRLiteralDistance
}
