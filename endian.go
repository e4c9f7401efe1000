//go:build !symflow_big_endian

package symflow

// bigEndian selects the byte ordering used by Concat and ExtractBytes.
// The default build targets little-endian subjects; build with the
// symflow_big_endian tag for big-endian targets.
const bigEndian = false
