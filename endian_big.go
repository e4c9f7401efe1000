//go:build symflow_big_endian

package symflow

const bigEndian = true
