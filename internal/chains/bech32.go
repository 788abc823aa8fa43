package chains

import (
	"fmt"
	"strings"
)

// Minimal bech32 decode, enough to recover a Cosmos SDK address's raw bytes.
// No example in the retrieval pack carries a bech32 library, so this is
// hand-rolled against BIP-173 rather than left unimplemented.

const bech32Charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

func bech32Decode(s string) (hrp string, data []byte, err error) {
	s = strings.ToLower(s)
	pos := strings.LastIndexByte(s, '1')
	if pos < 1 || pos+7 > len(s) {
		return "", nil, fmt.Errorf("bech32: invalid separator position")
	}
	hrp = s[:pos]
	values := make([]byte, len(s)-pos-1)
	for i, c := range s[pos+1:] {
		idx := strings.IndexRune(bech32Charset, c)
		if idx < 0 {
			return "", nil, fmt.Errorf("bech32: invalid character %q", c)
		}
		values[i] = byte(idx)
	}
	if !bech32VerifyChecksum(hrp, values) {
		return "", nil, fmt.Errorf("bech32: invalid checksum")
	}
	converted, err := convertBits(values[:len(values)-6], 5, 8, false)
	if err != nil {
		return "", nil, err
	}
	return hrp, converted, nil
}

func bech32Polymod(values []byte) uint32 {
	gen := [5]uint32{0x3b6a57b2, 0x26508e6d, 0x1ea119fa, 0x3d4233dd, 0x2a1462b3}
	chk := uint32(1)
	for _, v := range values {
		b := byte(chk >> 25)
		chk = (chk&0x1ffffff)<<5 ^ uint32(v)
		for i := 0; i < 5; i++ {
			if (b>>uint(i))&1 == 1 {
				chk ^= gen[i]
			}
		}
	}
	return chk
}

func bech32HRPExpand(hrp string) []byte {
	out := make([]byte, 0, len(hrp)*2+1)
	for _, c := range hrp {
		out = append(out, byte(c)>>5)
	}
	out = append(out, 0)
	for _, c := range hrp {
		out = append(out, byte(c)&31)
	}
	return out
}

func bech32VerifyChecksum(hrp string, data []byte) bool {
	values := append(bech32HRPExpand(hrp), data...)
	return bech32Polymod(values) == 1
}

// convertBits regroups a bitstream from fromBits-wide words into toBits-wide
// words (5->8 for decoding bech32 payloads into raw bytes).
func convertBits(data []byte, fromBits, toBits uint, pad bool) ([]byte, error) {
	var acc uint32
	var bits uint
	var out []byte
	maxv := uint32(1)<<toBits - 1
	for _, d := range data {
		acc = acc<<fromBits | uint32(d)
		bits += fromBits
		for bits >= toBits {
			bits -= toBits
			out = append(out, byte(acc>>bits)&byte(maxv))
		}
	}
	if pad && bits > 0 {
		out = append(out, byte(acc<<(toBits-bits))&byte(maxv))
	} else if bits >= fromBits || (acc<<(toBits-bits))&maxv != 0 {
		return nil, fmt.Errorf("bech32: invalid padding")
	}
	return out, nil
}
