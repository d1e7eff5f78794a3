// Package bnt holds the 2-bit-per-base nucleotide tables shared by the
// kmer and reads packages. Grounded on the bnt.* call sites used by the
// teacher's constructcf package (Base2Bnt, BntRev, NumBaseInUint64,
// BaseMask, NumBitsInBase) -- the bnt package itself was not present in
// the retrieved pack, so its contents are reconstructed from those calls.
package bnt

import "fmt"

const (
	NumBitsInBase   = 2
	NumBaseInByte   = 8 / NumBitsInBase
	NumBaseInUint64 = 64 / NumBitsInBase
	BaseMask        = uint64(1<<NumBitsInBase) - 1
)

// Base2Bnt maps an ASCII nucleotide to its 2-bit code, A=0,C=1,G=2,T=3.
// Lowercase bases (used by kcount's quality-masking convention) map the
// same as uppercase. Anything else maps to 4, which callers treat as
// invalid/N.
var Base2Bnt [256]byte

// BntBase is the inverse of Base2Bnt for the four real bases.
var BntBase = [4]byte{'A', 'C', 'G', 'T'}

// BntRev complements a 2-bit base code (A<->T, C<->G).
var BntRev [4]byte

func init() {
	for i := range Base2Bnt {
		Base2Bnt[i] = 4
	}
	Base2Bnt['A'], Base2Bnt['a'] = 0, 0
	Base2Bnt['C'], Base2Bnt['c'] = 1, 1
	Base2Bnt['G'], Base2Bnt['g'] = 2, 2
	Base2Bnt['T'], Base2Bnt['t'] = 3, 3
	BntRev = [4]byte{3, 2, 1, 0}
}

// CharToCode converts an ASCII base to its 2-bit code, erroring on
// anything outside {A,C,G,T} (case-insensitive) -- a malformed-input error
// per the spec's error taxonomy.
func CharToCode(c byte) (byte, error) {
	code := Base2Bnt[c]
	if code > 3 {
		return 0, fmt.Errorf("bnt: illegal nucleotide %q", c)
	}
	return code, nil
}

// CodeToChar is the inverse of CharToCode.
func CodeToChar(code byte) byte {
	if code > 3 {
		return 'N'
	}
	return BntBase[code]
}

// Complement returns the complement base code.
func Complement(code byte) byte {
	if code > 3 {
		return code
	}
	return BntRev[code]
}
