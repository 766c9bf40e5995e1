// Package bits reads and sets bits of CLA, INS and P1-P2 bytes using the
// ISO 7816-4 numbering, b8 (0x80) down to b1 (0x01). Positions outside
// 1..8 select no bit.
package bits

// Bit returns the byte with only bn set.
func Bit(n uint) byte {
	if n == 0 || n > 8 {
		return 0
	}
	return 1 << (n - 1)
}

func IsSet(b byte, n uint) bool {
	return b&Bit(n) != 0
}

func Set(b byte, n uint) byte {
	return b | Bit(n)
}

// Mask returns the byte with bhigh down to blow set, e.g. Mask(4, 3) is 0x0C.
func Mask(high, low uint) byte {
	if low == 0 || high > 8 {
		return 0
	}
	var m byte
	for n := low; n <= high; n++ {
		m |= Bit(n)
	}
	return m
}

// GetRange returns bhigh..blow of b shifted down to b1, e.g. the SM bits
// of a first interindustry class are GetRange(cla, 4, 3).
func GetRange(b byte, high, low uint) byte {
	m := Mask(high, low)
	if m == 0 {
		return 0
	}
	return (b & m) >> (low - 1)
}
