package bits

import "testing"

func TestBit(t *testing.T) {
	for n, want := range map[uint]byte{0: 0, 1: 0x01, 5: 0x10, 7: 0x40, 8: 0x80, 9: 0} {
		if got := Bit(n); got != want {
			t.Errorf("Bit(%d) = %02X, want %02X", n, got, want)
		}
	}
}

func TestIsSetAndSet(t *testing.T) {
	cla := Set(Set(0x00, 7), 5) // further interindustry, chained
	if cla != 0x50 {
		t.Fatalf("Set = %02X, want 50", cla)
	}
	if !IsSet(cla, 7) || !IsSet(cla, 5) || IsSet(cla, 8) || IsSet(cla, 0) {
		t.Errorf("IsSet reports wrong bits for %02X", cla)
	}
}

func TestMask(t *testing.T) {
	tests := []struct {
		high, low uint
		want      byte
	}{
		{4, 3, 0x0C},
		{2, 1, 0x03},
		{8, 8, 0x80},
		{8, 1, 0xFF},
		{3, 4, 0x00},
		{9, 1, 0x00},
		{1, 0, 0x00},
	}
	for _, tt := range tests {
		if got := Mask(tt.high, tt.low); got != tt.want {
			t.Errorf("Mask(%d, %d) = %02X, want %02X", tt.high, tt.low, got, tt.want)
		}
	}
}

func TestGetRange(t *testing.T) {
	tests := []struct {
		name      string
		b         byte
		high, low uint
		want      byte
	}{
		{"first interindustry SM", 0x0D, 4, 3, 3},
		{"first interindustry channel", 0x0D, 2, 1, 1},
		{"further interindustry channel", 0x4F, 4, 1, 15},
		{"counter nibble", 0xC3, 8, 5, 0x0C},
		{"invalid range", 0xFF, 2, 4, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetRange(tt.b, tt.high, tt.low); got != tt.want {
				t.Errorf("GetRange(%02X, %d, %d) = %d, want %d", tt.b, tt.high, tt.low, got, tt.want)
			}
		})
	}
}
