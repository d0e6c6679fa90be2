package heap

import "unsafe"

// wordPointer returns an unsafe.Pointer into buf at byte offset off. Callers
// must not retain the result across any call that might grow or swap buf.
func wordPointer(buf []byte, off offset) unsafe.Pointer {
	return unsafe.Pointer(&buf[off])
}

// alignUp returns the smallest multiple of 2^bits that is >= x (spec §8).
func alignUp(x uint64, bits uint) uint64 {
	mask := (uint64(1) << bits) - 1
	return (x + mask) &^ mask
}
