package main

import (
	"encoding/binary"
	"hash/crc32"
	"math"
	"time"

	"github.com/mizrachiran/brewos/internal/bootloader"
)

// simSensors is a stand-in for the real ADC/thermocouple read capability;
// it approaches its setpoints along a first-order thermal lag so the
// control/safety state machines have something realistic to react to in
// the smoke tests, without requiring actual boiler hardware.
type simSensors struct {
	brewC, steamC, groupC float64
	pressureBar           float64
	lastStep              time.Time
}

func newSimSensors(now time.Time) *simSensors {
	return &simSensors{brewC: 20, steamC: 20, groupC: 20, lastStep: now}
}

// thermalTau is the first-order lag constant the simulated boilers heat
// (or coast) toward their target under.
const thermalTau = 30 * time.Second

// step advances the simulated temperatures by dt toward their targets
// (heating) or toward ambient (idle), and nudges pressure while brewing.
func (s *simSensors) step(now time.Time, brewTarget, steamTarget float64, heating, brewing bool) {
	dt := now.Sub(s.lastStep)
	s.lastStep = now
	if dt <= 0 {
		return
	}
	alpha := 1 - math.Exp(-dt.Seconds()/thermalTau.Seconds())

	brewGoal, steamGoal, groupGoal := 20.0, 20.0, 20.0
	if heating {
		brewGoal, steamGoal, groupGoal = brewTarget, steamTarget, brewTarget
	}
	s.brewC += (brewGoal - s.brewC) * alpha
	s.steamC += (steamGoal - s.steamC) * alpha
	s.groupC += (groupGoal - s.groupC) * alpha

	if brewing {
		s.pressureBar += (9 - s.pressureBar) * alpha
	} else {
		s.pressureBar += (0 - s.pressureBar) * alpha
	}
}

// simFlash is a stand-in for the real OTA-writable flash region; it keeps
// the written image in memory so bootloader.Session's bounds and CRC
// checks have something real to exercise without touching actual MCU
// flash.
type simFlash struct {
	base, size uint32
	image      []byte
	// written accumulates page data in write order; bootloader.Session's
	// own running CRC-32 is likewise computed incrementally over chunk
	// data in arrival order, so this must match that shape byte-for-byte
	// rather than hashing the sparse, zero-padded image buffer.
	written []byte
}

func newSimFlash() *simFlash {
	const size = 64 * 1024
	return &simFlash{base: 0x08010000, size: size, image: make([]byte, size)}
}

func (f *simFlash) Base() uint32 { return f.base }
func (f *simFlash) Size() uint32 { return f.size }

func (f *simFlash) EraseSector(addr uint32) error {
	off := addr - f.base
	end := off + bootloader.SectorSize
	if end > uint32(len(f.image)) {
		end = uint32(len(f.image))
	}
	for i := off; i < end; i++ {
		f.image[i] = 0xFF
	}
	return nil
}

func (f *simFlash) WritePage(addr uint32, data []byte) error {
	off := addr - f.base
	copy(f.image[off:], data)
	f.written = append(f.written, data...)
	return nil
}

// imageCRC32 reports the CRC-32 of the image written so far. A real bridge
// would carry the expected CRC alongside the OTA command; this stub treats
// "whatever was written" as the expected value so the happy path verifies
// deterministically without a side channel.
func (f *simFlash) imageCRC32() uint32 { return crc32.ChecksumIEEE(f.written) }

// nextBootChunk looks for one complete wire chunk at the front of buf. It
// returns ok=false when more bytes are needed.
func nextBootChunk(buf []byte) (chunk []byte, consumed int, ok bool) {
	if len(buf) < 2 {
		return nil, 0, false
	}
	if buf[0] != bootloader.MagicLo || buf[1] != bootloader.MagicHi {
		return nil, 1, false
	}
	if len(buf) < 8 {
		return nil, 0, false
	}
	number := binary.LittleEndian.Uint32(buf[2:6])
	if number == bootloader.EndMarkerChunkNumber {
		if len(buf) < 10 {
			return nil, 0, false
		}
		return buf[:10], 10, true
	}
	size := binary.LittleEndian.Uint16(buf[6:8])
	want := 8 + int(size) + 1
	if len(buf) < want {
		return nil, 0, false
	}
	return buf[:want], want, true
}
