// Package mem provides the byte storage shared by the simulated RAM and the
// TLB mirror.
package mem

import (
	"errors"
	"fmt"
	"io"
	"sort"
)

// ErrOutOfRange is returned when accessing an address beyond the storage
// capacity.
var ErrOutOfRange = errors.New("accessing address beyond the storage capacity")

// A Storage keeps the bytes of a simulated device.
//
// The storage implementation manages the storage in units. The unit is
// similar to the concept of page in memory management. For the units that
// are not touched by Read and Write functions, no memory will be allocated,
// so a storage spanning a whole virtual address space is cheap.
//
// Storage is not safe for concurrent use; its owner serializes access.
type Storage struct {
	unitSize uint64
	capacity uint64
	data     map[uint64][]byte
}

// NewStorage creates a storage object with the specified capacity in bytes.
func NewStorage(capacity uint64) *Storage {
	return NewStorageWithUnitSize(capacity, 4096)
}

// NewStorageWithUnitSize creates a storage whose lazily allocated units have
// the given size.
func NewStorageWithUnitSize(capacity, unitSize uint64) *Storage {
	if unitSize == 0 {
		panic("unit size must be positive")
	}

	return &Storage{
		unitSize: unitSize,
		capacity: capacity,
		data:     make(map[uint64][]byte),
	}
}

// Capacity returns the number of addressable bytes.
func (s *Storage) Capacity() uint64 {
	return s.capacity
}

func (s *Storage) createOrGetStorageUnit(address uint64) ([]byte, error) {
	if address >= s.capacity {
		return nil, fmt.Errorf("%w: 0x%x", ErrOutOfRange, address)
	}

	baseAddr, _ := s.parseAddress(address)
	unit, ok := s.data[baseAddr]
	if !ok {
		unit = make([]byte, s.unitSize)
		s.data[baseAddr] = unit
	}

	return unit, nil
}

func (s *Storage) parseAddress(addr uint64) (baseAddr, inUnitAddr uint64) {
	inUnitAddr = addr % s.unitSize
	baseAddr = addr - inUnitAddr

	return
}

// Read returns length bytes starting from address.
func (s *Storage) Read(address uint64, length uint64) ([]byte, error) {
	if length > 0 && address+length > s.capacity {
		return nil, fmt.Errorf("%w: 0x%x+%d", ErrOutOfRange, address, length)
	}

	currAddr := address
	lenLeft := length
	dataOffset := uint64(0)
	res := make([]byte, length)

	for currAddr < address+length {
		unit, err := s.createOrGetStorageUnit(currAddr)
		if err != nil {
			return nil, err
		}

		baseAddr, inUnitAddr := s.parseAddress(currAddr)
		lenToRead := min(lenLeft, baseAddr+s.unitSize-currAddr)

		copy(res[dataOffset:dataOffset+lenToRead],
			unit[inUnitAddr:inUnitAddr+lenToRead])
		lenLeft -= lenToRead
		dataOffset += lenToRead
		currAddr += lenToRead
	}

	return res, nil
}

// Write stores data starting from address.
func (s *Storage) Write(address uint64, data []byte) error {
	length := uint64(len(data))
	if length > 0 && address+length > s.capacity {
		return fmt.Errorf("%w: 0x%x+%d", ErrOutOfRange, address, length)
	}

	currAddr := address
	dataOffset := uint64(0)

	for dataOffset < length {
		unit, err := s.createOrGetStorageUnit(currAddr)
		if err != nil {
			return err
		}

		baseAddr, inUnitAddr := s.parseAddress(currAddr)
		lenToWrite := min(length-dataOffset, baseAddr+s.unitSize-currAddr)

		copy(unit[inUnitAddr:inUnitAddr+lenToWrite],
			data[dataOffset:dataOffset+lenToWrite])
		dataOffset += lenToWrite
		currAddr += lenToWrite
	}

	return nil
}

// LoadByte returns the single byte at address.
func (s *Storage) LoadByte(address uint64) (byte, error) {
	if address >= s.capacity {
		return 0, fmt.Errorf("%w: 0x%x", ErrOutOfRange, address)
	}

	baseAddr, inUnitAddr := s.parseAddress(address)
	unit, ok := s.data[baseAddr]
	if !ok {
		return 0, nil
	}

	return unit[inUnitAddr], nil
}

// StoreByte writes a single byte at address.
func (s *Storage) StoreByte(address uint64, value byte) error {
	unit, err := s.createOrGetStorageUnit(address)
	if err != nil {
		return err
	}

	_, inUnitAddr := s.parseAddress(address)
	unit[inUnitAddr] = value

	return nil
}

// Dump prints every byte of the touched units, one "\taddr: HH" line per
// byte, in address order. Untouched units read as zero and are skipped.
func (s *Storage) Dump(w io.Writer) error {
	bases := make([]uint64, 0, len(s.data))
	for base := range s.data {
		bases = append(bases, base)
	}

	sort.Slice(bases, func(i, j int) bool { return bases[i] < bases[j] })

	for _, base := range bases {
		unit := s.data[base]
		for i, b := range unit {
			if base+uint64(i) >= s.capacity {
				break
			}

			_, err := fmt.Fprintf(w, "\t%d: %02X\n", base+uint64(i), b)
			if err != nil {
				return err
			}
		}
	}

	return nil
}
