package execstate

import (
	"context"
	"fmt"
	"sort"
)

// MapMemory is a Memory over fixed byte regions, keyed by base address.
type MapMemory struct {
	Regions map[uint64][]byte
}

// ReadCString implements Memory.
func (m *MapMemory) ReadCString(_ context.Context, addr uint64, max int) (string, error) {
	bases := make([]uint64, 0, len(m.Regions))
	for b := range m.Regions {
		bases = append(bases, b)
	}
	sort.Slice(bases, func(i, j int) bool { return bases[i] < bases[j] })

	var hit []byte
	matches := 0
	for _, b := range bases {
		data := m.Regions[b]
		if addr >= b && addr < b+uint64(len(data)) {
			hit = data[addr-b:]
			matches++
		}
	}
	switch matches {
	case 0:
		return "", fmt.Errorf("address %#x: unmapped", addr)
	case 1:
	default:
		return "", fmt.Errorf("address %#x: %w", addr, ErrAmbiguousResolution)
	}
	if len(hit) > max {
		hit = hit[:max]
	}
	for i, c := range hit {
		if c == 0 {
			return string(hit[:i]), nil
		}
	}
	return string(hit), nil
}
