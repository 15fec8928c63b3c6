package readings

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrLengthMismatch is returned when channels do not share one series length
	ErrLengthMismatch = errors.New("reading series length mismatch")
	// ErrMeterNotFound is returned for a meter absent from the source
	ErrMeterNotFound = errors.New("meter not found in reading source")
	// ErrComponentNotFound is returned for a load component absent from a meter
	ErrComponentNotFound = errors.New("load component not found for meter")
	// ErrIndexOutOfRange is returned when a sample index is outside [0, Length)
	ErrIndexOutOfRange = errors.New("sample index out of range")
)

// Sample is one recorded power value
type Sample struct {
	TimestampS float64
	PowerW     float64
}

// Source gives read-only access to pre-recorded per-meter power series.
// Every channel of every meter has the same length.
type Source interface {
	Meters() []string
	LoadComponents(meterID string) ([]string, bool)
	Length() int
	Sample(meterID, component string, index int) (Sample, error)
	Series(meterID, component string) ([]Sample, error)
}

// MemorySource is a Source held entirely in memory
type MemorySource struct {
	series     map[string]map[string][]Sample
	meters     []string
	components map[string][]string
	length     int
}

var _ Source = (*MemorySource)(nil)

// NewMemorySource builds a source from meter -> component -> samples
func NewMemorySource(data map[string]map[string][]Sample) (*MemorySource, error) {
	src := &MemorySource{
		series:     make(map[string]map[string][]Sample, len(data)),
		components: make(map[string][]string, len(data)),
		length:     -1,
	}

	for meterID, channels := range data {
		if len(channels) == 0 {
			continue
		}
		comps := make([]string, 0, len(channels))
		src.series[meterID] = make(map[string][]Sample, len(channels))
		for component, samples := range channels {
			if src.length == -1 {
				src.length = len(samples)
			} else if len(samples) != src.length {
				return nil, fmt.Errorf("%w: meter %s component %s has %d samples, expected %d",
					ErrLengthMismatch, meterID, component, len(samples), src.length)
			}
			src.series[meterID][component] = samples
			comps = append(comps, component)
		}
		sortComponents(comps)
		src.components[meterID] = comps
		src.meters = append(src.meters, meterID)
	}

	sort.Strings(src.meters)
	if src.length < 0 {
		src.length = 0
	}

	return src, nil
}

// Meters returns the sorted meter ids
func (m *MemorySource) Meters() []string {
	out := make([]string, len(m.meters))
	copy(out, m.meters)
	return out
}

// LoadComponents returns the sorted channel names of a meter
func (m *MemorySource) LoadComponents(meterID string) ([]string, bool) {
	comps, ok := m.components[meterID]
	if !ok {
		return nil, false
	}
	out := make([]string, len(comps))
	copy(out, comps)
	return out, true
}

// Length is the shared number of samples per channel
func (m *MemorySource) Length() int {
	return m.length
}

func (m *MemorySource) Sample(meterID, component string, index int) (Sample, error) {
	samples, err := m.lookup(meterID, component)
	if err != nil {
		return Sample{}, err
	}
	if index < 0 || index >= len(samples) {
		return Sample{}, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, index, len(samples))
	}
	return samples[index], nil
}

func (m *MemorySource) Series(meterID, component string) ([]Sample, error) {
	samples, err := m.lookup(meterID, component)
	if err != nil {
		return nil, err
	}
	out := make([]Sample, len(samples))
	copy(out, samples)
	return out, nil
}

func (m *MemorySource) lookup(meterID, component string) ([]Sample, error) {
	channels, ok := m.series[meterID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMeterNotFound, meterID)
	}
	samples, ok := channels[component]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrComponentNotFound, meterID, component)
	}
	return samples, nil
}

// sortComponents orders load_N names by their numeric suffix
func sortComponents(comps []string) {
	sort.Slice(comps, func(i, j int) bool {
		ni, okI := componentIndex(comps[i])
		nj, okJ := componentIndex(comps[j])
		if okI && okJ && ni != nj {
			return ni < nj
		}
		return comps[i] < comps[j]
	})
}

func componentIndex(component string) (int, bool) {
	idx := strings.LastIndexByte(component, '_')
	if idx < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(component[idx+1:])
	if err != nil {
		return 0, false
	}
	return n, true
}
