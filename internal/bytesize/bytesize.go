// Package bytesize parses and formats byte quantities. It is used for
// bandwidth figures ("12.5M" meaning 12.5 megabytes per second) and
// buffer sizes ("4Mi").
package bytesize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ByteSize is a size in bytes that unmarshals from human-readable
// strings like "1Gi", "500Mi", "100MB" or plain numbers.
//
// Binary suffixes (Ki/Mi/Gi/Ti, optionally with a trailing B) multiply
// by 1024; decimal suffixes (K/M/G/T, KB/MB/...) multiply by 1000.
type ByteSize uint64

// Common byte size constants.
const (
	B  ByteSize = 1
	KB ByteSize = 1000
	MB ByteSize = 1000 * KB
	GB ByteSize = 1000 * MB
	TB ByteSize = 1000 * GB

	KiB ByteSize = 1024
	MiB ByteSize = 1024 * KiB
	GiB ByteSize = 1024 * MiB
	TiB ByteSize = 1024 * GiB
)

var sizePattern = regexp.MustCompile(`(?i)^\s*(\d+(?:\.\d+)?)\s*([a-z]*)\s*$`)

var unitMultipliers = map[string]ByteSize{
	"": B, "b": B,
	"k": KB, "kb": KB,
	"m": MB, "mb": MB,
	"g": GB, "gb": GB,
	"t": TB, "tb": TB,
	"ki": KiB, "kib": KiB,
	"mi": MiB, "mib": MiB,
	"gi": GiB, "gib": GiB,
	"ti": TiB, "tib": TiB,
}

// Parse parses a human-readable byte size string.
func Parse(s string) (ByteSize, error) {
	if strings.TrimSpace(s) == "" {
		return 0, fmt.Errorf("empty byte size string")
	}
	matches := sizePattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("invalid byte size format: %q", s)
	}
	mult, ok := unitMultipliers[strings.ToLower(matches[2])]
	if !ok {
		return 0, fmt.Errorf("unknown byte size unit %q in %q", matches[2], s)
	}
	num, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number in byte size %q: %w", s, err)
	}
	return ByteSize(num * float64(mult)), nil
}

// String renders the size with the largest suffix that divides it
// cleanly enough to read, preferring decimal units as bandwidths are
// usually quoted in them.
func (b ByteSize) String() string {
	v := uint64(b)
	switch {
	case v >= uint64(TB) && v%uint64(GB) == 0:
		return format(v, uint64(TB), "T")
	case v >= uint64(GB) && v%uint64(MB) == 0:
		return format(v, uint64(GB), "G")
	case v >= uint64(MB) && v%uint64(KB) == 0:
		return format(v, uint64(MB), "M")
	case v >= uint64(KB) && v%100 == 0:
		return format(v, uint64(KB), "K")
	default:
		return strconv.FormatUint(v, 10)
	}
}

func format(v, unit uint64, suffix string) string {
	whole := v / unit
	frac := v % unit
	if frac == 0 {
		return fmt.Sprintf("%d%s", whole, suffix)
	}
	s := strconv.FormatFloat(float64(v)/float64(unit), 'f', 3, 64)
	s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	return s + suffix
}

// UnmarshalText lets ByteSize be decoded directly by config layers.
func (b *ByteSize) UnmarshalText(text []byte) error {
	v, err := Parse(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}
