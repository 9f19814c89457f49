package targets

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/sweepnet/sweepnet/internal/errors"
)

// ParsePorts parses a port list spec like "80,443,8000-8100" into a
// sorted, deduplicated slice.
func ParsePorts(spec string) ([]uint16, error) {
	seen := make(map[uint16]struct{})

	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, errors.NewScanError(errors.CodeValidation,
				"empty entry in port list")
		}

		lo, hi, err := parsePortRange(part)
		if err != nil {
			return nil, err
		}
		for p := int(lo); p <= int(hi); p++ {
			seen[uint16(p)] = struct{}{}
		}
	}

	if len(seen) == 0 {
		return nil, errors.NewScanError(errors.CodeValidation, "port list is empty")
	}

	ports := make([]uint16, 0, len(seen))
	for p := range seen {
		ports = append(ports, p)
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i] < ports[j] })
	return ports, nil
}

func parsePortRange(part string) (uint16, uint16, error) {
	loStr, hiStr, isRange := strings.Cut(part, "-")
	lo, err := parsePort(loStr)
	if err != nil {
		return 0, 0, err
	}
	if !isRange {
		return lo, lo, nil
	}

	hi, err := parsePort(hiStr)
	if err != nil {
		return 0, 0, err
	}
	if hi < lo {
		return 0, 0, errors.NewScanError(errors.CodeValidation,
			fmt.Sprintf("port range %s is reversed", part))
	}
	return lo, hi, nil
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 || n > 65535 {
		return 0, errors.NewScanError(errors.CodeValidation,
			fmt.Sprintf("invalid port %q", s))
	}
	return uint16(n), nil
}
