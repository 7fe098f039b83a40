package boot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

var (
	// ErrNoBoots is returned when there is nothing to select from.
	ErrNoBoots = errors.New("no boots found")
	// ErrUnknownBoot is returned for a boot id or offset that matches no segment.
	ErrUnknownBoot = errors.New("unknown boot")
)

// Selector picks one boot, journalctl style. The zero value selects the most
// recent boot.
//
//	Offset  0: most recent
//	Offset -1: the boot before it
//	Offset  1: the oldest boot (counting from 1)
type Selector struct {
	ID        string
	Offset    int
	HasOffset bool
}

// Latest selects the most recent boot.
func Latest() Selector { return Selector{} }

// ByOffset selects a boot relative to the newest (<= 0) or oldest (> 0).
func ByOffset(n int) Selector { return Selector{Offset: n, HasOffset: true} }

// ByID selects a boot by id.
func ByID(id string) Selector { return Selector{ID: id} }

func (s Selector) String() string {
	switch {
	case s.ID != "":
		return s.ID
	case s.HasOffset:
		return strconv.Itoa(s.Offset)
	default:
		return "latest"
	}
}

// ParseSelector accepts "", "latest", a signed integer offset or a boot id.
// UUID boot ids are accepted with or without dashes; any other token is
// taken as an id verbatim and left for SelectBoot to match.
func ParseSelector(s string) (Selector, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "latest", "last", "current":
		return Latest(), nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return ByOffset(n), nil
	}
	if id, err := uuid.Parse(s); err == nil {
		return ByID(normaliseID(id)), nil
	}
	if strings.ContainsFunc(s, unicode.IsSpace) {
		return Selector{}, fmt.Errorf("%w: invalid selector %q", ErrUnknownBoot, s)
	}
	return ByID(s), nil
}

// SelectBoot returns the segment picked by sel.
func SelectBoot(segments []Segment, sel Selector) (Segment, error) {
	if len(segments) == 0 {
		return Segment{}, ErrNoBoots
	}

	if sel.ID != "" {
		want := sel.ID
		if id, err := uuid.Parse(want); err == nil {
			want = normaliseID(id)
		}
		for _, seg := range segments {
			if seg.BootID == want || seg.BootID == sel.ID {
				return seg, nil
			}
		}
		return Segment{}, fmt.Errorf("%w: %s", ErrUnknownBoot, sel.ID)
	}

	if !sel.HasOffset {
		return segments[len(segments)-1], nil
	}

	idx := len(segments) - 1 + sel.Offset
	if sel.Offset > 0 {
		idx = sel.Offset - 1
	}
	if idx < 0 || idx >= len(segments) {
		return Segment{}, fmt.Errorf("%w: offset %d out of range (%d boots)", ErrUnknownBoot, sel.Offset, len(segments))
	}
	return segments[idx], nil
}

// journald prints boot ids as 32 lowercase hex digits.
func normaliseID(id uuid.UUID) string {
	return strings.ReplaceAll(id.String(), "-", "")
}
