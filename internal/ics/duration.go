package ics

import (
	"strconv"
	"strings"
	"time"

	"github.com/friendsofgo/errors"
)

// parseDuration parses an iCalendar DURATION value such as "-PT15M",
// "P1D" or "P1W". The sign is returned separately from the magnitude.
func parseDuration(v string) (negative bool, d time.Duration, err error) {
	s := strings.ToUpper(strings.TrimSpace(v))
	if s == "" {
		return false, 0, errors.New("empty duration")
	}
	switch s[0] {
	case '-':
		negative = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	if !strings.HasPrefix(s, "P") || len(s) < 3 {
		return false, 0, errors.Errorf("malformed duration %q", v)
	}
	s = s[1:]

	inTime := false
	num := ""
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			num += string(r)
			continue
		case r == 'T':
			if inTime || num != "" {
				return false, 0, errors.Errorf("malformed duration %q", v)
			}
			inTime = true
			continue
		}
		if num == "" {
			return false, 0, errors.Errorf("malformed duration %q", v)
		}
		n, convErr := strconv.Atoi(num)
		if convErr != nil {
			return false, 0, errors.Wrapf(convErr, "duration %q", v)
		}
		num = ""

		var unit time.Duration
		switch {
		case r == 'W' && !inTime:
			unit = 7 * 24 * time.Hour
		case r == 'D' && !inTime:
			unit = 24 * time.Hour
		case r == 'H' && inTime:
			unit = time.Hour
		case r == 'M' && inTime:
			unit = time.Minute
		case r == 'S' && inTime:
			unit = time.Second
		default:
			return false, 0, errors.Errorf("malformed duration %q", v)
		}
		d += time.Duration(n) * unit
	}
	if num != "" {
		return false, 0, errors.Errorf("malformed duration %q", v)
	}
	return negative, d, nil
}
