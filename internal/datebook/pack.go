// Package datebook packs appointment records into the Palm Datebook
// (DatebookDB) binary record layout.
package datebook

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/friendsofgo/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"palmcal/internal/model"
)

// Record flag bits.
const (
	flagAlarm       = 0x40
	flagRepeat      = 0x20
	flagNote        = 0x10
	flagExceptions  = 0x08
	flagDescription = 0x04
)

// Alarm advance units.
const (
	unitMinutes = 0
	unitHours   = 1
	unitDays    = 2
)

// untimed marks the four time bytes of an all-day appointment.
const untimed = 0xff

// foreverDate is the packed repeat end date of an endless series.
const foreverDate = 0xffff

// Packed dates store the year as a 7 bit offset from 1904.
const (
	MinYear = 1904
	MaxYear = MinYear + 127
)

// ErrDateRange is returned for dates the packed format cannot hold.
var ErrDateRange = errors.New("datebook: date outside 1904-2031")

// Pack encodes rec as a DatebookDB record. Text is converted to
// Windows-1252; characters without an equivalent become the SUB byte.
func Pack(rec model.AppointmentRecord) ([]byte, error) {
	var buf bytes.Buffer

	if rec.AllDay {
		buf.Write([]byte{untimed, untimed, untimed, untimed})
	} else {
		buf.Write([]byte{
			byte(rec.Start.Hour()), byte(rec.Start.Minute()),
			byte(rec.End.Hour()), byte(rec.End.Minute()),
		})
	}

	date, err := packDate(rec.Start)
	if err != nil {
		return nil, errors.Wrap(err, "start")
	}
	writeUint16(&buf, date)

	description, err := encodeText(rec.Description)
	if err != nil {
		return nil, errors.Wrap(err, "description")
	}
	note, err := encodeText(rec.Note)
	if err != nil {
		return nil, errors.Wrap(err, "note")
	}

	var flags byte
	if rec.Alarm {
		flags |= flagAlarm
	}
	if rec.RepeatType != model.RepeatNone {
		flags |= flagRepeat
	}
	if len(note) > 0 {
		flags |= flagNote
	}
	if len(rec.Exceptions) > 0 {
		flags |= flagExceptions
	}
	if len(description) > 0 {
		flags |= flagDescription
	}
	buf.Write([]byte{flags, 0})

	if rec.Alarm {
		advance, unit := alarmAdvance(rec.AlarmAdvance)
		buf.Write([]byte{advance, unit})
	}

	if rec.RepeatType != model.RepeatNone {
		end := uint16(foreverDate)
		if !rec.RepeatForever {
			if end, err = packDate(rec.RepeatEnd); err != nil {
				return nil, errors.Wrap(err, "repeat end")
			}
		}
		buf.WriteByte(byte(rec.RepeatType))
		buf.WriteByte(0)
		writeUint16(&buf, end)
		buf.WriteByte(byte(max(1, rec.RepeatInterval)))
		buf.WriteByte(repeatOn(rec))
		buf.WriteByte(byte(rec.RepeatWeekStart))
		buf.WriteByte(0)
	}

	if len(rec.Exceptions) > 0 {
		writeUint16(&buf, uint16(len(rec.Exceptions)))
		for _, ex := range rec.Exceptions {
			d, err := packDate(ex)
			if err != nil {
				return nil, errors.Wrap(err, "exception")
			}
			writeUint16(&buf, d)
		}
	}

	if len(description) > 0 {
		buf.Write(description)
		buf.WriteByte(0)
	}
	if len(note) > 0 {
		buf.Write(note)
		buf.WriteByte(0)
	}
	return buf.Bytes(), nil
}

// packDate encodes a calendar date as ((year-1904)<<9)|(month<<5)|day.
func packDate(t time.Time) (uint16, error) {
	y, m, d := t.Date()
	if y < MinYear || y > MaxYear {
		return 0, errors.Wrapf(ErrDateRange, "%04d-%02d-%02d", y, m, d)
	}
	return uint16(y-MinYear)<<9 | uint16(m)<<5 | uint16(d), nil
}

// UnpackDate is the inverse of the packed date encoding.
func UnpackDate(v uint16) time.Time {
	return time.Date(int(v>>9)+MinYear, time.Month((v>>5)&0x0f), int(v&0x1f), 0, 0, 0, 0, time.UTC)
}

// alarmAdvance expresses minutes in the largest unit that keeps the
// advance within one byte.
func alarmAdvance(minutes int) (byte, byte) {
	switch {
	case minutes <= 0:
		return 0, unitMinutes
	case minutes <= 0xff:
		return byte(minutes), unitMinutes
	case minutes/60 <= 0xff:
		return byte(minutes / 60), unitHours
	default:
		return byte(min(0xff, minutes/(24*60))), unitDays
	}
}

// repeatOn is the weekday bitmask for weekly repeats and the
// Nth-weekday slot for monthly-by-weekday repeats.
func repeatOn(rec model.AppointmentRecord) byte {
	switch rec.RepeatType {
	case model.RepeatWeekly:
		var on byte
		for i, set := range rec.RepeatDays {
			if set {
				on |= 1 << i
			}
		}
		return on
	case model.RepeatMonthlyByDay:
		return byte(rec.RepeatDay)
	}
	return 0
}

func encodeText(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return encoding.ReplaceUnsupported(charmap.Windows1252.NewEncoder()).Bytes([]byte(s))
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}
