package chiller

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Wire framing constants for the ThermoTek ASCII protocol.
//
// Commands are [SOC][DeviceID][Command Number][CMD text][CMD data][Checksum][CR];
// replies are [SOR][DeviceID][Command Number][Error][CMD text][CMD data][Checksum][CR].
const (
	// StartOfCommand is the first byte of every outbound frame.
	StartOfCommand = '.'

	// StartOfReply is the first byte of every inbound frame.
	StartOfReply = '#'

	// FrameTerminator ends every frame.
	FrameTerminator = '\r'

	// MinCommandLen and MaxCommandLen bound the command body:
	// 2-digit command ID + 8-char mnemonic + 0-8 chars of data.
	MinCommandLen = 10
	MaxCommandLen = 18

	// MinReplyLen is the shortest checksum-stripped reply:
	// SOR + device ID + command ID + error digit + mnemonic.
	MinReplyLen = 14
)

// Wire errors.
var (
	// ErrCommandLength indicates a command body outside [10, 18] chars.
	ErrCommandLength = errors.New("command length out of range")

	// ErrBadReplyStart indicates a reply that does not begin with '#'.
	ErrBadReplyStart = errors.New("reply does not begin with start-of-reply (#)")

	// ErrReplyTooShort indicates a reply shorter than the fixed header.
	ErrReplyTooShort = errors.New("reply too short")

	// ErrValueOutOfRange indicates a value that cannot be formatted in
	// the fixed field width.
	ErrValueOutOfRange = errors.New("value out of range")

	// ErrNegativeUnsigned indicates a negative value for an unsigned field.
	ErrNegativeUnsigned = errors.New("negative value for unsigned field")
)

// Checksum computes the 2-character checksum of s: the sum of all byte
// values, hex-formatted with a 0x prefix, last two characters. For any
// realistic frame this is the low byte in lowercase hex; the firmware
// depends on this exact truncation, so it is not normalized to a
// masked byte.
func Checksum(s string) string {
	var total uint64
	for i := 0; i < len(s); i++ {
		total += uint64(s[i])
	}
	hexed := fmt.Sprintf("0x%x", total)
	return hexed[len(hexed)-2:]
}

// VerifyChecksum reports whether a full frame (ending in checksum and
// CR) carries the checksum of everything before it. The comparison is
// case-insensitive; some chiller firmware revisions reply in uppercase.
func VerifyChecksum(frame string) bool {
	if len(frame) < 4 || frame[len(frame)-1] != FrameTerminator {
		return false
	}
	want := Checksum(frame[:len(frame)-3])
	got := frame[len(frame)-3 : len(frame)-1]
	return strings.EqualFold(want, got)
}

// FrameCommand formats a full outbound frame ".{deviceID}{body}{checksum}\r",
// where body is the command ID, mnemonic and optional data.
func FrameCommand(deviceID, body string) (string, error) {
	if len(body) < MinCommandLen || len(body) > MaxCommandLen {
		return "", fmt.Errorf("%w: body %q is %d chars, must be in [%d, %d]",
			ErrCommandLength, body, len(body), MinCommandLen, MaxCommandLen)
	}
	start := string(StartOfCommand) + deviceID + body
	return start + Checksum(start) + string(FrameTerminator), nil
}

// Reply is a parsed inbound frame, without checksum and terminator.
type Reply struct {
	DeviceID   string
	CommandID  CommandID
	ErrorDigit byte
	Mnemonic   string
	Data       string
}

// ParseReply parses a checksum-stripped reply:
// "#{deviceID:2}{commandID:2}{errorDigit:1}{mnemonic:8}{data}".
func ParseReply(reply string) (Reply, error) {
	if len(reply) == 0 || reply[0] != StartOfReply {
		return Reply{}, fmt.Errorf("%w: %q", ErrBadReplyStart, reply)
	}
	if len(reply) < MinReplyLen {
		return Reply{}, fmt.Errorf("%w: %q is %d chars, need at least %d",
			ErrReplyTooShort, reply, len(reply), MinReplyLen)
	}
	return Reply{
		DeviceID:   reply[1:3],
		CommandID:  CommandID(reply[3:5]),
		ErrorDigit: reply[5],
		Mnemonic:   reply[6:14],
		Data:       reply[14:],
	}, nil
}

// FormatValue formats a value as the fixed-width string a chiller
// command expects: {sign}{zero-padded digits} where the digits are
// value*scale rounded to the nearest integer (ties to even, matching
// the reference encoder).
//
// Scale is 10 for temperatures (C) and flow (l/min), 1000 for TEC
// currents (A), 1 for integer fields. If signed is false, negative
// values are rejected and no sign character is emitted.
func FormatValue(value, scale float64, nchar int, signed bool) (string, error) {
	if !signed && value < 0 {
		return "", fmt.Errorf("%w: value=%v", ErrNegativeUnsigned, value)
	}
	scaled := int64(math.RoundToEven(value * scale))

	var formatted string
	if signed {
		formatted = fmt.Sprintf("%+0*d", nchar, scaled)
	} else {
		formatted = fmt.Sprintf("%0*d", nchar, scaled)
	}
	if len(formatted) > nchar {
		return "", fmt.Errorf("%w: value=%v does not fit in %d chars with scale=%v",
			ErrValueOutOfRange, value, nchar, scale)
	}
	return formatted, nil
}

// ParseMask parses a hex-encoded alarm or warning bitmask. The chiller
// transmits the nibbles in reverse reading order, so the string is
// reversed before being parsed as a hex integer.
func ParseMask(data string) (uint64, error) {
	reversed := reverseString(data)
	mask, err := strconv.ParseUint(reversed, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("cannot parse mask %q: %w", data, err)
	}
	return mask, nil
}

// FormatMask formats a bitmask the way the chiller transmits it:
// fixed-width uppercase hex, nibbles reversed.
func FormatMask(value uint64, ndig int) string {
	return reverseString(fmt.Sprintf("%0*X", ndig, value))
}

func reverseString(s string) string {
	b := []byte(s)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}
