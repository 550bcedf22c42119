package chiller

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func TestChecksum(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{".0101WatchDog", "01"},
		{".0117sCtrlTmp-0200", "1f"},
		{"#01010WatchDog3100", "ea"},
		{".0118rAlrmLv1", "e9"},
		{"#01180rAlrmLv1100000", "2f"},
		{"a", "61"},
		// The truncation keeps the "x" of the hex prefix for sums
		// below 0x10; the firmware does the same.
		{"", "x0"},
	}
	for _, tt := range tests {
		if got := Checksum(tt.in); got != tt.want {
			t.Errorf("Checksum(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestVerifyChecksum(t *testing.T) {
	frame, err := FrameCommand("01", "01WatchDog")
	if err != nil {
		t.Fatalf("FrameCommand: %v", err)
	}
	if !VerifyChecksum(frame) {
		t.Errorf("VerifyChecksum(%q) = false, want true", frame)
	}
	// Uppercase checksums from older firmware revisions must verify.
	upper := frame[:len(frame)-3] + strings.ToUpper(frame[len(frame)-3:])
	if !VerifyChecksum(upper) {
		t.Errorf("VerifyChecksum(%q) = false, want true", upper)
	}
	corrupted := frame[:len(frame)-3] + "ff\r"
	if VerifyChecksum(corrupted) {
		t.Errorf("VerifyChecksum(%q) = true, want false", corrupted)
	}
	if VerifyChecksum("") || VerifyChecksum("ab\r") {
		t.Error("VerifyChecksum accepted a frame shorter than checksum+CR")
	}
}

func TestFrameCommand(t *testing.T) {
	frame, err := FrameCommand("01", "01WatchDog")
	if err != nil {
		t.Fatalf("FrameCommand: %v", err)
	}
	if frame != ".0101WatchDog01\r" {
		t.Errorf("frame = %q, want %q", frame, ".0101WatchDog01\r")
	}
}

func TestFrameCommandLength(t *testing.T) {
	tests := []struct {
		bodyLen int
		wantErr bool
	}{
		{9, true},
		{10, false},
		{18, false},
		{19, true},
	}
	for _, tt := range tests {
		body := strings.Repeat("x", tt.bodyLen)
		_, err := FrameCommand("01", body)
		if tt.wantErr {
			if !errors.Is(err, ErrCommandLength) {
				t.Errorf("FrameCommand with %d-char body: err = %v, want ErrCommandLength",
					tt.bodyLen, err)
			}
		} else if err != nil {
			t.Errorf("FrameCommand with %d-char body: unexpected error %v", tt.bodyLen, err)
		}
	}
}

func TestParseReply(t *testing.T) {
	reply, err := ParseReply("#01010WatchDog3100")
	if err != nil {
		t.Fatalf("ParseReply: %v", err)
	}
	if reply.DeviceID != "01" {
		t.Errorf("DeviceID = %q, want %q", reply.DeviceID, "01")
	}
	if reply.CommandID != CmdWatchdog {
		t.Errorf("CommandID = %q, want %q", reply.CommandID, CmdWatchdog)
	}
	if reply.ErrorDigit != '0' {
		t.Errorf("ErrorDigit = %c, want 0", reply.ErrorDigit)
	}
	if reply.Mnemonic != "WatchDog" {
		t.Errorf("Mnemonic = %q, want %q", reply.Mnemonic, "WatchDog")
	}
	if reply.Data != "3100" {
		t.Errorf("Data = %q, want %q", reply.Data, "3100")
	}
}

func TestParseReplyErrors(t *testing.T) {
	if _, err := ParseReply(".0101WatchDog"); !errors.Is(err, ErrBadReplyStart) {
		t.Errorf("err = %v, want ErrBadReplyStart", err)
	}
	if _, err := ParseReply("#0101WatchD"); !errors.Is(err, ErrReplyTooShort) {
		t.Errorf("err = %v, want ErrReplyTooShort", err)
	}
	if _, err := ParseReply(""); !errors.Is(err, ErrBadReplyStart) {
		t.Errorf("err = %v, want ErrBadReplyStart", err)
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		value  float64
		scale  float64
		nchar  int
		signed bool
		want   string
	}{
		{1.29, 10, 5, true, "+0013"},
		{-20, 10, 5, true, "-0200"},
		{0.5, 10, 5, true, "+0005"},
		{1.123, 1000, 5, true, "+1123"},
		{-2.234, 1000, 5, true, "-2234"},
		{67, 1, 3, false, "067"},
		{456, 1, 6, false, "000456"},
		{11, 1, 4, false, "0011"},
		{0, 10, 5, true, "+0000"},
	}
	for _, tt := range tests {
		got, err := FormatValue(tt.value, tt.scale, tt.nchar, tt.signed)
		if err != nil {
			t.Errorf("FormatValue(%v, %v, %d, %v): %v",
				tt.value, tt.scale, tt.nchar, tt.signed, err)
			continue
		}
		if got != tt.want {
			t.Errorf("FormatValue(%v, %v, %d, %v) = %q, want %q",
				tt.value, tt.scale, tt.nchar, tt.signed, got, tt.want)
		}
	}
}

func TestFormatValueErrors(t *testing.T) {
	if _, err := FormatValue(-1, 10, 4, false); !errors.Is(err, ErrNegativeUnsigned) {
		t.Errorf("err = %v, want ErrNegativeUnsigned", err)
	}
	if _, err := FormatValue(1000, 10, 5, true); !errors.Is(err, ErrValueOutOfRange) {
		t.Errorf("err = %v, want ErrValueOutOfRange", err)
	}
}

func TestMaskRoundTrip(t *testing.T) {
	// value=0x12 with 4 digits is transmitted as "2100".
	if got := FormatMask(0x12, 4); got != "2100" {
		t.Errorf("FormatMask(0x12, 4) = %q, want %q", got, "2100")
	}
	mask, err := ParseMask("2100")
	if err != nil {
		t.Fatalf("ParseMask: %v", err)
	}
	if mask != 0x12 {
		t.Errorf("ParseMask(%q) = %#x, want 0x12", "2100", mask)
	}

	for _, value := range []uint64{0, 1, 0x10, 0xABCDEF, 0x00F00001} {
		got, err := ParseMask(FormatMask(value, 8))
		if err != nil {
			t.Fatalf("ParseMask(FormatMask(%#x, 8)): %v", value, err)
		}
		if got != value {
			t.Errorf("round trip of %#x = %#x", value, got)
		}
	}
}

func TestParseScaled(t *testing.T) {
	tests := []struct {
		data  string
		scale float64
		want  float64
	}{
		{"+0013", 10, 1.3},
		{"-0200", 10, -20},
		{"+1123", 1000, 1.123},
		{"-2234", 1000, -2.234},
	}
	for _, tt := range tests {
		got, err := parseScaled(tt.data, tt.scale)
		if err != nil {
			t.Fatalf("parseScaled(%q, %v): %v", tt.data, tt.scale, err)
		}
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("parseScaled(%q, %v) = %v, want %v", tt.data, tt.scale, got, tt.want)
		}
	}
	if _, err := parseScaled("12.5", 10); err == nil {
		t.Error("parseScaled accepted non-integer data")
	}
}
