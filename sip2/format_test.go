package sip2

import (
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"
)

func withFixedClock(t *testing.T, ts time.Time) {
	t.Helper()
	prev := timeNow
	timeNow = func() time.Time { return ts }
	t.Cleanup(func() { timeNow = prev })
}

var fixedClock = time.Date(2024, 3, 15, 9, 30, 45, 0, time.UTC)

const fixedStamp = "20240315    093045"

func TestTimestampLayout(t *testing.T) {
	got := Timestamp(fixedClock)
	if got != fixedStamp {
		t.Errorf("Timestamp = %q, want %q", got, fixedStamp)
	}
	if len(got) != 18 {
		t.Errorf("timestamp length = %d, want 18", len(got))
	}
}

func TestTimestampAlwaysUTC(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	local := time.Date(2024, 3, 15, 4, 30, 45, 0, est)
	if got := Timestamp(local); got != fixedStamp {
		t.Errorf("Timestamp from zoned time = %q, want %q", got, fixedStamp)
	}
}

// Every builder must produce a frame the verifier accepts, with values
// sanitized and exactly one trailer.
func TestBuildersVerify(t *testing.T) {
	withFixedClock(t, fixedClock)

	dirty := "VAL|UE\rwith\njunk"
	builders := map[string]func(seq int) (string, error){
		"login": func(seq int) (string, error) {
			return BuildLogin("user", "pass"+dirty, "LOC", seq)
		},
		"patronStatus": func(seq int) (string, error) {
			return BuildPatronStatus("MAIN", dirty, "", seq)
		},
		"checkout": func(seq int) (string, error) {
			return BuildCheckout("MAIN", "P1", "I1", "1234", seq)
		},
		"checkin": func(seq int) (string, error) {
			return BuildCheckin("MAIN", dirty, seq)
		},
		"itemInformation": func(seq int) (string, error) {
			return BuildItemInformation("MAIN", "I1", seq)
		},
		"renew": func(seq int) (string, error) {
			return BuildRenew("MAIN", "P1", "I1", "", seq)
		},
		"feePaid": func(seq int) (string, error) {
			return BuildFeePaid("MAIN", "P1", "FEE9", "5.00", "", "", "EUR", seq)
		},
		"patronInformation": func(seq int) (string, error) {
			return BuildPatronInformation("MAIN", "P1", "", PatronSummary{Holds: true}, 1, 10, seq)
		},
		"hold": func(seq int) (string, error) {
			return BuildHold("MAIN", "P1", HoldModeAdd, "I1", "20240601", "WEST", "T9", seq)
		},
		"renewAll": func(seq int) (string, error) {
			return BuildRenewAll("MAIN", "P1", seq)
		},
		"endSession": func(seq int) (string, error) {
			return BuildEndSession("MAIN", "P1", seq)
		},
		"scStatus":   BuildSCStatus,
		"blockPatron": func(seq int) (string, error) {
			return BuildBlockPatron("MAIN", "P1", true, "card kept", seq)
		},
		"itemStatusUpdate": func(seq int) (string, error) {
			return BuildItemStatusUpdate("MAIN", "I1", '2', seq)
		},
		"patronEnable": func(seq int) (string, error) {
			return BuildPatronEnable("MAIN", "P1", "9999", seq)
		},
	}

	for name, build := range builders {
		for _, seq := range []int{0, 3, 9} {
			frame, err := build(seq)
			if err != nil {
				t.Fatalf("%s seq %d: %v", name, seq, err)
			}
			ok, err := VerifyTrailer(frame)
			if err != nil || !ok {
				t.Errorf("%s seq %d: VerifyTrailer = (%v, %v)", name, seq, ok, err)
			}
			if strings.Count(frame, "AZ") != 1 {
				t.Errorf("%s: expected exactly one AZ trailer: %q", name, frame)
			}
			if got := extractSeq(frame); got != seq {
				t.Errorf("%s: trailer sequence = %d, want %d", name, got, seq)
			}
			body := frame[:len(frame)-10]
			if strings.ContainsAny(body, "\r\n") {
				t.Errorf("%s: framing bytes leaked into values: %q", name, body)
			}
		}
	}
}

func TestBuildLoginLayout(t *testing.T) {
	withFixedClock(t, fixedClock)
	frame, err := BuildLogin("circ", "s3cret", "MAINLIB", 0)
	if err != nil {
		t.Fatal(err)
	}
	want := "9300CNcirc|COs3cret|CPMAINLIB|AY0AZ"
	if !strings.HasPrefix(frame, want) {
		t.Errorf("login frame = %q, want prefix %q", frame, want)
	}
}

func TestBuildCheckoutLayout(t *testing.T) {
	withFixedClock(t, fixedClock)
	frame, err := BuildCheckout("MAIN", "P1", "I1", "", 2)
	if err != nil {
		t.Fatal(err)
	}
	wantPrefix := "11YN" + fixedStamp + strings.Repeat(" ", 18) + "AOMAIN|AAP1|ABI1|AC|"
	if !strings.HasPrefix(frame, wantPrefix) {
		t.Errorf("checkout frame = %q, want prefix %q", frame, wantPrefix)
	}
	if strings.Contains(frame, "AD") {
		t.Error("checkout without PIN must omit AD")
	}
}

func TestBuildCheckinMirrorsTimestamp(t *testing.T) {
	withFixedClock(t, fixedClock)
	frame, err := BuildCheckin("MAIN", "I1", 1)
	if err != nil {
		t.Fatal(err)
	}
	wantPrefix := "09N" + fixedStamp + fixedStamp + "AOMAIN|ABI1|AC|"
	if !strings.HasPrefix(frame, wantPrefix) {
		t.Errorf("checkin frame = %q, want prefix %q", frame, wantPrefix)
	}
}

func TestBuildFeePaidCurrencyPadding(t *testing.T) {
	withFixedClock(t, fixedClock)
	frame, err := BuildFeePaid("MAIN", "P1", "F1", "2.50", "04", "02", "SE", 5)
	if err != nil {
		t.Fatal(err)
	}
	wantPrefix := "37" + fixedStamp + "0402SE " + "AOMAIN|AAP1|BKF1|BV2.50|BHSE|"
	if !strings.HasPrefix(frame, wantPrefix) {
		t.Errorf("fee paid frame = %q, want prefix %q", frame, wantPrefix)
	}
}

func TestBuildPatronInformationSummary(t *testing.T) {
	withFixedClock(t, fixedClock)
	frame, err := BuildPatronInformation("MAIN", "P1", "", PatronSummary{Overdue: true}, 0, 0, 4)
	if err != nil {
		t.Fatal(err)
	}
	wantPrefix := "63001" + fixedStamp + " Y        " + "AOMAIN|AAP1|BP0001|BQ9999|"
	if !strings.HasPrefix(frame, wantPrefix) {
		t.Errorf("patron info frame = %q, want prefix %q", frame, wantPrefix)
	}
}

func TestBuildHoldFieldOrder(t *testing.T) {
	withFixedClock(t, fixedClock)
	frame, err := BuildHold("MAIN", "P1", HoldModeChange, "I1", "20240601", "WEST", "T9", 6)
	if err != nil {
		t.Fatal(err)
	}
	wantPrefix := "15*" + fixedStamp + "BW20240601|AOMAIN|AAP1|ABI1|BTT9|BSWEST|AC|"
	if !strings.HasPrefix(frame, wantPrefix) {
		t.Errorf("hold frame = %q, want prefix %q", frame, wantPrefix)
	}

	if _, err := BuildHold("MAIN", "P1", 'x', "", "", "", "", 0); err == nil {
		t.Error("invalid hold mode accepted")
	}
}

func TestBuildSCStatusLayout(t *testing.T) {
	frame, err := BuildSCStatus(7)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(frame, "9900802.00AY7AZ") {
		t.Errorf("sc status frame = %q", frame)
	}
}

func TestBuildItemStatusUpdateMarker(t *testing.T) {
	withFixedClock(t, fixedClock)
	frame, err := BuildItemStatusUpdate("MAIN", "I1", 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(frame, "190"+fixedStamp) {
		t.Errorf("default marker frame = %q", frame)
	}
	if _, err := BuildItemStatusUpdate("MAIN", "I1", '7', 1); err == nil {
		t.Error("marker outside 0-3 accepted")
	}
}

func TestBuildersRejectBadSequence(t *testing.T) {
	if _, err := BuildSCStatus(10); !errors.Is(err, ErrInvalidSequence) {
		t.Errorf("err = %v, want ErrInvalidSequence", err)
	}
}

var tsRe = regexp.MustCompile(`^\d{8} {4}\d{6}$`)

func TestNowStampShape(t *testing.T) {
	if s := nowStamp(); !tsRe.MatchString(s) {
		t.Errorf("nowStamp = %q does not match SIP2 timestamp layout", s)
	}
}
