package schema

import (
	"testing"

	"github.com/campusgo/fleetrelay/errs"
)

func TestParseChannelID(t *testing.T) {
	cases := []struct {
		raw  string
		want ChannelID
		ok   bool
	}{
		{"bus:42", ChannelID{Kind: ChannelBus, ID: "42"}, true},
		{"user:u7", ChannelID{Kind: ChannelUser, ID: "u7"}, true},
		{"bus:", ChannelID{}, false},
		{"fleet:42", ChannelID{}, false},
		{"42", ChannelID{}, false},
		{"", ChannelID{}, false},
	}
	for _, tc := range cases {
		got, err := ParseChannelID(tc.raw)
		if tc.ok {
			if err != nil {
				t.Fatalf("ParseChannelID(%q) error: %v", tc.raw, err)
			}
			if got != tc.want {
				t.Fatalf("ParseChannelID(%q) = %+v, want %+v", tc.raw, got, tc.want)
			}
			continue
		}
		if err == nil {
			t.Fatalf("ParseChannelID(%q) expected error", tc.raw)
		}
		if !errs.IsCode(err, errs.CodeInvalid) {
			t.Fatalf("ParseChannelID(%q) code = %v", tc.raw, errs.CodeOf(err))
		}
	}
}

func TestChannelRoundTrip(t *testing.T) {
	channel := BusChannel("42")
	parsed, err := ParseChannelID(channel.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != channel {
		t.Fatalf("round trip = %+v, want %+v", parsed, channel)
	}
}

func TestValidateEntityID(t *testing.T) {
	if err := ValidateEntityID("bus-17"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, bad := range []string{"", "a:b", "has space", "tab\tid"} {
		if err := ValidateEntityID(bad); err == nil {
			t.Fatalf("ValidateEntityID(%q) expected error", bad)
		}
	}
}
