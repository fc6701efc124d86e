package cli

import (
	"testing"

	"github.com/alicorn-scan/alicorn/internal/compare"
)

func TestParseScanID(t *testing.T) {
	tests := []struct {
		name    string
		arg     string
		want    int64
		wantErr bool
	}{
		{
			name: "valid id",
			arg:  "42",
			want: 42,
		},
		{
			name: "large id",
			arg:  "9000000000",
			want: 9000000000,
		},
		{
			name:    "zero",
			arg:     "0",
			wantErr: true,
		},
		{
			name:    "negative",
			arg:     "-1",
			wantErr: true,
		},
		{
			name:    "not a number",
			arg:     "abc",
			wantErr: true,
		},
		{
			name:    "empty",
			arg:     "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseScanID(tt.arg)
			if (err != nil) != tt.wantErr {
				t.Errorf("parseScanID() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("parseScanID() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestFormatEpoch(t *testing.T) {
	if got := formatEpoch(0); got != "-" {
		t.Errorf("formatEpoch(0) = %q, want %q", got, "-")
	}
	if got := formatEpoch(1700000000); got != "2023-11-14 22:13:20" {
		t.Errorf("formatEpoch(1700000000) = %q", got)
	}
}

func TestChangeFlags(t *testing.T) {
	tests := []struct {
		name string
		port compare.PortDiff
		want string
	}{
		{
			name: "no changes",
			port: compare.PortDiff{},
			want: "-",
		},
		{
			name: "presence only",
			port: compare.PortDiff{HasChanges: true},
			want: "presence ",
		},
		{
			name: "ttl and banner",
			port: compare.PortDiff{HasTTLChanges: true, HasBannerChanges: true},
			want: "ttl banner",
		},
		{
			name: "everything",
			port: compare.PortDiff{HasChanges: true, HasTTLChanges: true, HasBannerChanges: true},
			want: "presence ttl banner",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := changeFlags(&tt.port); got != tt.want {
				t.Errorf("changeFlags() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestToAnySlice(t *testing.T) {
	got := toAnySlice([]string{"a", "b"})
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("toAnySlice() = %v", got)
	}
	if got := toAnySlice(nil); len(got) != 0 {
		t.Errorf("toAnySlice(nil) = %v, want empty", got)
	}
}
