package core

import (
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestParseEther(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected uint64
		wantErr  bool
	}{
		{"whole ether", "1", 1_000_000_000_000_000_000, false},
		{"fraction", "0.05", 50_000_000_000_000_000, false},
		{"one wei", "0.000000000000000001", 1, false},
		{"zero", "0", 0, false},
		{"max range", "18.446744073709551615", 18_446_744_073_709_551_615, false},
		{"above 64-bit range", "18.446744073709551616", 0, true},
		{"sub-wei precision", "0.0000000000000000001", 0, true},
		{"negative", "-1", 0, true},
		{"garbage", "ten", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wei, err := ParseEther(tt.input)
			if tt.wantErr {
				check.Error(t, err)
				return
			}
			assert.NoError(t, err)
			check.Equal(t, tt.expected, wei)
		})
	}
}

func TestFormatEther(t *testing.T) {
	check.Equal(t, "1", FormatEther(1_000_000_000_000_000_000))
	check.Equal(t, "0.05", FormatEther(50_000_000_000_000_000))
	check.Equal(t, "0", FormatEther(0))
	check.Equal(t, "0.000000000000000001", FormatEther(1))
}

func TestMeetsFloor(t *testing.T) {
	check.True(t, MeetsFloor(15, 10))
	check.True(t, MeetsFloor(10, 10))
	check.False(t, MeetsFloor(9, 10))
	check.True(t, MeetsFloor(0, 0))
}
