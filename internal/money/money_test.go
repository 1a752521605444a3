package money

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		in   Cents
		want string
	}{
		{in: 0, want: "$0.00"},
		{in: 5, want: "$0.05"},
		{in: 10000, want: "$100.00"},
		{in: 123456, want: "$1,234.56"},
		{in: 9999900, want: "$99,999.00"},
		{in: 100000000, want: "$1,000,000.00"},
		{in: -2050, want: "-$20.50"},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, tc.in.Format(), "cents=%d", tc.in)
	}
}

func TestFromUnits(t *testing.T) {
	require.Equal(t, Cents(12000), FromUnits(120))
}
