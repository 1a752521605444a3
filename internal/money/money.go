// Package money formats minor-unit amounts for receipts and screens.
package money

import (
	"strconv"
	"strings"
)

// Cents is an amount in minor currency units.
type Cents int64

// FromUnits converts whole major units to Cents.
func FromUnits(units int64) Cents {
	return Cents(units * 100)
}

// Format renders c as "$1,234.56".
func (c Cents) Format() string {
	negative := c < 0
	if negative {
		c = -c
	}
	whole := int64(c) / 100
	frac := int64(c) % 100

	var b strings.Builder
	if negative {
		b.WriteByte('-')
	}
	b.WriteByte('$')
	b.WriteString(groupThousands(whole))
	b.WriteByte('.')
	if frac < 10 {
		b.WriteByte('0')
	}
	b.WriteString(strconv.FormatInt(frac, 10))
	return b.String()
}

func groupThousands(n int64) string {
	str := strconv.FormatInt(n, 10)
	if len(str) <= 3 {
		return str
	}

	var b strings.Builder
	head := len(str) % 3
	if head == 0 {
		head = 3
	}
	b.WriteString(str[:head])
	for i := head; i < len(str); i += 3 {
		b.WriteByte(',')
		b.WriteString(str[i : i+3])
	}
	return b.String()
}
