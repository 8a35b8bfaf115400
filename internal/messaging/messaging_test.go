package messaging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"whatsapp:+6281234567890", "+6281234567890"},
		{"+6281234567890", "+6281234567890"},
		{"6281234567890", "+6281234567890"},
		{"081234567890", "+6281234567890"},
		{"0812-3456-7890", "+6281234567890"},
		{"+62 812 3456 7890", "+6281234567890"},
		{"(0812) 3456.7890", "+6281234567890"},
		{"  whatsapp:+62812 34567890 ", "+6281234567890"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizePhone(tt.raw), "raw %q", tt.raw)
	}
}

// Different spellings of the same number must converge on one identity.
func TestNormalizePhoneIsStable(t *testing.T) {
	variants := []string{
		"whatsapp:+6281234567890",
		"081234567890",
		"0812 3456 7890",
		"+62-812-3456-7890",
	}
	for _, v := range variants {
		assert.Equal(t, "+6281234567890", NormalizePhone(v))
	}
}
