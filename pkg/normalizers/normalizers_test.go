package normalizers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  Jane@Example.ORG ", "jane@example.org"},
		{"", ""},
		{"none", ""},
		{"a@b", ""},
		{"no-at-sign.org", ""},
		{"12345@678.90", ""},
		{"@domain.org", ""},
		{"jane@", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeEmail(tt.in))
		})
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"(707) 555-1234", "7075551234"},
		{"+1 707.555.1234", "7075551234"},
		{"17075551234", "7075551234"},
		{"27075551234", ""},
		{"555-1234", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePhone(tt.in))
		})
	}
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t, "12 oak ct, santa rosa ca", NormalizeAddress("  12  Oak Ct,\tSanta Rosa  CA "))
	assert.Equal(t, "", NormalizeAddress("   "))
}

func TestNormalizeNameKey(t *testing.T) {
	assert.Equal(t, "jose garcia-lopez", NormalizeNameKey("  José   García-López! "))
	assert.Equal(t, "obrien", NormalizeNameKey("O'Brien"))
	assert.Equal(t, "", NormalizeNameKey("..."))
}

func TestCleanCatName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Whiskers 985112345678901", "Whiskers"},
		{"Unknown (Fluffy)", "Fluffy"},
		{"UNKNOWN", ""},
		{"Unknown (985112345678901)", ""},
		{"985112345678901", ""},
		{"  Tom  ", "Tom"},
		{"Kitten 12345", "Kitten 12345"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanCatName(tt.in))
		})
	}
}

func TestRegistry(t *testing.T) {
	t.Run("apply known normalizer", func(t *testing.T) {
		assert.Equal(t, "7075551234", Apply("(707) 555-1234", "nphone"))
	})

	t.Run("unknown normalizer passes value through", func(t *testing.T) {
		assert.Equal(t, "Value", Apply("Value", "does_not_exist"))
	})

	t.Run("chain", func(t *testing.T) {
		assert.Equal(t, "jane doe", ApplyChain("  JANE   Doe ", "trim", "nname"))
	})

	t.Run("custom registration", func(t *testing.T) {
		Register("shout", func(s string) string { return s + "!" })
		fn, ok := Get("shout")
		assert.True(t, ok)
		assert.Equal(t, "hi!", fn("hi"))
	})
}
