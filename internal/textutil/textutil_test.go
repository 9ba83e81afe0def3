package textutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrivialBias(t *testing.T) {
	tests := []struct {
		name     string
		expected float64
	}{
		{"Abcd", 0.06},
		{"Abcde fghi", 0.14},
		{"Abcdé fghi", 0.16},
		{"Paris", 0.07},
		{"", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, TrivialBias(tt.name), 1e-9)
		})
	}
}

func TestTrivialBias_MonotonicInLength(t *testing.T) {
	assert.Greater(t, TrivialBias("Springfield Township"), TrivialBias("Springfield"))
}

func TestRoundSig(t *testing.T) {
	assert.Equal(t, 0.123, RoundSig(0.12345, 3))
	assert.Equal(t, 1.23, RoundSig(1.2345, 3))
	assert.Equal(t, 1230.0, RoundSig(1234.5, 3))
}

func TestIsASCII(t *testing.T) {
	assert.True(t, IsASCII("Springfield"))
	assert.True(t, IsASCII(""))
	assert.False(t, IsASCII("Zürich"))
}

func TestIsDigits(t *testing.T) {
	assert.True(t, IsDigits("12345"))
	assert.False(t, IsDigits(""))
	assert.False(t, IsDigits("123a"))
	assert.False(t, IsDigits("12 34"))
}

func TestIsUpper(t *testing.T) {
	assert.True(t, IsUpper("CA"))
	assert.True(t, IsUpper("K1A"))
	assert.False(t, IsUpper("Ca"))
	assert.False(t, IsUpper("123"))
}

func TestIsCode(t *testing.T) {
	tests := []struct {
		in       string
		expected bool
	}{
		{"CA", true},
		{"K1A", true},
		{"ABCDEF", true},
		{"ABCDEFG", false},
		{"Ca", false},
		{"A-B", false},
		{"", false},
		{"ÅR", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, IsCode(tt.in), tt.in)
	}
}

func TestHasCJK(t *testing.T) {
	assert.True(t, HasCJK("北京"))
	assert.True(t, HasCJK("서울"))
	assert.True(t, HasCJK("とうきょう"))
	assert.False(t, HasCJK("Beijing"))
	assert.False(t, HasCJK("القاهرة"))
}

func TestHasArabic(t *testing.T) {
	assert.True(t, HasArabic("القاهرة"))
	assert.True(t, HasArabic("تهران"))
	assert.False(t, HasArabic("Cairo"))
}

func TestReplaceDiacritics(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"Bogotá", "Bogota"},
		{"São Paulo", "Sao Paulo"},
		{"Åre", "Are"},
		{"Kraków", "Krakow"},
		{"Łódź", "Lodz"},
		{"Tromsø", "Tromso"},
		{"Straße", "Strasse"},
		{"N’Djamena", "N'Djamena"},
		{"Springfield", "Springfield"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.expected, ReplaceDiacritics(tt.in))
		})
	}
}

func TestStripQuotes(t *testing.T) {
	assert.Equal(t, "Hague", StripQuotes(`"'Hague'"`))
	assert.Equal(t, "s-Hertogenbosch", StripQuotes("'s-Hertogenbosch"))
	assert.Equal(t, "plain", StripQuotes("plain"))
}
