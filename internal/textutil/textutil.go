// Package textutil holds the script, charset and diacritic helpers shared by
// name normalization and bias estimation.
package textutil

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// trivialWeight scales the trivial-bias point total into a name bias.
const trivialWeight = 0.02

// TrivialBias scores how unlikely a name is to collide with ordinary
// vocabulary, using its length, word count and charset:
//
//	Abcd        (4/2 + 1 + 0) x 0.02 = 0.06
//	Abcde fghi  (10/2 + 2 + 0) x 0.02 = 0.14
//	Abcdé fghi  (10/2 + 2 + 1) x 0.02 = 0.16
//
// The result is rounded to three significant digits.
func TrivialBias(name string) float64 {
	points := float64(utf8.RuneCountInString(name))/2 + float64(len(strings.Fields(name)))
	if !IsASCII(name) {
		points++
	}
	return RoundSig(points*trivialWeight, 3)
}

// RoundSig rounds f to n significant digits.
func RoundSig(f float64, n int) float64 {
	r, err := strconv.ParseFloat(strconv.FormatFloat(f, 'g', n, 64), 64)
	if err != nil {
		return f
	}
	return r
}

// IsASCII reports whether s holds only 7-bit characters.
func IsASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// IsDigits reports whether s is non-empty and made only of decimal digits.
func IsDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// IsUpper reports whether s has at least one cased letter and no lowercase ones.
func IsUpper(s string) bool {
	cased := false
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) {
			cased = true
		}
	}
	return cased
}

// IsCode reports whether s looks like an alphanumeric code such as "CA" or
// "K1A": uppercase ASCII letters and digits, at most six characters.
func IsCode(s string) bool {
	if s == "" || len(s) > 6 || !IsUpper(s) {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

// HasCJK reports whether s contains Chinese, Japanese or Korean characters.
func HasCJK(s string) bool {
	for _, r := range s {
		switch {
		case r >= 0x3000 && r <= 0x30ff,
			r >= 0x3400 && r <= 0x4dbf,
			r >= 0x4e00 && r <= 0x9fff,
			r >= 0xac00 && r <= 0xd7af:
			return true
		}
	}
	return false
}

// HasArabic reports whether s contains Arabic-script characters (Arabic, Farsi, Urdu).
func HasArabic(s string) bool {
	for _, r := range s {
		if r >= 0x0600 && r <= 0x08ff {
			return true
		}
	}
	return false
}

var hashmarks = strings.NewReplacer(
	"\"", "'",
	"`", "'",
	"´", "'",
	"‘", "'",
	"’", "'",
)

// folding covers Latin letters that carry no combining mark under NFD.
var folding = strings.NewReplacer(
	"ø", "o", "Ø", "O",
	"æ", "ae", "Æ", "AE",
	"œ", "oe", "Œ", "OE",
	"ß", "ss",
	"đ", "d", "Đ", "D",
	"ð", "d", "Ð", "D",
	"ł", "l", "Ł", "L",
	"ħ", "h", "Ħ", "H",
	"ı", "i",
	"þ", "th", "Þ", "TH",
)

// ReplaceDiacritics returns s with quote-like marks unified to "'" and
// accents removed, e.g. "Bogotá" becomes "Bogota".
func ReplaceDiacritics(s string) string {
	s = folding.Replace(hashmarks.Replace(s))
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// StripQuotes trims surrounding double quotes and then single quotes.
func StripQuotes(s string) string {
	return strings.Trim(strings.Trim(s, `"`), "'")
}
