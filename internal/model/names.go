package model

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/geotag/gazetteer/internal/textutil"
)

// HASC returns the hierarchical admin path "CC.ADM1" or "CC.ADM1.ADM2".
// A missing ADM1 is written as "0".
func HASC(cc, adm1, adm2 string) string {
	if adm1 == "" {
		adm1 = "0"
	}
	if adm2 != "" {
		return cc + "." + adm1 + "." + adm2
	}
	return cc + "." + adm1
}

// ParseAdminCode normalizes an ADM1 code. "CC.XX" yields "XX"; unknown or
// country-level codes ("?", "", "00") yield "0".
func ParseAdminCode(adm1 string) string {
	if adm1 == "" {
		return ""
	}
	code := adm1
	if strings.Contains(adm1, "?") {
		code = "0"
	} else if _, after, ok := strings.Cut(adm1, "."); ok {
		code = after
	}
	switch strings.TrimSpace(code) {
	case "", "0", "00":
		code = "0"
	}
	return code
}

var nameCleaner = strings.NewReplacer("\u2019", "'", "\u00a0", " ")

// NormalizeName unifies apostrophes and non-breaking spaces, then trims
// whitespace and surrounding single quotes.
func NormalizeName(name string) string {
	return strings.Trim(strings.TrimSpace(nameCleaner.Replace(name)), "'")
}

// NameGroupFor detects the script family of a name.
func NameGroupFor(name string) NameGroup {
	switch {
	case textutil.HasCJK(name):
		return NameGroupCJK
	case textutil.HasArabic(name):
		return NameGroupArabic
	}
	return NameGroupGeneral
}

// Capitalize upper-cases the first letter of a name.
func Capitalize(name string) string {
	r, size := utf8.DecodeRuneInString(name)
	if r == utf8.RuneError || unicode.IsUpper(r) || !unicode.IsLower(r) {
		return name
	}
	return string(unicode.ToUpper(r)) + name[size:]
}
