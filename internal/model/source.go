package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Source identifies where a place record came from.
type Source string

const (
	SourceISO             Source = "ISO" // ISO-3166 metadata
	SourceNGA             Source = "N"
	SourceNGAFixed        Source = "NF"
	SourceUSGS            Source = "U"
	SourceUSGSFixed       Source = "UF"
	SourceAdhoc           Source = "OA"
	SourceGeonamesDerived Source = "OG"
	SourceGeonames        Source = "G"
	SourceGeonamesPostal  Source = "GP"
	SourceGenerated       Source = "X"
	SourceNaturalEarth    Source = "NE"
)

// BaseSources are the trusted primary gazetteers, highest trust first.
// Dedup walks them in this order so the canonical record for a key is
// always taken from the most trusted source that has it.
var BaseSources = []Source{
	SourceNGA,
	SourceNGAFixed,
	SourceUSGS,
	SourceUSGSFixed,
	SourceISO,
	SourceGeonamesDerived,
	SourceAdhoc,
}

// AdminNameSources are the sources whose ADM1 names define province names.
var AdminNameSources = []Source{SourceUSGS, SourceNGA, SourceGeonames}

// IDBlockSize is the width of the row id range reserved for each source.
const IDBlockSize int64 = 100_000_000

// idBlocks assigns each source its block of row ids. Blocks never change
// once rows are published; new sources take the next free block.
var idBlocks = map[Source]int64{
	SourceGeonamesPostal:  0,
	SourceNGA:             1,
	SourceNGAFixed:        2,
	SourceUSGS:            3,
	SourceUSGSFixed:       4,
	SourceGeonames:        5,
	SourceGeonamesDerived: 6,
	SourceAdhoc:           7,
	SourceNaturalEarth:    8,
	SourceGenerated:       9,
	SourceISO:             10,
}

var allSources = []Source{
	SourceISO, SourceNGA, SourceNGAFixed, SourceUSGS, SourceUSGSFixed,
	SourceAdhoc, SourceGeonamesDerived, SourceGeonames, SourceGeonamesPostal,
	SourceGenerated, SourceNaturalEarth,
}

// sourceAliases maps free-text source labels to codes.
var sourceAliases = map[string]Source{
	"NGA":            SourceNGA,
	"USGS":           SourceUSGS,
	"USGS-AUTOFIXED": SourceUSGSFixed,
	"NGA-AUTOFIXED":  SourceNGAFixed,
	"ADHOC":          SourceAdhoc,
	"NE":             SourceNaturalEarth,
	"GEONAMES":       SourceGeonamesDerived,
	"GEONAMES.ORG":   SourceGeonamesDerived,
	"XPONENTS":       SourceGenerated,
	"XPGEN":          SourceGenerated,
	"XP":             SourceGenerated,
	"GP":             SourceGeonamesPostal,
	"G":              SourceGeonames,
}

// AllSources returns every known source code.
func AllSources() []Source {
	out := make([]Source, len(allSources))
	copy(out, allSources)
	return out
}

// ParseSource resolves a source code or label. Unknown labels are an error.
func ParseSource(label string) (Source, error) {
	s := strings.TrimSpace(label)
	if Source(s).Valid() {
		return Source(s), nil
	}
	if src, ok := sourceAliases[strings.ToUpper(s)]; ok {
		return src, nil
	}
	return "", eris.Errorf("model: unknown source %q", label)
}

// Valid reports whether s is a known source code.
func (s Source) Valid() bool {
	for _, known := range allSources {
		if s == known {
			return true
		}
	}
	return false
}

// IsBase reports whether s is one of the trusted base sources.
func (s Source) IsBase() bool {
	return s.Rank() < len(BaseSources)
}

// Rank is the position of s in BaseSources. Non-base sources rank after
// all base sources.
func (s Source) Rank() int {
	for i, b := range BaseSources {
		if s == b {
			return i
		}
	}
	return len(BaseSources)
}

// IDBase is the id just below the block of s; its rows use IDBase()+1
// through IDBase()+IDBlockSize. Unknown sources return -1.
func (s Source) IDBase() int64 {
	b, ok := idBlocks[s]
	if !ok {
		return -1
	}
	return b * IDBlockSize
}

// IDRange returns the inclusive row id range reserved for s.
func (s Source) IDRange() (first, last int64, ok bool) {
	base := s.IDBase()
	if base < 0 {
		return 0, 0, false
	}
	return base + 1, base + IDBlockSize, true
}

// OwnsID reports whether id lies in the block reserved for s.
func (s Source) OwnsID(id int64) bool {
	first, last, ok := s.IDRange()
	return ok && id >= first && id <= last
}
