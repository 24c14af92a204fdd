// Package caseid implements structured, checksummed case identifiers in the
// fixed wire format YYYY-CCCCC-NNNN-KK: 4-digit year, 5-digit materia+venue
// code, 4-digit zero-padded sequence and a 2-digit mod-11 check. The format
// must stay bit-exact to interoperate with existing records.
package caseid

import (
	"fmt"
	"regexp"
	"strconv"
)

const (
	// Sentinel codes for materias/venues missing from the code tables.
	UnknownMateria = "99"
	UnknownVenue   = "999"
)

var idRe = regexp.MustCompile(`^(\d{4})-(\d{5})-(\d{4})-(\d{2})$`)

type Identifier struct {
	Year  int
	Code  string // 5 digits: materia(2) + venue(3)
	Seq   int
	Check int
}

func (id Identifier) String() string {
	return fmt.Sprintf("%04d-%s-%04d-%02d", id.Year, id.Code, id.Seq, id.Check)
}

// Codes maps human materia/venue names to their fixed short codes. Unmapped
// names fall back to the unknown sentinels rather than failing.
type Codes struct {
	Materia map[string]string
	Venue   map[string]string
}

func (c Codes) MateriaCode(name string) string {
	if code, ok := c.Materia[name]; ok {
		return code
	}
	return UnknownMateria
}

func (c Codes) VenueCode(name string) string {
	if code, ok := c.Venue[name]; ok {
		return code
	}
	return UnknownVenue
}

// Compose builds the 5-digit identifier code for a materia/venue pair.
func (c Codes) Compose(materia, venue string) string {
	return c.MateriaCode(materia) + c.VenueCode(venue)
}

// Checksum computes the mod-11 check over the concatenated year+code+sequence
// digits with weights cycling 2..7 from the rightmost digit. A remainder of
// 0 or 1 maps to itself; anything else maps to 11-remainder.
func Checksum(year int, code string, seq int) int {
	digits := fmt.Sprintf("%04d%s%04d", year, code, seq)
	weight := 2
	sum := 0
	for i := len(digits) - 1; i >= 0; i-- {
		sum += int(digits[i]-'0') * weight
		weight++
		if weight > 7 {
			weight = 2
		}
	}
	rem := sum % 11
	if rem <= 1 {
		return rem
	}
	return 11 - rem
}

// New builds a checksummed identifier for an allocated sequence number.
func New(year int, code string, seq int) Identifier {
	return Identifier{Year: year, Code: code, Seq: seq, Check: Checksum(year, code, seq)}
}

// Parse splits an identifier string into components. ok is false for any
// string not matching the fixed four-segment, fixed-width format; the check
// digit is not verified here, use Validate for that.
func Parse(s string) (Identifier, bool) {
	m := idRe.FindStringSubmatch(s)
	if m == nil {
		return Identifier{}, false
	}
	year, _ := strconv.Atoi(m[1])
	seq, _ := strconv.Atoi(m[3])
	check, _ := strconv.Atoi(m[4])
	return Identifier{Year: year, Code: m[2], Seq: seq, Check: check}, true
}

// Validate reports whether s parses and its check digit matches the
// recomputed checksum.
func Validate(s string) bool {
	id, ok := Parse(s)
	if !ok {
		return false
	}
	return id.Check == Checksum(id.Year, id.Code, id.Seq)
}
