package visitors

import (
	"strings"

	"github.com/pariz/gountries"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// CountryLookup resolves an ISO country code for an address.
type CountryLookup interface {
	Country(address string) string
}

var (
	countryQuery = gountries.New()
	countryCaser = cases.Upper(language.Und)
)

// ResolveCountry picks the country recorded with a visit. An edge-provided
// header (CF-IPCountry) wins; otherwise the GeoIP lookup is used when one is
// configured. Known codes are canonicalized to ISO alpha-2, unknown ones such
// as "XX" or "T1" are kept upper-cased.
func ResolveCountry(header, address string, lookup CountryLookup) string {
	code := strings.TrimSpace(header)
	if code == "" && lookup != nil && address != "" {
		code = lookup.Country(address)
	}
	if code == "" {
		return ""
	}

	code = countryCaser.String(code)
	if country, err := countryQuery.FindCountryByAlpha(code); err == nil && country.Codes.Alpha2 != "" {
		return country.Codes.Alpha2
	}
	return code
}
