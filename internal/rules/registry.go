/**
 * @description
 * Closed registries consumed by the validation rule set: mobile money networks,
 * bank account-number formats, and recognized card brands. These are swappable
 * rule tables rather than hard-coded checks, so registry revisions ship as data.
 *
 * @notes
 * - The bank registry is versioned; validators must reject unknown bank codes
 *   outright instead of silently passing them through.
 * - Default data targets the Ghanaian rails the platform settles on (GHS).
 */

package rules

import "regexp"

// NetworkRegistry maps a mobile money network key to its subscriber numbering pattern.
type NetworkRegistry map[string]*regexp.Regexp

// DefaultNetworkRegistry returns the supported mobile money networks and the
// local prefixes each network issues.
func DefaultNetworkRegistry() NetworkRegistry {
	return NetworkRegistry{
		"mtn":        regexp.MustCompile(`^0(24|25|53|54|55|59)\d{7}$`),
		"vodafone":   regexp.MustCompile(`^0(20|50)\d{7}$`),
		"airteltigo": regexp.MustCompile(`^0(26|27|56|57)\d{7}$`),
	}
}

// BankRegistry is a closed, versioned list of bank codes and the account-number
// pattern each bank issues.
type BankRegistry struct {
	Version string
	banks   map[string]*regexp.Regexp
}

// NewBankRegistry builds a registry from a code -> pattern table.
func NewBankRegistry(version string, banks map[string]*regexp.Regexp) *BankRegistry {
	return &BankRegistry{Version: version, banks: banks}
}

// Lookup returns the account-number pattern for a bank code.
func (r *BankRegistry) Lookup(code string) (*regexp.Regexp, bool) {
	pattern, ok := r.banks[code]
	return pattern, ok
}

// Codes returns every registered bank code.
func (r *BankRegistry) Codes() []string {
	codes := make([]string, 0, len(r.banks))
	for code := range r.banks {
		codes = append(codes, code)
	}
	return codes
}

// DefaultBankRegistry returns the current bank registry snapshot.
func DefaultBankRegistry() *BankRegistry {
	return NewBankRegistry("2025-07", map[string]*regexp.Regexp{
		"GCB": regexp.MustCompile(`^\d{13}$`),   // GCB Bank
		"ECO": regexp.MustCompile(`^\d{13}$`),   // Ecobank Ghana
		"SCB": regexp.MustCompile(`^\d{13}$`),   // Standard Chartered
		"ABS": regexp.MustCompile(`^\d{10}$`),   // Absa Ghana
		"CAL": regexp.MustCompile(`^\d{10,16}$`), // CalBank
		"FID": regexp.MustCompile(`^\d{10,13}$`), // Fidelity Bank
		"ZEN": regexp.MustCompile(`^\d{10}$`),   // Zenith Bank Ghana
		"SG":  regexp.MustCompile(`^\d{12,13}$`), // Societe Generale Ghana
	})
}

// CardBrand pairs a brand name with its PAN prefix/length pattern.
type CardBrand struct {
	Name    string
	Pattern *regexp.Regexp
}

// DefaultCardBrands returns the recognized card brand patterns. A PAN must match
// at least one brand to pass validation.
func DefaultCardBrands() []CardBrand {
	return []CardBrand{
		{Name: "visa", Pattern: regexp.MustCompile(`^4\d{12}(\d{3})?(\d{3})?$`)},
		{Name: "mastercard", Pattern: regexp.MustCompile(`^(5[1-5]\d{14}|2(2[2-9]\d{12}|[3-6]\d{13}|7[01]\d{12}|720\d{12}))$`)},
		{Name: "verve", Pattern: regexp.MustCompile(`^(506[01]|507[89]|6500)\d{12,15}$`)},
	}
}
