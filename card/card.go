// Package card provides stateless card-number helpers: Luhn validation,
// brand detection from BIN prefixes, issuer lookup and masking. Full
// card numbers never leave this package in persisted form — only masked
// output is stored.
package card

import (
	"strconv"
	"strings"
)

// Brand is a card scheme detected from the number's leading digits.
type Brand string

const (
	BrandVisa       Brand = "visa"
	BrandMastercard Brand = "mastercard"
	BrandAmex       Brand = "amex"
	BrandTroy       Brand = "troy"
	BrandDiscover   Brand = "discover"
	BrandJCB        Brand = "jcb"
	BrandUnknown    Brand = "unknown"
)

// Normalize strips spaces and dashes from a card number.
func Normalize(number string) string {
	replacer := strings.NewReplacer(" ", "", "-", "")
	return replacer.Replace(number)
}

// LuhnValid reports whether the number passes the Luhn checksum.
// Non-digit separators are stripped first; any other non-digit character
// fails validation.
func LuhnValid(number string) bool {
	number = Normalize(number)
	if number == "" {
		return false
	}

	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		ch := number[i]
		if ch < '0' || ch > '9' {
			return false
		}
		digit := int(ch - '0')
		if double {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}
		sum += digit
		double = !double
	}
	return sum%10 == 0
}

// DetectBrand identifies the card scheme from BIN prefix rules.
func DetectBrand(number string) Brand {
	number = Normalize(number)

	if strings.HasPrefix(number, "4") {
		return BrandVisa
	}
	if len(number) >= 2 {
		two := number[:2]
		if two == "51" || two == "52" || two == "53" || two == "54" || two == "55" {
			return BrandMastercard
		}
		if two == "34" || two == "37" {
			return BrandAmex
		}
	}
	if len(number) >= 6 {
		if six, err := strconv.Atoi(number[:6]); err == nil && six >= 222100 && six <= 272099 {
			return BrandMastercard
		}
	}
	if len(number) >= 4 {
		four := number[:4]
		if four == "9792" || four == "9793" {
			return BrandTroy
		}
		if four == "6011" {
			return BrandDiscover
		}
		if n, err := strconv.Atoi(four); err == nil && n >= 3528 && n <= 3589 {
			return BrandJCB
		}
	}
	return BrandUnknown
}

// issuerBINs maps six-digit BIN prefixes to bank codes. Exact-match
// lookup; sourced from the banks' published BIN lists.
var issuerBINs = map[string]string{
	"454671": "akbank",
	"454672": "akbank",
	"413252": "akbank",
	"520932": "akbank",
	"514915": "garanti",
	"540036": "garanti",
	"540037": "garanti",
	"541865": "garanti",
	"450803": "isbank",
	"540667": "isbank",
	"540668": "isbank",
	"541078": "isbank",
	"540130": "ziraat",
	"522241": "halkbank",
	"540435": "halkbank",
	"543081": "halkbank",
	"411724": "vakifbank",
	"411726": "vakifbank",
	"425669": "vakifbank",
	"545103": "yapikredi",
	"545616": "yapikredi",
	"547564": "yapikredi",
	"525312": "finansbank",
	"540963": "finansbank",
	"542404": "finansbank",
	"552096": "denizbank",
	"554567": "denizbank",
	"676366": "denizbank",
	"450918": "teb",
	"540638": "teb",
	"543738": "teb",
	"402275": "sekerbank",
	"402276": "sekerbank",
	"403814": "sekerbank",
	"402589": "kuveytturk",
	"402590": "kuveytturk",
	"410555": "kuveytturk",
}

// DetectIssuer returns the issuing bank's code for a six-digit BIN, or
// the empty string when the BIN is not in the table.
func DetectIssuer(number string) string {
	number = Normalize(number)
	if len(number) < 6 {
		return ""
	}
	return issuerBINs[number[:6]]
}

// Mask replaces all but the last four digits with '*', preserving
// length. Inputs shorter than four digits come back unchanged.
func Mask(number string) string {
	number = Normalize(number)
	if len(number) < 4 {
		return number
	}
	return strings.Repeat("*", len(number)-4) + number[len(number)-4:]
}
