package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// zeroDecimal lists ISO 4217 currencies without minor units.
var zeroDecimal = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true, "KMF": true,
	"KRW": true, "MGA": true, "PYG": true, "RWF": true, "UGX": true, "VND": true,
	"VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

var symbols = map[string]string{
	"USD": "$", "EUR": "€", "GBP": "£", "JPY": "¥", "CNY": "¥", "INR": "₹",
	"KRW": "₩", "MYR": "RM", "SGD": "S$", "AUD": "A$", "CAD": "C$", "NZD": "NZ$",
	"CHF": "CHF", "BRL": "R$", "IDR": "Rp", "THB": "฿", "PHP": "₱", "VND": "₫",
}

// ValidateCurrency checks for a three-letter upper-case ISO 4217 code.
func ValidateCurrency(code string) error {
	if len(code) != 3 {
		return fmt.Errorf("currency must be a 3-letter ISO 4217 code, got %q", code)
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return fmt.Errorf("currency must be upper-case letters, got %q", code)
		}
	}
	return nil
}

// NormalizeCurrency upper-cases and trims code.
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Exponent returns the number of minor-unit digits for currency.
func Exponent(currency string) int32 {
	if zeroDecimal[currency] {
		return 0
	}
	return 2
}

// RoundAmount rounds to the currency's minor unit.
func RoundAmount(amount decimal.Decimal, currency string) decimal.Decimal {
	return amount.Round(Exponent(currency))
}

// MinorUnits converts an amount to integer minor units for gateway calls.
func MinorUnits(amount decimal.Decimal, currency string) int64 {
	return RoundAmount(amount, currency).Shift(Exponent(currency)).IntPart()
}

// SymbolPosition controls where the currency symbol goes.
type SymbolPosition string

const (
	SymbolLeft       SymbolPosition = "left"
	SymbolRight      SymbolPosition = "right"
	SymbolLeftSpace  SymbolPosition = "left_space"
	SymbolRightSpace SymbolPosition = "right_space"
)

// FormatConfig is the display locale for FormatMoney.
type FormatConfig struct {
	DecimalSeparator  string
	ThousandSeparator string
	Position          SymbolPosition
}

// DefaultFormat renders "$1,234.50".
func DefaultFormat() FormatConfig {
	return FormatConfig{DecimalSeparator: ".", ThousandSeparator: ",", Position: SymbolLeft}
}

// FormatMoney renders amount for display only.
func FormatMoney(amount decimal.Decimal, currency string, cfg FormatConfig) string {
	currency = NormalizeCurrency(currency)
	if cfg.DecimalSeparator == "" {
		cfg.DecimalSeparator = "."
	}

	exp := Exponent(currency)
	fixed := amount.Abs().StringFixed(exp)
	intPart, fracPart, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteString(cfg.ThousandSeparator)
		}
		b.WriteRune(r)
	}
	number := b.String()
	if exp > 0 {
		number += cfg.DecimalSeparator + fracPart
	}
	if amount.IsNegative() {
		number = "-" + number
	}

	symbol, ok := symbols[currency]
	if !ok {
		symbol = currency
	}

	switch cfg.Position {
	case SymbolRight:
		return number + symbol
	case SymbolLeftSpace:
		return symbol + " " + number
	case SymbolRightSpace:
		return number + " " + symbol
	default:
		return symbol + number
	}
}
