package view

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// MoneyFormatter renders amounts for reports and exports. The core itself is
// currency-agnostic; the currency is configuration handed to the formatting
// layer, never state the ledger carries.
type MoneyFormatter struct {
	printer *message.Printer
	unit    currency.Unit
}

// NewMoneyFormatter builds a formatter for an ISO 4217 currency code.
func NewMoneyFormatter(code string) (MoneyFormatter, error) {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return MoneyFormatter{}, err
	}
	return MoneyFormatter{printer: message.NewPrinter(language.English), unit: unit}, nil
}

// Format renders an amount with the configured currency symbol.
func (f MoneyFormatter) Format(amount decimal.Decimal) string {
	value, _ := amount.Float64()
	return f.printer.Sprintf("%v", currency.Symbol(f.unit.Amount(value)))
}

// Currency returns the configured ISO code.
func (f MoneyFormatter) Currency() string {
	return f.unit.String()
}
