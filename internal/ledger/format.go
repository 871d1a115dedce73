package ledger

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// FormatRupiah renders an amount with comma thousands separators: 1500 -> "1,500".
func FormatRupiah(amount int64) string {
	return message.NewPrinter(language.English).Sprintf("%d", amount)
}
