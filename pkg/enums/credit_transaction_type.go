package enums

import "fmt"

// CreditTransactionType classifies a movement on a credit balance.
type CreditTransactionType string

const (
	CreditTransactionDeduct CreditTransactionType = "deduct"
	CreditTransactionRefund CreditTransactionType = "refund"
	CreditTransactionGrant  CreditTransactionType = "grant"
)

var validCreditTransactionTypes = []CreditTransactionType{
	CreditTransactionDeduct,
	CreditTransactionRefund,
	CreditTransactionGrant,
}

// IsValid reports whether the value is a known CreditTransactionType.
func (c CreditTransactionType) IsValid() bool {
	for _, candidate := range validCreditTransactionTypes {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseCreditTransactionType converts raw input into a CreditTransactionType.
func ParseCreditTransactionType(value string) (CreditTransactionType, error) {
	for _, candidate := range validCreditTransactionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid credit transaction type %q", value)
}
