package statement

import (
	"fmt"
	"unicode/utf8"
)

// maxPromptText bounds the statement text sent to the oracle.
const maxPromptText = 60000

const systemPrompt = "You are an expert merchant services analyst. Extract data from processing statements and return valid JSON only."

// BuildPrompt asks for the statement fields as one JSON object.
func BuildPrompt(statementText string) string {
	if utf8.RuneCountInString(statementText) > maxPromptText {
		statementText = string([]rune(statementText)[:maxPromptText])
	}
	return fmt.Sprintf(`Extract the following information from this merchant processing statement and return it as a single JSON object.

Fields:
- monthlyVolume, averageTicket, transactionCount: numbers in dollars or counts
- businessType (retail, restaurant, ecommerce, ...), industry
- transactionBreakdown: creditCardVolume, debitCardVolume, keyedVolume, ecommerceVolume,
  cardPresentPercentage, qualifiedPercentage, midQualifiedPercentage, nonQualifiedPercentage (0-100)
- currentProcessor: name, qualifiedRate, midQualifiedRate, nonQualifiedRate, debitRate
  (decimals, e.g. 0.0189 for 1.89%%), authFee, monthlyFee, statementFee, batchFee,
  keyedUpcharge, ecommerceUpcharge, and when present equipmentLease, gatewayFee, pciFee, regulatoryFee
- additionalCosts: hardwareCosts, softwareFees, supportFees, installationFees
- statementPeriod: startDate, endDate (YYYY-MM-DD)
- confidence: your confidence in the extraction (0-1)

Common rate structures are interchange plus, tiered (qualified, mid-qualified,
non-qualified), flat rate and subscription. If a value cannot be found, leave it
out and lower the confidence.

Statement text:
%s

Return only the JSON object:`, statementText)
}
