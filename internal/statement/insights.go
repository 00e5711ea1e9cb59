package statement

import "fmt"

// Insight thresholds.
const (
	highEffectiveRate  = 0.035
	highMonthlyFee     = 30
	highNonQualified   = 15
	highEquipmentLease = 50
)

// EffectiveRate is the volume-weighted rate across the three pricing tiers.
func EffectiveRate(d Data) float64 {
	b, p := d.TransactionBreakdown, d.CurrentProcessor
	return p.QualifiedRate*b.QualifiedPercentage/100 +
		p.MidQualifiedRate*b.MidQualifiedPercentage/100 +
		p.NonQualifiedRate*b.NonQualifiedPercentage/100
}

// Insights lists talking points for a sales agent. A statement without
// volume yields none.
func Insights(d Data) []string {
	insights := []string{}
	if d.MonthlyVolume <= 0 {
		return insights
	}

	rate := EffectiveRate(d)
	insights = append(insights, fmt.Sprintf("Effective processing rate: %.2f%%", rate*100))
	if rate > highEffectiveRate {
		insights = append(insights, "Processing rates appear high - potential for significant savings")
	}
	if d.CurrentProcessor.MonthlyFee > highMonthlyFee {
		insights = append(insights, "Monthly fees are above average - consider processors with lower base fees")
	}
	if d.TransactionBreakdown.NonQualifiedPercentage > highNonQualified {
		insights = append(insights, "High percentage of non-qualified transactions - optimization opportunity")
	}
	if d.CurrentProcessor.EquipmentLease > highEquipmentLease {
		insights = append(insights, "Equipment lease costs are significant - consider purchasing terminals")
	}
	return insights
}
