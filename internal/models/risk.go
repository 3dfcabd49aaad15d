package models

import "encoding/json"

// RiskLevel is an ordered scale. Rules only ever raise the level, so the
// aggregate of a check is the maximum level any rule produced.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

var riskLevelNames = map[RiskLevel]string{
	RiskLow:      "LOW",
	RiskMedium:   "MEDIUM",
	RiskHigh:     "HIGH",
	RiskCritical: "CRITICAL",
}

func (r RiskLevel) String() string {
	if name, ok := riskLevelNames[r]; ok {
		return name
	}
	return "LOW"
}

// Max returns the higher of the two levels.
func (r RiskLevel) Max(other RiskLevel) RiskLevel {
	if other > r {
		return other
	}
	return r
}

func (r RiskLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *RiskLevel) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for level, n := range riskLevelNames {
		if n == name {
			*r = level
			return nil
		}
	}
	*r = RiskLow
	return nil
}

// AML screening flags.
const (
	FlagHighValue              = "HIGH_VALUE_TRANSACTION"
	FlagSuspiciousVelocity     = "SUSPICIOUS_VELOCITY"
	FlagRestrictedCountry      = "RESTRICTED_COUNTRY"
	FlagRoundAmountStructuring = "ROUND_AMOUNT_STRUCTURING"
	FlagCrossBorder            = "CROSS_BORDER_TRANSACTION"
)

// Required actions attached by AML screening.
const (
	ActionManualReview          = "MANUAL_REVIEW_REQUIRED"
	ActionEnhancedDueDiligence  = "ENHANCED_DUE_DILIGENCE"
	ActionTransactionMonitoring = "TRANSACTION_MONITORING"
	ActionBlockTransaction      = "BLOCK_TRANSACTION"
	ActionReportToAuthorities   = "REPORT_TO_AUTHORITIES"
	ActionAdditionalVerify      = "ADDITIONAL_VERIFICATION"
	ActionCrossBorderReporting  = "CROSS_BORDER_REPORTING"
)

// Regulatory monitoring outcomes.
const (
	ReportCTRFiling           = "CTR_FILING"
	ReportSARFiling           = "SAR_FILING"
	ReportOFACBlocking        = "OFAC_BLOCKING_REPORT"
	HoldOFACSanctions         = "OFAC_SANCTIONS_HOLD"
	EscalationOfficerReview   = "COMPLIANCE_OFFICER_REVIEW"
	EscalationImmediateFreeze = "IMMEDIATE_FREEZE"
)

// AMLResult is the outcome of an anti-money-laundering screen.
type AMLResult struct {
	Compliant       bool      `json:"compliant"`
	RiskLevel       RiskLevel `json:"risk_level"`
	Flags           []string  `json:"flags"`
	RequiredActions []string  `json:"required_actions"`
}

// HasAction reports whether the screen attached the given required action.
func (r *AMLResult) HasAction(action string) bool {
	for _, a := range r.RequiredActions {
		if a == action {
			return true
		}
	}
	return false
}

// MonitoringResult is the outcome of regulatory transaction monitoring.
type MonitoringResult struct {
	Approved          bool     `json:"approved"`
	Holds             []string `json:"holds"`
	ReportingRequired []string `json:"reporting_required"`
	Escalations       []string `json:"escalations"`
}

// RequiresReport reports whether the given filing obligation was raised.
func (r *MonitoringResult) RequiresReport(report string) bool {
	for _, f := range r.ReportingRequired {
		if f == report {
			return true
		}
	}
	return false
}
