// internal/underwriting/dsl/constants.go
package dsl

// SupportedVersion is the only rule document version the engine accepts.
const SupportedVersion = 2

// MaxPredicateDepth bounds predicate nesting. Authored rules deeper than
// this are rejected at load time.
const MaxPredicateDepth = 10

// EligibilityStatus is the tri-state-plus-refer decision attached to an
// outcome. Worst status always wins during aggregation.
type EligibilityStatus string

const (
	EligibilityEligible   EligibilityStatus = "eligible"
	EligibilityRefer      EligibilityStatus = "refer"
	EligibilityUnknown    EligibilityStatus = "unknown"
	EligibilityIneligible EligibilityStatus = "ineligible"
)

// eligibilityRank orders statuses from best to worst. Higher rank is worse.
var eligibilityRank = map[EligibilityStatus]int{
	EligibilityEligible:   1,
	EligibilityRefer:      2,
	EligibilityUnknown:    3,
	EligibilityIneligible: 4,
}

// WorseEligibility returns the more conservative of the two statuses.
func WorseEligibility(a, b EligibilityStatus) EligibilityStatus {
	if eligibilityRank[a] >= eligibilityRank[b] {
		return a
	}
	return b
}

// HealthClass is a carrier underwriting risk tier.
type HealthClass string

const (
	HealthPreferredPlus HealthClass = "preferred_plus"
	HealthPreferred     HealthClass = "preferred"
	HealthStandardPlus  HealthClass = "standard_plus"
	HealthStandard      HealthClass = "standard"
	HealthSubstandard   HealthClass = "substandard"
	HealthRefer         HealthClass = "refer"
	HealthUnknown       HealthClass = "unknown"
	HealthDecline       HealthClass = "decline"
)

// healthClassRank orders classes from best (1) to worst (8).
var healthClassRank = map[HealthClass]int{
	HealthPreferredPlus: 1,
	HealthPreferred:     2,
	HealthStandardPlus:  3,
	HealthStandard:      4,
	HealthSubstandard:   5,
	HealthRefer:         6,
	HealthUnknown:       7,
	HealthDecline:       8,
}

var healthClassByRank = map[int]HealthClass{
	1: HealthPreferredPlus,
	2: HealthPreferred,
	3: HealthStandardPlus,
	4: HealthStandard,
	5: HealthSubstandard,
	6: HealthRefer,
	7: HealthUnknown,
	8: HealthDecline,
}

// HealthClassRank returns the numeric rank of a health class. Unrecognized
// classes rank as unknown so they can never improve an aggregate.
func HealthClassRank(hc HealthClass) int {
	if r, ok := healthClassRank[hc]; ok {
		return r
	}
	return healthClassRank[HealthUnknown]
}

// HealthClassFromRank is the inverse of HealthClassRank.
func HealthClassFromRank(rank int) HealthClass {
	if hc, ok := healthClassByRank[rank]; ok {
		return hc
	}
	return HealthUnknown
}

// WorseHealthClass returns the riskier of the two classes.
func WorseHealthClass(a, b HealthClass) HealthClass {
	if HealthClassRank(a) >= HealthClassRank(b) {
		return a
	}
	return b
}

// ValidHealthClass reports whether hc is a recognized class.
func ValidHealthClass(hc HealthClass) bool {
	_, ok := healthClassRank[hc]
	return ok
}

// TableRating is a letter-coded surcharge tier. "none" carries zero units,
// A through P carry 1 through 16.
type TableRating string

const TableRatingNone TableRating = "none"

var tableRatingUnits = map[TableRating]int{
	"none": 0,
	"A":    1, "B": 2, "C": 3, "D": 4,
	"E": 5, "F": 6, "G": 7, "H": 8,
	"I": 9, "J": 10, "K": 11, "L": 12,
	"M": 13, "N": 14, "O": 15, "P": 16,
}

var tableRatingByUnits = map[int]TableRating{
	0: "none",
	1: "A", 2: "B", 3: "C", 4: "D",
	5: "E", 6: "F", 7: "G", 8: "H",
	9: "I", 10: "J", 11: "K", 12: "L",
	13: "M", 14: "N", 15: "O", 16: "P",
}

// TableRatingUnits converts a letter rating to its numeric unit count.
func TableRatingUnits(tr TableRating) int {
	if u, ok := tableRatingUnits[tr]; ok {
		return u
	}
	return 0
}

// TableRatingFromUnits converts units back to a letter rating. Values above
// the scale clamp to the worst rating.
func TableRatingFromUnits(units int) TableRating {
	if units <= 0 {
		return TableRatingNone
	}
	if units > 16 {
		units = 16
	}
	return tableRatingByUnits[units]
}

// ValidTableRating reports whether tr is a recognized rating.
func ValidTableRating(tr TableRating) bool {
	_, ok := tableRatingUnits[tr]
	return ok
}

// RuleSetScope determines which candidates a rule set applies to.
type RuleSetScope string

const (
	ScopeCondition RuleSetScope = "condition"
	ScopeProduct   RuleSetScope = "product"
	ScopeGlobal    RuleSetScope = "global"
)

// ReviewStatus gates which stored rule sets the engine will evaluate.
type ReviewStatus string

const (
	ReviewDraft    ReviewStatus = "draft"
	ReviewApproved ReviewStatus = "approved"
)

// DefaultSafeOutcome is used when a rule set matches nothing and nothing
// was unknown either. It routes the case to manual review rather than
// silently approving or declining.
func DefaultSafeOutcome() RuleOutcome {
	return RuleOutcome{
		Eligibility: EligibilityRefer,
		HealthClass: HealthUnknown,
		TableRating: TableRatingNone,
		Reason:      "No matching rule - manual review required",
	}
}
