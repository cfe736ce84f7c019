// internal/workers/underwriting/quick-quote/models.go
package quickquote

type Input struct {
	ProductID  string  `json:"productId"`
	Age        int     `json:"age"`
	Gender     string  `json:"gender"`
	Tobacco    bool    `json:"tobacco"`
	FaceAmount float64 `json:"faceAmount"`
	TermYears  *int    `json:"termYears,omitempty"`

	// HealthClass defaults to standard when the caller has no rating yet.
	HealthClass string `json:"healthClass,omitempty"`

	TableRatingUnits     int     `json:"tableRatingUnits,omitempty"`
	FlatExtraPerThousand float64 `json:"flatExtraPerThousand,omitempty"`

	AllowSinglePointScaling bool `json:"allowSinglePointScaling,omitempty"`
}

type Output struct {
	ProductID      string  `json:"productId"`
	MonthlyPremium float64 `json:"monthlyPremium"`
	AnnualPremium  float64 `json:"annualPremium"`
	FaceAmount     float64 `json:"faceAmount"`
	TermYears      *int    `json:"termYears,omitempty"`

	HealthClassUsed string `json:"healthClassUsed"`
	WasFallback     bool   `json:"wasFallback,omitempty"`
	Interpolated    bool   `json:"interpolated,omitempty"`
}
