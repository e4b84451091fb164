package artifact

import "encoding/json"

// rawFields are the free-form candidate fields ArtifactBuilder reads out of
// a MirroredRecord's payload, kept separate from internal/payload's narrow
// apply-path accessors since these are query-side presentation fields the
// sync core itself never touches.
type rawFields struct {
	Employer        string   `json:"Employer"`
	Location        string   `json:"Location"`
	AUM             int64    `json:"AUM"`
	CompensationMin int      `json:"Compensation_Min"`
	CompensationMax int      `json:"Compensation_Max"`
	GrowthRatePct   float64  `json:"Growth_Rate_Pct"`
	Credentials     []string `json:"Credentials"`
	Achievements    []string `json:"Achievements"`
	InternalNotes   string   `json:"Internal_Notes"`
}

func extractFields(raw json.RawMessage) rawFields {
	var f rawFields
	_ = json.Unmarshal(raw, &f) // best-effort: missing fields just zero-value out.
	return f
}
