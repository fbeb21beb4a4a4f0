package common

// Status of a processing unit
type Status int

const (
	StatusDONE Status = iota
	StatusSKIPPED
	StatusRETRY
	StatusFAILED
)

func (s Status) String() string {
	switch s {
	case StatusDONE:
		return "DONE"
	case StatusSKIPPED:
		return "SKIPPED"
	case StatusRETRY:
		return "RETRY"
	case StatusFAILED:
		return "FAILED"
	}
	return "UNKNOWN"
}

// Result reports the outcome of one unit of work (a granule, an ancillary
// file or a tile dataset)
type Result struct {
	Unit    string `json:"unit"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}
