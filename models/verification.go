package models

// Status is the verdict for a single address.
type Status string

const (
	StatusValid     Status = "valid"
	StatusInvalid   Status = "invalid"
	StatusAcceptAll Status = "accept_all"
	StatusError     Status = "error"
)

// MXRecord is one mail exchanger for a domain. Lower priority is preferred.
type MXRecord struct {
	Exchange string `json:"exchange"`
	Priority uint16 `json:"priority"`
}

// VerificationResult is what callers get back for every address, whatever
// happened while probing it.
type VerificationResult struct {
	Email        string   `json:"email"`
	Status       Status   `json:"status"`
	QualityScore *float64 `json:"quality_score"`
}

// NewResult builds a result whose quality score is derived from status.
func NewResult(email string, status Status) VerificationResult {
	return VerificationResult{
		Email:        email,
		Status:       status,
		QualityScore: ScoreFromStatus(status),
	}
}

// ScoreFromStatus maps a status to its quality score. Error has no score.
func ScoreFromStatus(status Status) *float64 {
	var score float64
	switch status {
	case StatusValid:
		score = 1
	case StatusInvalid:
		score = 0
	case StatusAcceptAll:
		score = 0.5
	default:
		return nil
	}
	return &score
}
