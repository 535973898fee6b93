package verifier

import (
	"context"
	"errors"
	"time"

	"mailprobe/models"
)

var ErrBatchTooLarge = errors.New("batch too large")

// EmailVerifier is what the service needs from a Verifier.
type EmailVerifier interface {
	Verify(ctx context.Context, email string) models.VerificationResult
}

// Service is the request-facing entry point. Batches run one address at a
// time with a pause between items.
type Service struct {
	Verifier EmailVerifier
	MaxBatch int
	Pace     time.Duration
	Sleep    SleepFunc
}

func NewService(v EmailVerifier, maxBatch int, pace time.Duration) *Service {
	if maxBatch <= 0 {
		maxBatch = 50
	}
	return &Service{Verifier: v, MaxBatch: maxBatch, Pace: pace, Sleep: sleepContext}
}

func (s *Service) VerifyOne(ctx context.Context, email string) models.VerificationResult {
	return s.Verifier.Verify(ctx, email)
}

// VerifyBatch returns one result per input address, in input order.
func (s *Service) VerifyBatch(ctx context.Context, emails []string) ([]models.VerificationResult, error) {
	results := make([]models.VerificationResult, 0, len(emails))
	err := s.StreamBatch(ctx, emails, func(_ int, r models.VerificationResult) error {
		results = append(results, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// StreamBatch verifies emails in order, handing each result to fn as soon
// as it is known. An error from fn stops the batch. If ctx ends part way
// through, the remaining addresses are reported with StatusError.
func (s *Service) StreamBatch(ctx context.Context, emails []string, fn func(index int, r models.VerificationResult) error) error {
	if len(emails) > s.MaxBatch {
		return ErrBatchTooLarge
	}

	for i, email := range emails {
		if i > 0 && ctx.Err() == nil {
			s.Sleep(ctx, s.Pace)
		}
		var r models.VerificationResult
		if ctx.Err() != nil {
			r = models.NewResult(email, models.StatusError)
		} else {
			r = s.Verifier.Verify(ctx, email)
		}
		if err := fn(i, r); err != nil {
			return err
		}
	}
	return nil
}
