/**
 * @description
 * The membership ledger owns the point values and counter effects of a
 * certification, its reversal, and a missed-day penalty. Every operation runs
 * on the caller's store.Tx so it commits or rolls back together with the
 * submission write that caused it.
 */
package ledger

import (
	"context"
	"fmt"

	"github.com/jeongwoo1020/MADCAMP-W2-Backend/internal/domain"
	"github.com/jeongwoo1020/MADCAMP-W2-Backend/internal/store"
)

const (
	OnTimePoints      = 10.0
	LatePoints        = 5.0
	UnscheduledPoints = 5.0
	PenaltyPoints     = 10.0
)

// PointsFor returns the award for a certification with the given outcome.
// isLate is ignored on unscheduled days.
func PointsFor(onScheduledDay, isLate bool) float64 {
	switch {
	case !onScheduledDay:
		return UnscheduledPoints
	case isLate:
		return LatePoints
	default:
		return OnTimePoints
	}
}

func countersFor(onScheduledDay, isLate bool) store.CounterDelta {
	delta := store.CounterDelta{Certifications: 1}
	if onScheduledDay && isLate {
		delta.Late = 1
	}
	return delta
}

// ApplyCertification credits the account and bumps the membership counters.
func ApplyCertification(ctx context.Context, tx store.Tx, m *domain.Membership, onScheduledDay, isLate bool) (float64, error) {
	points := PointsFor(onScheduledDay, isLate)
	delta := countersFor(onScheduledDay, isLate)

	if err := tx.AdjustAccountScore(ctx, m.AccountID, points); err != nil {
		return 0, fmt.Errorf("credit account %s: %w", m.AccountID, err)
	}
	if err := tx.AdjustMembershipCounters(ctx, m.ID, delta); err != nil {
		return 0, fmt.Errorf("increment membership %s: %w", m.ID, err)
	}
	m.CertificationCount += delta.Certifications
	m.LateCount += delta.Late
	return points, nil
}

// ReverseCertification undoes ApplyCertification exactly. The flags must be
// the ones stored on the submission, never recomputed from the current
// schedule.
func ReverseCertification(ctx context.Context, tx store.Tx, m *domain.Membership, onScheduledDay, isLate bool) (float64, error) {
	points := PointsFor(onScheduledDay, isLate)
	delta := countersFor(onScheduledDay, isLate)
	delta.Certifications, delta.Late = -delta.Certifications, -delta.Late

	if err := tx.AdjustAccountScore(ctx, m.AccountID, -points); err != nil {
		return 0, fmt.Errorf("debit account %s: %w", m.AccountID, err)
	}
	if err := tx.AdjustMembershipCounters(ctx, m.ID, delta); err != nil {
		return 0, fmt.Errorf("decrement membership %s: %w", m.ID, err)
	}
	m.CertificationCount += delta.Certifications
	m.LateCount += delta.Late
	return points, nil
}

// ApplyPenalty deducts the missed-day penalty. Certification, late and report
// counters are left alone; only penalty_count moves.
func ApplyPenalty(ctx context.Context, tx store.Tx, m *domain.Membership) (float64, error) {
	if err := tx.AdjustAccountScore(ctx, m.AccountID, -PenaltyPoints); err != nil {
		return 0, fmt.Errorf("penalize account %s: %w", m.AccountID, err)
	}
	if err := tx.AdjustMembershipCounters(ctx, m.ID, store.CounterDelta{Penalties: 1}); err != nil {
		return 0, fmt.Errorf("count penalty on membership %s: %w", m.ID, err)
	}
	m.PenaltyCount++
	return PenaltyPoints, nil
}
