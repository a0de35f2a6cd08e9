package gridledger

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDuplicateID is returned when a lot id collides with an existing one.
	ErrDuplicateID = errors.New("duplicate lot id")
	// ErrInsufficientRemaining is returned when a lot is asked more than it has left.
	ErrInsufficientRemaining = errors.New("insufficient remaining quantity")
	// ErrUnmatchedSell qualifies a sell for which no lot could be found.
	ErrUnmatchedSell = errors.New("unmatched sell")
	// ErrDriftDetected qualifies an inconsistency that cannot be repaired automatically.
	ErrDriftDetected = errors.New("drift detected")
	// ErrDuplicateSell is returned when a sell id is recorded twice.
	ErrDuplicateSell = errors.New("duplicate sell")
	ErrLotNotFound   = errors.New("lot not found")
	ErrSellNotFound  = errors.New("sell not found")
	// ErrSyntheticID is returned for ids that were not issued by the exchange.
	ErrSyntheticID = errors.New("synthetic trade id")
	// ErrStaleReport is returned when a reconciliation report no longer applies.
	ErrStaleReport = errors.New("stale reconciliation report")
	ErrUnknownPair = errors.New("unknown pair")
)

// DuplicateIDError reports an identity collision.
type DuplicateIDError struct {
	ID string
	// Redelivery is true when the colliding fill is identical to the recorded one.
	Redelivery bool
	// IDs lists the colliding raw ids when they share the same base id.
	IDs []string
}

func (e *DuplicateIDError) Error() string {
	if len(e.IDs) > 0 {
		return fmt.Sprintf("duplicate lot id %q: %s", e.ID, strings.Join(e.IDs, ", "))
	}
	if e.Redelivery {
		return fmt.Sprintf("duplicate lot id %q (redelivered fill)", e.ID)
	}
	return fmt.Sprintf("duplicate lot id %q", e.ID)
}

func (e *DuplicateIDError) Unwrap() error { return ErrDuplicateID }

// InsufficientRemainingError reports an attempt to over-consume a lot.
type InsufficientRemainingError struct {
	LotID     string
	Requested Quantity
	Remaining Quantity
}

func (e *InsufficientRemainingError) Error() string {
	return fmt.Sprintf("lot %q: cannot consume %s, only %s remaining", e.LotID, e.Requested, e.Remaining)
}

func (e *InsufficientRemainingError) Unwrap() error { return ErrInsufficientRemaining }

// UnmatchedSellError describes the part of a sell that no lot covers.
type UnmatchedSellError struct {
	SellID    string
	Amount    Quantity
	Unmatched Quantity
}

func (e *UnmatchedSellError) Error() string {
	return fmt.Sprintf("sell %q: %s of %s not matched to any lot", e.SellID, e.Unmatched, e.Amount)
}

func (e *UnmatchedSellError) Unwrap() error { return ErrUnmatchedSell }

// DriftDetectedError is an inconsistency beyond auto-repair bounds.
type DriftDetectedError struct {
	Pair   string
	Class  DriftClass
	Detail string
	Before string
	After  string
}

func (e *DriftDetectedError) Error() string {
	msg := fmt.Sprintf("%s: %s drift: %s", e.Pair, e.Class, e.Detail)
	if e.Before != "" || e.After != "" {
		msg += fmt.Sprintf(" (internal %s, external %s)", e.Before, e.After)
	}
	return msg
}

func (e *DriftDetectedError) Unwrap() error { return ErrDriftDetected }

// DuplicateSellError reports a sell id recorded twice.
type DuplicateSellError struct {
	SellID string
}

func (e *DuplicateSellError) Error() string {
	return fmt.Sprintf("sell %q already recorded", e.SellID)
}

func (e *DuplicateSellError) Unwrap() error { return ErrDuplicateSell }
