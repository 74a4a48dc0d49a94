package issuance

import "errors"

// ValidationError surfaces a caller input problem (empty business_type,
// count < 1, step <= 0, unknown forced_role); no state changes on this
// error (§7).
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// ErrSegmentRace is returned when a concurrent update raced this refill
// to zero rows affected (§7 "Segment race").
var ErrSegmentRace = errors.New("issuance: concurrent segment update, 0 rows affected")
