package loan

import "time"

// SetClock replaces the clock of svc.
func (svc *Service) SetClock(now func() time.Time) {
	svc.now = now
}
