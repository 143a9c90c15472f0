package service

import (
	"time"

	"campus-election-backend/models"
)

// DeriveStatus computes the lifecycle phase of e at now. An early close wins
// over the window; otherwise the window is inclusive of its end.
func DeriveStatus(e *models.Election, now time.Time) models.ElectionStatus {
	switch {
	case e.ClosedEarly:
		return models.StatusCompleted
	case now.Before(e.StartTime):
		return models.StatusUpcoming
	case !now.After(e.EndTime):
		return models.StatusOngoing
	default:
		return models.StatusCompleted
	}
}
