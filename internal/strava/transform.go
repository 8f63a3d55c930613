package strava

import (
	"math"
	"strconv"

	"stridecoach/internal/database"
)

// ActivityTypeRun is the only activity type this system stores
const ActivityTypeRun = "Run"

// ToRun maps a provider activity to the local run record shape.
// Distance, heart rate and elevation round to whole units; pace is
// minutes per kilometer with two-decimal rounding; cadence doubles the
// provider's single-leg value and stays NULL when the provider omits it.
func ToRun(a *Activity, userID string) *database.Run {
	run := &database.Run{
		UserID:           userID,
		StravaActivityID: strconv.FormatInt(a.ID, 10),
		Name:             a.Name,
		Date:             a.StartDate,
		DistanceMeters:   int64(math.Round(a.Distance)),
		DurationSeconds:  a.MovingTime,
		Pace:             Pace(a.MovingTime, a.Distance),
		AvgHeartRate:     int64(math.Round(a.AverageHeartrate)),
		ElevationGain:    int64(math.Round(a.TotalElevationGain)),
	}

	if a.AverageCadence > 0 {
		cadence := int64(math.Round(a.AverageCadence * 2))
		run.Cadence = &cadence
	}

	return run
}

// ToRunUpdate maps a provider activity to the partial-update shape used
// by webhook updates, which excludes the identity fields
func ToRunUpdate(a *Activity) database.RunUpdate {
	run := ToRun(a, "")
	return database.RunUpdate{
		Name:            run.Name,
		Date:            run.Date,
		DistanceMeters:  run.DistanceMeters,
		DurationSeconds: run.DurationSeconds,
		Pace:            run.Pace,
		AvgHeartRate:    run.AvgHeartRate,
		Cadence:         run.Cadence,
		ElevationGain:   run.ElevationGain,
	}
}

// Pace computes minutes per kilometer rounded to two decimals
func Pace(movingTimeSeconds int64, distanceMeters float64) float64 {
	if distanceMeters == 0 {
		return 0
	}
	pace := (float64(movingTimeSeconds) / 60) / (distanceMeters / 1000)
	return math.Round(pace*100) / 100
}

// DoubledCadence converts the provider's single-leg cadence to steps
// per minute, returning 0 when the provider reports none
func DoubledCadence(averageCadence float64) int64 {
	if averageCadence <= 0 {
		return 0
	}
	return int64(math.Round(averageCadence * 2))
}
