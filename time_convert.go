package geocore

import (
	"time"

	"github.com/soniakeys/meeus/v3/julian"
)

// gpsEpoch is the origin of GPS time: 1980-01-06T00:00:00 UTC.
var gpsEpoch = time.Date(1980, 1, 6, 0, 0, 0, 0, time.UTC)

// gpsLeapSeconds is the fixed GPS-UTC offset used throughout this package.
// GPS time does not observe leap seconds; the true offset has grown since
// 1980 (37s as of the last leap second in 2016). Products carrying a TIME
// role column encode GPS seconds-since-epoch; GpsSecondsToTimeNs and
// TimeNsToGpsSeconds both apply this constant, so it is part of every
// time_ns value the sampler writes into a frame and of every GpsTime that
// DataFrame.Points reads back.
const gpsLeapSeconds = 37 * time.Second

// GpsSecondsToTimeNs converts a GPS-epoch seconds value (as carried by a
// TIME role column's source product) into nanoseconds since the Unix epoch,
// the wire representation of ElemTimeNs (§3's "time_ns").
func GpsSecondsToTimeNs(gpsSeconds float64) int64 {
	t := gpsEpoch.Add(time.Duration(gpsSeconds * float64(time.Second))).Add(-gpsLeapSeconds)
	return t.UnixNano()
}

// TimeNsToGpsSeconds is the inverse of GpsSecondsToTimeNs.
func TimeNsToGpsSeconds(timeNs int64) float64 {
	t := time.Unix(0, timeNs).Add(gpsLeapSeconds)
	return t.Sub(gpsEpoch).Seconds()
}

// JulianDayForTimeNs reports the Julian day number for a time_ns value,
// used by CLI reporting and raster-epoch bookkeeping that needs a
// continuous day count rather than a calendar timestamp.
func JulianDayForTimeNs(timeNs int64) float64 {
	return julian.TimeToJD(time.Unix(0, timeNs).UTC())
}
