package models

import (
	"sort"
	"time"
)

// Sensor field names as stored in the readings measurement.
const (
	FieldTemperature     = "temperature"
	FieldHumidity        = "humidity"
	FieldSoilMoisture    = "soilMoisture"
	FieldSoilTemperature = "soilTemperature"
	FieldLight           = "light"
)

// SensorFields is the fixed order of raw sensor channels.
var SensorFields = []string{
	FieldTemperature,
	FieldHumidity,
	FieldSoilMoisture,
	FieldSoilTemperature,
	FieldLight,
}

// Reading represents a single sensor field observed at one instant
type Reading struct {
	Timestamp time.Time `json:"timestamp"`
	ZoneID    string    `json:"zoneId"`
	SensorID  string    `json:"sensorId,omitempty"`
	Field     string    `json:"field"`
	Value     float64   `json:"value"`
}

// WideReading holds every field observed at one timestamp
type WideReading struct {
	Timestamp time.Time          `json:"timestamp"`
	Values    map[string]float64 `json:"values"`
}

// Value returns the field value and whether it was observed.
func (w WideReading) Value(field string) (float64, bool) {
	v, ok := w.Values[field]
	return v, ok
}

// PivotReadings turns long-form readings into wide rows sorted by time.
// Several readings of the same field at the same timestamp are averaged.
func PivotReadings(readings []Reading) []WideReading {
	type acc struct {
		sum   float64
		count int
	}
	byTime := make(map[time.Time]map[string]*acc)

	for _, r := range readings {
		ts := r.Timestamp.UTC()
		fields, ok := byTime[ts]
		if !ok {
			fields = make(map[string]*acc)
			byTime[ts] = fields
		}
		a, ok := fields[r.Field]
		if !ok {
			a = &acc{}
			fields[r.Field] = a
		}
		a.sum += r.Value
		a.count++
	}

	rows := make([]WideReading, 0, len(byTime))
	for ts, fields := range byTime {
		values := make(map[string]float64, len(fields))
		for f, a := range fields {
			values[f] = a.sum / float64(a.count)
		}
		rows = append(rows, WideReading{Timestamp: ts, Values: values})
	}

	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Timestamp.Before(rows[j].Timestamp)
	})
	return rows
}

// ReadingsUntil returns the prefix of sorted rows observed at or before t.
func ReadingsUntil(rows []WideReading, t time.Time) []WideReading {
	i := sort.Search(len(rows), func(i int) bool {
		return rows[i].Timestamp.After(t)
	})
	return rows[:i]
}

// Intervention is a frost candle state change for a zone
type Intervention struct {
	Timestamp time.Time `json:"timestamp"`
	ZoneID    string    `json:"zoneId"`
	CandlesOn bool      `json:"candlesOn"`
}

// CandlesActiveAt reports the candle state held at t. Events must be sorted
// by time; with no prior event the candles are considered off.
func CandlesActiveAt(events []Intervention, t time.Time) bool {
	active := false
	for _, e := range events {
		if e.Timestamp.After(t) {
			break
		}
		active = e.CandlesOn
	}
	return active
}

// CandlesActiveDuring reports whether candles burned at any point of [start, end],
// including being already on when the window opened.
func CandlesActiveDuring(events []Intervention, start, end time.Time) bool {
	if CandlesActiveAt(events, start) {
		return true
	}
	for _, e := range events {
		if e.Timestamp.Before(start) {
			continue
		}
		if e.Timestamp.After(end) {
			break
		}
		if e.CandlesOn {
			return true
		}
	}
	return false
}
