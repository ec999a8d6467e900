package fitness

import (
	"encoding/json"
	"time"
)

// ActivitySummary is the normalized daily activity section.
type ActivitySummary struct {
	Steps                int     `json:"steps"`
	Distance             float64 `json:"distance"`
	Calories             int     `json:"calories"`
	ActiveMinutes        int     `json:"activeMinutes"`
	SedentaryMinutes     int     `json:"sedentaryMinutes"`
	LightlyActiveMinutes int     `json:"lightlyActiveMinutes"`
	FairlyActiveMinutes  int     `json:"fairlyActiveMinutes"`
	VeryActiveMinutes    int     `json:"veryActiveMinutes"`
}

// SleepSummary is the normalized daily sleep section.
type SleepSummary struct {
	TotalSleepRecords  int `json:"totalSleepRecords"`
	TotalMinutesAsleep int `json:"totalMinutesAsleep"`
	TotalTimeInBed     int `json:"totalTimeInBed"`
	Efficiency         int `json:"efficiency"`
}

// HeartRateZone is one provider-defined heart-rate band.
type HeartRateZone struct {
	Name        string  `json:"name"`
	Min         int     `json:"min"`
	Max         int     `json:"max"`
	Minutes     int     `json:"minutes"`
	CaloriesOut float64 `json:"caloriesOut"`
}

// HeartRateSummary is the normalized daily heart-rate section.
type HeartRateSummary struct {
	RestingHeartRate *int            `json:"restingHeartRate,omitempty"`
	HeartRateZones   []HeartRateZone `json:"heartRateZones"`
}

// Snapshot is the unified, provider-shape-independent summary of a day.
// Sections are optional: a partial fetch failure degrades to a missing
// section rather than an aggregate failure.
type Snapshot struct {
	Activity  *ActivitySummary  `json:"activity,omitempty"`
	Sleep     *SleepSummary     `json:"sleep,omitempty"`
	HeartRate *HeartRateSummary `json:"heartRate,omitempty"`
	LastSync  time.Time         `json:"lastSync"`
}

// Provider document shapes, as returned by the relay.

type activityDocument struct {
	Summary struct {
		Steps     int `json:"steps"`
		Distances []struct {
			Distance float64 `json:"distance"`
		} `json:"distances"`
		CaloriesOut          int `json:"caloriesOut"`
		SedentaryMinutes     int `json:"sedentaryMinutes"`
		LightlyActiveMinutes int `json:"lightlyActiveMinutes"`
		FairlyActiveMinutes  int `json:"fairlyActiveMinutes"`
		VeryActiveMinutes    int `json:"veryActiveMinutes"`
	} `json:"summary"`
}

type sleepDocument struct {
	Summary *struct {
		TotalSleepRecords  int `json:"totalSleepRecords"`
		TotalMinutesAsleep int `json:"totalMinutesAsleep"`
		TotalTimeInBed     int `json:"totalTimeInBed"`
		Efficiency         int `json:"efficiency"`
	} `json:"summary"`
}

type heartDocument struct {
	ActivitiesHeart []struct {
		Value struct {
			RestingHeartRate *int            `json:"restingHeartRate"`
			HeartRateZones   []HeartRateZone `json:"heartRateZones"`
		} `json:"value"`
	} `json:"activities-heart"`
}

func parseActivity(raw json.RawMessage) (*ActivitySummary, error) {
	var document activityDocument
	if err := json.Unmarshal(raw, &document); err != nil {
		return nil, err
	}
	distance := 0.0
	if len(document.Summary.Distances) > 0 {
		distance = document.Summary.Distances[0].Distance
	}
	return &ActivitySummary{
		Steps:                document.Summary.Steps,
		Distance:             distance,
		Calories:             document.Summary.CaloriesOut,
		ActiveMinutes:        document.Summary.VeryActiveMinutes + document.Summary.FairlyActiveMinutes,
		SedentaryMinutes:     document.Summary.SedentaryMinutes,
		LightlyActiveMinutes: document.Summary.LightlyActiveMinutes,
		FairlyActiveMinutes:  document.Summary.FairlyActiveMinutes,
		VeryActiveMinutes:    document.Summary.VeryActiveMinutes,
	}, nil
}

func parseSleep(raw json.RawMessage) *SleepSummary {
	var document sleepDocument
	if err := json.Unmarshal(raw, &document); err != nil || document.Summary == nil {
		return nil
	}
	return &SleepSummary{
		TotalSleepRecords:  document.Summary.TotalSleepRecords,
		TotalMinutesAsleep: document.Summary.TotalMinutesAsleep,
		TotalTimeInBed:     document.Summary.TotalTimeInBed,
		Efficiency:         document.Summary.Efficiency,
	}
}

func parseHeart(raw json.RawMessage) *HeartRateSummary {
	var document heartDocument
	if err := json.Unmarshal(raw, &document); err != nil || len(document.ActivitiesHeart) == 0 {
		return nil
	}
	value := document.ActivitiesHeart[0].Value
	return &HeartRateSummary{
		RestingHeartRate: value.RestingHeartRate,
		HeartRateZones:   value.HeartRateZones,
	}
}
