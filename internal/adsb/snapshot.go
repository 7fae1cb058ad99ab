// Package adsb models the periodic aircraft snapshot produced by a local
// 1090 MHz receiver (tar1090/readsb aircraft.json format).
package adsb

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// knotsToKph converts ground speed as reported by the feed to km/h.
const knotsToKph = 1.852

// Snapshot is one poll of the live feed: a capture timestamp plus every
// aircraft currently tracked by the receiver.
type Snapshot struct {
	Now      float64       `json:"now"` // seconds since epoch, fractional
	Aircraft []Observation `json:"aircraft"`
}

// Observation is a single aircraft's state within one snapshot. Optional
// fields are pointers; the feed omits anything the transponder did not send.
type Observation struct {
	Hex       string   `json:"hex"`
	Type      *string  `json:"type"`
	Flight    *string  `json:"flight"`
	AltBaro   *int     `json:"alt_baro"`
	GroundKt  *float64 `json:"gs"`
	Track     *float64 `json:"track"`
	Squawk    *string  `json:"squawk"`
	Emergency *string  `json:"emergency"`
	Lat       *float64 `json:"lat"`
	Lon       *float64 `json:"lon"`

	// Some feeds only carry a stale position here when the live one is lost.
	LastPosition *struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"lastPosition"`
}

// observationAlias avoids recursion in UnmarshalJSON while letting alt_baro
// accept both a number and the literal string "ground".
type observationAlias Observation

type rawObservation struct {
	observationAlias
	AltBaro json.RawMessage `json:"alt_baro"`
}

// UnmarshalJSON decodes an observation, tolerating alt_baro = "ground"
// (parked aircraft) by treating it as altitude 0.
func (o *Observation) UnmarshalJSON(data []byte) error {
	var raw rawObservation
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*o = Observation(raw.observationAlias)
	o.AltBaro = nil

	if len(raw.AltBaro) > 0 {
		var alt float64
		if err := json.Unmarshal(raw.AltBaro, &alt); err == nil {
			v := int(math.Round(alt))
			o.AltBaro = &v
		} else {
			var s string
			if err := json.Unmarshal(raw.AltBaro, &s); err == nil && s == "ground" {
				v := 0
				o.AltBaro = &v
			}
		}
	}
	return nil
}

// DecodeSnapshot parses a raw aircraft.json payload.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	for i := range s.Aircraft {
		// Strip the non-ICAO marker some receivers prefix to TIS-B targets.
		s.Aircraft[i].Hex = strings.ReplaceAll(s.Aircraft[i].Hex, "~", "")
	}
	return &s, nil
}

// Position returns the observation's coordinates, falling back to the
// receiver's last known position. ok is false when no position exists, in
// which case the aircraft cannot be classified this cycle.
func (o *Observation) Position() (lat, lon float64, ok bool) {
	if o.Lat != nil && o.Lon != nil {
		return *o.Lat, *o.Lon, true
	}
	if o.LastPosition != nil {
		return o.LastPosition.Lat, o.LastPosition.Lon, true
	}
	return 0, 0, false
}

// Callsign returns the trimmed flight identifier, or "" if absent. The feed
// pads callsigns to eight characters.
func (o *Observation) Callsign() string {
	if o.Flight == nil {
		return ""
	}
	return strings.TrimSpace(*o.Flight)
}

// SpeedKph converts the reported ground speed to km/h, rounded to one
// decimal place to match the stored precision.
func (o *Observation) SpeedKph() *float64 {
	if o.GroundKt == nil {
		return nil
	}
	v := math.Round(*o.GroundKt*knotsToKph*10) / 10
	return &v
}

// TrackDeg returns the reported track rounded to whole degrees.
func (o *Observation) TrackDeg() *int {
	if o.Track == nil {
		return nil
	}
	v := int(math.Round(*o.Track))
	return &v
}
