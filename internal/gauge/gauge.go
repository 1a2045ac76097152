// Package gauge maps sensor values onto gauge rings: a fill fraction and a
// color-coded comfort bucket per channel.
package gauge

import (
	"fmt"
	"math"
)

// Channel identifies which reading a gauge displays
type Channel string

const (
	Temperature Channel = "temperature"
	Humidity    Channel = "humidity"
)

// Color is the stroke color class of a bucket
type Color string

const (
	Blue   Color = "blue"
	Green  Color = "green"
	Yellow Color = "yellow"
	Orange Color = "orange"
	Red    Color = "red"
)

// Bucket is one threshold band. A value belongs to the first bucket whose
// Max is >= the value.
type Bucket struct {
	Max   float64
	Color Color
	Label string
}

type channelSpec struct {
	max     float64
	unit    string
	buckets []Bucket
}

var channels = map[Channel]channelSpec{
	Temperature: {
		max:  40,
		unit: "°C",
		buckets: []Bucket{
			{Max: 18, Color: Blue, Label: "Cold"},
			{Max: 24, Color: Green, Label: "Comfortable"},
			{Max: 28, Color: Yellow, Label: "Warm"},
			{Max: 32, Color: Orange, Label: "Hot"},
			{Max: math.Inf(1), Color: Red, Label: "Very Hot"},
		},
	},
	Humidity: {
		max:  100,
		unit: "%",
		buckets: []Bucket{
			{Max: 30, Color: Blue, Label: "Dry"},
			{Max: 60, Color: Green, Label: "Comfortable"},
			{Max: 70, Color: Yellow, Label: "Humid"},
			{Max: 80, Color: Orange, Label: "Very Humid"},
			{Max: math.Inf(1), Color: Red, Label: "Excessive"},
		},
	},
}

// Gauge is the rendered state of one ring
type Gauge struct {
	Channel Channel `json:"channel"`
	Value   float64 `json:"value"`
	Fill    float64 `json:"fill"`
	Bucket  int     `json:"bucket"`
	Color   Color   `json:"color"`
	Label   string  `json:"label"`
	Text    string  `json:"text"`
}

// Max returns the full-scale value of a channel, or 0 for an unknown channel.
func Max(ch Channel) float64 {
	return channels[ch].max
}

// Buckets returns a copy of the channel's ordered buckets
func Buckets(ch Channel) []Bucket {
	spec, ok := channels[ch]
	if !ok {
		return nil
	}
	out := make([]Bucket, len(spec.buckets))
	copy(out, spec.buckets)
	return out
}

// Fill returns clamp(value, 0, max) / max. Non-finite values render empty.
func Fill(value float64, ch Channel) float64 {
	spec, ok := channels[ch]
	if !ok || !isFinite(value) || value <= 0 {
		return 0
	}
	if value >= spec.max {
		return 1
	}
	return value / spec.max
}

// Classify returns the index of the bucket the value falls in. Ties go to
// the lower bucket; non-finite values take the first bucket.
func Classify(value float64, ch Channel) (int, Bucket) {
	spec, ok := channels[ch]
	if !ok {
		return -1, Bucket{}
	}
	if !isFinite(value) {
		return 0, spec.buckets[0]
	}
	for i, b := range spec.buckets {
		if value <= b.Max {
			return i, b
		}
	}
	last := len(spec.buckets) - 1
	return last, spec.buckets[last]
}

// Render computes the full gauge state for a value on a channel.
func Render(value float64, ch Channel) Gauge {
	spec, ok := channels[ch]
	if !ok {
		return Gauge{Channel: ch, Bucket: -1}
	}
	idx, bucket := Classify(value, ch)
	shown := value
	if !isFinite(shown) {
		shown = 0
	}
	return Gauge{
		Channel: ch,
		Value:   shown,
		Fill:    Fill(value, ch),
		Bucket:  idx,
		Color:   bucket.Color,
		Label:   bucket.Label,
		Text:    fmt.Sprintf("%.1f%s (%s)", shown, spec.unit, bucket.Label),
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
