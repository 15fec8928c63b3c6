package anomaly

import (
	"fmt"
)

// Quality codes attached to uploaded historical points
const (
	QualityGood    = "GOOD"
	QualitySuspect = "SUSPECT"
	QualityInvalid = "INVALID"
)

// Detector handles anomaly detection with configurable thresholds
type Detector struct {
	spikeThreshold            float64
	minDataPointsForDetection int
	windowSize                int
}

// NewDetector creates a new anomaly detector with the specified thresholds.
// windowSize bounds the rolling history used by QualityCodes and is never
// smaller than one or than minDataPointsForDetection.
func NewDetector(spikeThreshold float64, minDataPointsForDetection, windowSize int) *Detector {
	if windowSize < minDataPointsForDetection {
		windowSize = minDataPointsForDetection
	}
	if windowSize < 1 {
		windowSize = 1
	}
	return &Detector{
		spikeThreshold:            spikeThreshold,
		minDataPointsForDetection: minDataPointsForDetection,
		windowSize:                windowSize,
	}
}

// DetectAnomaly checks if the value is anomalous based on historical data
func (d *Detector) DetectAnomaly(value float64, historicalValues []float64) (bool, string) {
	if value < 0 {
		return true, "negative value"
	}

	if len(historicalValues) < d.minDataPointsForDetection {
		return false, ""
	}

	sum := 0.0
	for _, v := range historicalValues {
		sum += v
	}
	average := sum / float64(len(historicalValues))

	// sudden spike: more than threshold x rolling average
	if average > 0 && value > d.spikeThreshold*average {
		return true, fmt.Sprintf("sudden spike detected: value %.2f exceeds %.1fx rolling average %.2f",
			value, d.spikeThreshold, average)
	}

	return false, ""
}

// Classify maps a value to a quality code
func (d *Detector) Classify(value float64, historicalValues []float64) string {
	if value < 0 {
		return QualityInvalid
	}
	if anomalous, _ := d.DetectAnomaly(value, historicalValues); anomalous {
		return QualitySuspect
	}
	return QualityGood
}

// QualityCodes classifies a whole series, each value against the window of
// valid values preceding it. Invalid values never enter the window.
func (d *Detector) QualityCodes(values []float64) []string {
	codes := make([]string, len(values))
	window := make([]float64, 0, d.windowSize)

	for i, v := range values {
		codes[i] = d.Classify(v, window)
		if codes[i] == QualityInvalid {
			continue
		}
		if len(window) == d.windowSize {
			window = append(window[:0], window[1:]...)
		}
		window = append(window, v)
	}

	return codes
}
