package domain

// fieldRanges holds the closed plausibility range per pollutant. Values on the
// boundary are valid.
var fieldRanges = map[Pollutant][2]float64{
	PM25:            {0, 1000},
	PM10:            {0, 1000},
	Ozone:           {0, 1000},
	CarbonMonoxide:  {0, 10000},
	NitrogenDioxide: {0, 1000},
	SulphurDioxide:  {0, 1000},
	UVIndex:         {0, 20},
}

// RejectKind classifies why a cell or payload was rejected. The values feed
// dead-letter reason strings and the validation error counter labels.
type RejectKind string

const (
	RejectNone    RejectKind = ""
	RejectMissing RejectKind = "missing"
	RejectType    RejectKind = "type"
	RejectRange   RejectKind = "range"
	RejectEmpty   RejectKind = "empty"
)

// ValidateValue reports whether v is an acceptable reading for pollutant p:
// present and within p's closed range. A nil value is never valid.
func ValidateValue(p Pollutant, v *float64) bool {
	if v == nil {
		return false
	}
	r, ok := fieldRanges[p]
	if !ok {
		return false
	}
	return *v >= r[0] && *v <= r[1]
}

// ValidateCell judges one raw hourly cell as decoded from JSON. It returns
// the numeric value and RejectNone when the cell is usable, or the reason it
// is not.
func ValidateCell(p Pollutant, raw any) (float64, RejectKind) {
	if raw == nil {
		return 0, RejectMissing
	}
	v, ok := raw.(float64)
	if !ok {
		return 0, RejectType
	}
	if !ValidateValue(p, &v) {
		return v, RejectRange
	}
	return v, RejectNone
}

// QualityReport summarizes the payload quality gate.
type QualityReport struct {
	Accepted   bool
	Score      float64
	TotalCells int
	ValidCells int
	// Rejects counts cell rejections by kind; RejectEmpty marks a payload
	// with no hourly block or no timestamps at all.
	Rejects map[RejectKind]int
}

// EvaluateQuality scores a payload as valid-cells / (timestamps × pollutants)
// and accepts it only when the score is strictly greater than 0.5. Payloads
// with no hourly block or no timestamps score 0 and are rejected outright.
func EvaluateQuality(payload *HourlyPayload) QualityReport {
	report := QualityReport{Rejects: map[RejectKind]int{}}

	if payload == nil || payload.Hourly == nil || len(payload.Hourly.Time) == 0 {
		report.Rejects[RejectEmpty]++
		return report
	}

	hourly := payload.Hourly
	report.TotalCells = len(hourly.Time) * len(Pollutants)

	for i := range hourly.Time {
		for _, p := range Pollutants {
			series := hourly.Series(p)
			if i >= len(series) {
				report.Rejects[RejectMissing]++
				continue
			}
			if _, kind := ValidateCell(p, series[i]); kind != RejectNone {
				report.Rejects[kind]++
				continue
			}
			report.ValidCells++
		}
	}

	report.Score = float64(report.ValidCells) / float64(report.TotalCells)
	report.Accepted = report.Score > 0.5
	return report
}
