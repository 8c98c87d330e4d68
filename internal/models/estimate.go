package models

import "time"

type ConfidenceLevel string

const (
	ConfidenceVeryHigh ConfidenceLevel = "very_high"
	ConfidenceHigh     ConfidenceLevel = "high"
	ConfidenceMedium   ConfidenceLevel = "medium"
	ConfidenceLow      ConfidenceLevel = "low"
)

// Estimate is the priced and explained answer for one property
type Estimate struct {
	PropertyID      int64           `json:"property_id"`
	Price           int64           `json:"chamgab_price"`
	MinPrice        int64           `json:"min_price"`
	MaxPrice        int64           `json:"max_price"`
	Confidence      float64         `json:"confidence"`
	ConfidenceLevel ConfidenceLevel `json:"confidence_level"`
	Factors         []Factor        `json:"factors"`
	ModelVersion    string          `json:"model_version"`
	CreatedAt       time.Time       `json:"created_at"`
}

type Direction string

const (
	DirectionPositive Direction = "positive"
	DirectionNegative Direction = "negative"
)

// Factor is one explained feature contribution
type Factor struct {
	Name         string    `json:"name"`
	Contribution float64   `json:"contribution"`
	Direction    Direction `json:"direction"`
	Description  string    `json:"description"`
}
