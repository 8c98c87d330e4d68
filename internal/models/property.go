package models

import "time"

// Transaction is a recorded sale. Rows are written once at collection time
// and never updated.
type Transaction struct {
	ID              int64     `json:"id" gorm:"primaryKey"`
	Price           int64     `json:"price" gorm:"not null"`
	AreaExclusive   float64   `json:"area_exclusive" gorm:"not null;index:idx_tx_district_area"`
	Floor           int       `json:"floor"`
	TransactionDate time.Time `json:"transaction_date" gorm:"not null;index"`
	Province        string    `json:"province" gorm:"index:idx_tx_district_area"`
	District        string    `json:"district" gorm:"index:idx_tx_district_area"`
	SubDistrict     string    `json:"sub_district"`
	BuildingName    string    `json:"building_name" gorm:"index"`
	BuildYear       int       `json:"build_year"`
	RegionCode      string    `json:"region_code"`
	Latitude        *float64  `json:"latitude"`
	Longitude       *float64  `json:"longitude"`
	CreatedAt       time.Time `json:"created_at"`
}

// Property is a reference entity the prediction path is asked about
type Property struct {
	ID            int64     `json:"id" gorm:"primaryKey"`
	Province      string    `json:"province"`
	District      string    `json:"district" gorm:"index"`
	SubDistrict   string    `json:"sub_district"`
	BuildingName  string    `json:"building_name"`
	AreaExclusive float64   `json:"area_exclusive"`
	Floor         int       `json:"floor"`
	TotalFloors   *int      `json:"total_floors"`
	BuildYear     *int      `json:"build_year"`
	Latitude      *float64  `json:"latitude"`
	Longitude     *float64  `json:"longitude"`
	ComplexID     *int64    `json:"complex_id" gorm:"index"`
	Complex       *Complex  `json:"complex,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Complex groups the properties of one physical estate
type Complex struct {
	ID           int64     `json:"id" gorm:"primaryKey"`
	Name         string    `json:"name" gorm:"not null"`
	Province     string    `json:"province"`
	District     string    `json:"district"`
	TotalUnits   *int      `json:"total_units"`
	ParkingRatio *float64  `json:"parking_ratio"`
	Brand        string    `json:"brand"`
	BuildYear    *int      `json:"build_year"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// POI is a point of interest used for distance and count features
type POI struct {
	ID        int64   `json:"id" gorm:"primaryKey"`
	Category  string  `json:"category" gorm:"index"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude" gorm:"index:idx_poi_coordinates"`
	Longitude float64 `json:"longitude" gorm:"index:idx_poi_coordinates"`
}

// MarketIndicator holds monthly macro indicators
type MarketIndicator struct {
	Month        time.Time `json:"month" gorm:"primaryKey"`
	BaseRate     float64   `json:"base_rate"`
	MortgageRate float64   `json:"mortgage_rate"`
	JeonseRatio  float64   `json:"jeonse_ratio"`
	BuyerIndex   float64   `json:"buyer_index"`
}

// FootfallRecord is the average daily floating population of a district in a month
type FootfallRecord struct {
	Province   string    `json:"province" gorm:"primaryKey"`
	District   string    `json:"district" gorm:"primaryKey"`
	Month      time.Time `json:"month" gorm:"primaryKey"`
	DailyCount float64   `json:"daily_count"`
}

// Location is an optional coordinate pair
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Location returns the property coordinates, if both are known
func (p *Property) Location() *Location {
	if p.Latitude == nil || p.Longitude == nil {
		return nil
	}
	return &Location{Latitude: *p.Latitude, Longitude: *p.Longitude}
}

// Location returns the transaction coordinates, if both are known
func (t *Transaction) Location() *Location {
	if t.Latitude == nil || t.Longitude == nil {
		return nil
	}
	return &Location{Latitude: *t.Latitude, Longitude: *t.Longitude}
}
