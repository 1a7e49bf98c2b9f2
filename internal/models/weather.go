package models

// Conditions is the raw current-weather record from the upstream provider.
// Nil fields were absent in the provider response; normalization applies
// defaults before the value is served.
type Conditions struct {
	Temperature     *float64
	FeelsLike       *float64
	Humidity        *float64
	WindSpeed       *float64
	Description     *string
	MainDescription *string
}

// Snapshot is the normalized current-weather response served to callers.
// Numeric fields are rounded to one decimal; text fields default to "N/A".
type Snapshot struct {
	CurrentTemp     float64 `json:"current_Temp"`
	FeelsLikeTemp   float64 `json:"feels_like_temp"`
	Humidity        float64 `json:"humidity"`
	WindSpeed       float64 `json:"wind_speed"`
	Description     string  `json:"description"`
	MainDescription string  `json:"main_description"`
}

// ForecastPeriod is one provider-native forecast entry. Served as a sequence;
// no normalization is applied to forecast payloads.
type ForecastPeriod struct {
	Timestamp   int64   `json:"dt"`
	TimeText    string  `json:"dt_txt,omitempty"`
	Temperature float64 `json:"temp"`
	FeelsLike   float64 `json:"feels_like"`
	Humidity    float64 `json:"humidity"`
	WindSpeed   float64 `json:"wind_speed"`
	Description string  `json:"description"`
	Conditions  string  `json:"main,omitempty"`
}

// CityList is the /get_cities response body.
type CityList struct {
	Cities []string `json:"cities"`
}
