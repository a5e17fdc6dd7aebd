package domain

import (
	"strconv"
	"time"
)

// Observation is the decoded upstream response for one location.
type Observation struct {
	Location ObservedPlace  `json:"location"`
	Current  CurrentWeather `json:"current"`
}

// ObservedPlace is the "location" object of the upstream response.
type ObservedPlace struct {
	Name      string  `json:"name"`
	Region    string  `json:"region"`
	Country   string  `json:"country"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	TzID      string  `json:"tz_id"`
	Localtime string  `json:"localtime"`
}

// CurrentWeather is the "current" object of the upstream response.
type CurrentWeather struct {
	LastUpdated string      `json:"last_updated"`
	TempC       float64     `json:"temp_c"`
	TempF       float64     `json:"temp_f"`
	FeelsLikeC  float64     `json:"feelslike_c"`
	FeelsLikeF  float64     `json:"feelslike_f"`
	Humidity    float64     `json:"humidity"`
	WindKph     float64     `json:"wind_kph"`
	WindMph     float64     `json:"wind_mph"`
	WindDegree  float64     `json:"wind_degree"`
	WindDir     string      `json:"wind_dir"`
	GustKph     float64     `json:"gust_kph"`
	GustMph     float64     `json:"gust_mph"`
	PressureMb  float64     `json:"pressure_mb"`
	PressureIn  float64     `json:"pressure_in"`
	PrecipMm    float64     `json:"precip_mm"`
	PrecipIn    float64     `json:"precip_in"`
	Cloud       float64     `json:"cloud"`
	UV          float64     `json:"uv"`
	VisKm       float64     `json:"vis_km"`
	VisMiles    float64     `json:"vis_miles"`
	Condition   Condition   `json:"condition"`
	AirQuality  *AirQuality `json:"air_quality,omitempty"`
}

// Condition is the weather condition category.
type Condition struct {
	Text string `json:"text"`
	Code int    `json:"code"`
}

// AirQuality holds pollutant concentrations and indices.
type AirQuality struct {
	USEPAIndex   int     `json:"us-epa-index"`
	GBDefraIndex int     `json:"gb-defra-index"`
	PM25         float64 `json:"pm2_5"`
	PM10         float64 `json:"pm10"`
	CO           float64 `json:"co"`
	NO2          float64 `json:"no2"`
	O3           float64 `json:"o3"`
	SO2          float64 `json:"so2"`
}

// ExtractRow is one line of the extract file. All values are kept as strings
// so the file is a faithful text rendering of the upstream response.
type ExtractRow struct {
	ExecutionID   string `csv:"execution_id"`
	LocationName  string `csv:"location_name"`
	LocationCode  string `csv:"location_code"`
	Region        string `csv:"region"`
	Country       string `csv:"country"`
	Lat           string `csv:"lat"`
	Lon           string `csv:"lon"`
	TzID          string `csv:"tz_id"`
	Localtime     string `csv:"localtime"`
	TempC         string `csv:"temp_c"`
	TempF         string `csv:"temp_f"`
	FeelsLikeC    string `csv:"feels_like_c"`
	FeelsLikeF    string `csv:"feels_like_f"`
	Humidity      string `csv:"humidity"`
	WindKph       string `csv:"wind_kph"`
	WindMph       string `csv:"wind_mph"`
	WindDegree    string `csv:"wind_degree"`
	WindDir       string `csv:"wind_dir"`
	GustKph       string `csv:"gust_kph"`
	GustMph       string `csv:"gust_mph"`
	PressureMb    string `csv:"pressure_mb"`
	PressureIn    string `csv:"pressure_in"`
	PrecipMm      string `csv:"precip_mm"`
	PrecipIn      string `csv:"precip_in"`
	Cloud         string `csv:"cloud"`
	UV            string `csv:"uv"`
	VisKm         string `csv:"vis_km"`
	VisMiles      string `csv:"vis_miles"`
	ConditionText string `csv:"condition_text"`
	ConditionCode string `csv:"condition_code"`
	AQIUS         string `csv:"aqi_us"`
	AQIGB         string `csv:"aqi_gb"`
	PM25          string `csv:"pm2_5"`
	PM10          string `csv:"pm10"`
	CO            string `csv:"co"`
	NO2           string `csv:"no2"`
	O3            string `csv:"o3"`
	SO2           string `csv:"so2"`
	LastUpdated   string `csv:"last_updated"`
	ExtractTime   string `csv:"extract_time"`
}

// ExtractTimeLayout formats the extract_time column.
const ExtractTimeLayout = "2006-01-02 15:04:05"

// ExtractHeader returns the extract file columns in file order.
func ExtractHeader() []string {
	return []string{
		"execution_id", "location_name", "location_code", "region", "country",
		"lat", "lon", "tz_id", "localtime",
		"temp_c", "temp_f", "feels_like_c", "feels_like_f", "humidity",
		"wind_kph", "wind_mph", "wind_degree", "wind_dir", "gust_kph", "gust_mph",
		"pressure_mb", "pressure_in", "precip_mm", "precip_in",
		"cloud", "uv", "vis_km", "vis_miles",
		"condition_text", "condition_code",
		"aqi_us", "aqi_gb", "pm2_5", "pm10", "co", "no2", "o3", "so2",
		"last_updated", "extract_time",
	}
}

// NewExtractRow renders an observation for the extract file. The configured
// location name and code win over the provider's place name.
func NewExtractRow(executionID string, loc Location, obs Observation, extractedAt time.Time) ExtractRow {
	c := obs.Current
	region := loc.Region
	if region == "" {
		region = obs.Location.Region
	}
	row := ExtractRow{
		ExecutionID:   executionID,
		LocationName:  loc.Name,
		LocationCode:  loc.Code,
		Region:        region,
		Country:       obs.Location.Country,
		Lat:           formatFloat(obs.Location.Lat),
		Lon:           formatFloat(obs.Location.Lon),
		TzID:          obs.Location.TzID,
		Localtime:     obs.Location.Localtime,
		TempC:         formatFloat(c.TempC),
		TempF:         formatFloat(c.TempF),
		FeelsLikeC:    formatFloat(c.FeelsLikeC),
		FeelsLikeF:    formatFloat(c.FeelsLikeF),
		Humidity:      formatFloat(c.Humidity),
		WindKph:       formatFloat(c.WindKph),
		WindMph:       formatFloat(c.WindMph),
		WindDegree:    formatFloat(c.WindDegree),
		WindDir:       c.WindDir,
		GustKph:       formatFloat(c.GustKph),
		GustMph:       formatFloat(c.GustMph),
		PressureMb:    formatFloat(c.PressureMb),
		PressureIn:    formatFloat(c.PressureIn),
		PrecipMm:      formatFloat(c.PrecipMm),
		PrecipIn:      formatFloat(c.PrecipIn),
		Cloud:         formatFloat(c.Cloud),
		UV:            formatFloat(c.UV),
		VisKm:         formatFloat(c.VisKm),
		VisMiles:      formatFloat(c.VisMiles),
		ConditionText: c.Condition.Text,
		ConditionCode: strconv.Itoa(c.Condition.Code),
		LastUpdated:   c.LastUpdated,
		ExtractTime:   extractedAt.Format(ExtractTimeLayout),
	}
	if aq := c.AirQuality; aq != nil {
		row.AQIUS = strconv.Itoa(aq.USEPAIndex)
		row.AQIGB = strconv.Itoa(aq.GBDefraIndex)
		row.PM25 = formatFloat(aq.PM25)
		row.PM10 = formatFloat(aq.PM10)
		row.CO = formatFloat(aq.CO)
		row.NO2 = formatFloat(aq.NO2)
		row.O3 = formatFloat(aq.O3)
		row.SO2 = formatFloat(aq.SO2)
	}
	return row
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
