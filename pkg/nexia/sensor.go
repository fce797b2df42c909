package nexia

// Sensor is one RoomIQ remote sensor as reported inside a zone's
// room_iq_sensors feature.  The built-in sensor of the unit appears here
// too, with type "thermostat".
//
// Capability fields come in has_x / x pairs; the pointer fields are nil
// when the sensor does not report the capability.
type Sensor struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	SerialNumber string  `json:"serial_number"`
	Weight       float64 `json:"weight"`

	Temperature      float64 `json:"temperature"`
	TemperatureValid bool    `json:"temperature_valid"`
	Humidity         float64 `json:"humidity"`
	HumidityValid    bool    `json:"humidity_valid"`

	HasOnline bool  `json:"has_online"`
	Connected *bool `json:"connected"`

	HasBattery   bool  `json:"has_battery"`
	BatteryLevel *int  `json:"battery_level"`
	BatteryLow   *bool `json:"battery_low"`
	BatteryValid *bool `json:"battery_valid"`
}

// IsActive reports whether the sensor participates in the zone temperature
// average.
func (s Sensor) IsActive() bool {
	return s.Weight > 0
}
