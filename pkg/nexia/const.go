package nexia

/*
 *   Vendor constants for the Nexia / Trane Home / American Standard Home
 *   mobile API.  The three brands are the same backend behind different
 *   hostnames and app identifiers.
 */

const (
	BrandNexia = "nexia"
	BrandAsair = "asair"
	BrandTrane = "trane"

	nexiaRootURL    = "https://www.mynexia.com"
	nexiaIdentifier = "com.tranetechnologies.nexia"
	asairRootURL    = "https://asairhome.com"
	asairIdentifier = "com.tranetechnologies.asair"
	traneRootURL    = "https://www.tranehome.com"
	traneIdentifier = "com.tranetechnologies.trane"

	appVersion        = "6.0.0"
	DefaultDeviceName = "Home Automation"
)

var brandRootURLs = map[string]string{
	BrandNexia: nexiaRootURL,
	BrandAsair: asairRootURL,
	BrandTrane: traneRootURL,
}

// Run-mode values.  Hardware generations use different vocabularies for the
// same two logical states; holdValues and resumeValues collect every value we
// have seen in the wild (XL824/XL850/XL1050 use permanent_hold/run_schedule,
// the UX360 uses hold/run).
const (
	HoldPermanent      = "permanent_hold"
	HoldResumeSchedule = "run_schedule"
)

var (
	holdValues   = []string{"permanent_hold", "hold"}
	resumeValues = []string{"run_schedule", "resume_schedule", "run"}
)

// Operation modes accepted by SetMode.
const (
	OperationModeAuto = "AUTO"
	OperationModeCool = "COOL"
	OperationModeHeat = "HEAT"
	OperationModeOff  = "OFF"
)

var OperationModes = []string{
	OperationModeAuto,
	OperationModeCool,
	OperationModeHeat,
	OperationModeOff,
}

// Preset names.  The order matters: it maps to the preset number on the unit.
const (
	PresetModeHome  = "Home"
	PresetModeAway  = "Away"
	PresetModeSleep = "Sleep"
	PresetModeNone  = "None"
)

// System status strings reported by the thermostat.
const (
	SystemStatusCool = "Cooling"
	SystemStatusHeat = "Heating"
	SystemStatusWait = "Waiting..."
	SystemStatusIdle = "System Idle"
	SystemStatusOff  = "System Off"
)

var blowerOffStatuses = map[string]bool{
	SystemStatusWait: true,
	SystemStatusIdle: true,
	SystemStatusOff:  true,
}

const (
	AirCleanerModeAuto    = "auto"
	AirCleanerModeQuick   = "quick"
	AirCleanerModeAllergy = "allergy"
)

var AirCleanerModes = []string{
	AirCleanerModeAuto,
	AirCleanerModeQuick,
	AirCleanerModeAllergy,
}

// Humidity setpoint bounds used when the unit does not publish its own list
// of selectable values.
const (
	HumidityMin = 0.35
	HumidityMax = 0.65
)

const (
	UnitCelsius    = "C"
	UnitFahrenheit = "F"
)

const (
	DamperClosed = "Damper Closed"
	DamperOpen   = "Damper Open"
	ZoneIdle     = "Idle"
)
