package nexia

import (
	"fmt"
	"net/http"
)

/*
 *   Endpoint resolution for outbound commands.
 *
 *   The same logical capability lives at different URLs depending on the
 *   hardware generation: XL824/XL850/XL1050 units answer on the
 *   /mobile/xxl_thermostats and /mobile/xxl_zones namespaces, while the
 *   UX360 publishes /mobile/diagnostics/... hrefs.  Newer firmware embeds
 *   the correct link as an "actions" map inside the relevant setting or
 *   feature; older firmware has no actions at all.  Rather than switching
 *   on the model everywhere, each logical command carries a search strategy
 *   and a conventional fallback, and resolution happens in one place.
 */

type commandID int

const (
	cmdRunMode commandID = iota
	cmdSetpoints
	cmdZoneMode
	cmdPresetSelected
	cmdReturnToSchedule
	cmdUpdateActiveSensors
	cmdRequestCurrentSensorState
	cmdFanMode
	cmdFanSpeed
	cmdAirCleanerMode
	cmdSchedulingEnabled
	cmdEmergencyHeat
	cmdDehumidify
	cmdHumidify
)

const (
	settingsArea = "settings" // entries keyed by "type"
	featuresArea = "features" // entries keyed by "name"
)

type endpointSpec struct {
	area     string // which JSON area holds the action links
	key      string // key to search for within that area
	action   string // preferred action name, tried after "self"
	endpoint string // conventional path element for the fallback URL
}

var commandTable = map[commandID]endpointSpec{
	cmdRunMode:                   {settingsArea, "run_mode", "update_run_mode", "run_mode"},
	cmdSetpoints:                 {settingsArea, "setpoints", "update_setpoints", "setpoints"},
	cmdZoneMode:                  {settingsArea, "zone_mode", "update_zone_mode", "zone_mode"},
	cmdPresetSelected:            {settingsArea, "preset_selected", "update_preset_selected", "preset_selected"},
	cmdReturnToSchedule:          {settingsArea, "return_to_schedule", "return_to_schedule", "return_to_schedule"},
	cmdUpdateActiveSensors:       {featuresArea, "room_iq_sensors", "update_active_sensors", "update_active_sensors"},
	cmdRequestCurrentSensorState: {featuresArea, "room_iq_sensors", "request_current_state", "request_current_sensor_state"},
	cmdFanMode:                   {featuresArea, "thermostat_fan_mode", "update_thermostat_fan_mode", "fan_mode"},
	cmdFanSpeed:                  {settingsArea, "fan_speed", "update_fan_speed", "fan_speed"},
	cmdAirCleanerMode:            {settingsArea, "air_cleaner_mode", "update_air_cleaner_mode", "air_cleaner_mode"},
	cmdSchedulingEnabled:         {settingsArea, "scheduling_enabled", "update_scheduling_enabled", "scheduling_enabled"},
	cmdEmergencyHeat:             {settingsArea, "emergency_heat", "update_emergency_heat", "emergency_heat"},
	cmdDehumidify:                {settingsArea, "dehumidify", "update_dehumidify", "dehumidify"},
	cmdHumidify:                  {settingsArea, "humidify", "update_humidify", "humidify"},
}

// resolveEndpoint determines the URL and method for a logical command given
// the entity's current document.  fallbackBase is the conventional REST base
// for the entity, e.g. <mobile>/xxl_zones/<id>.
func (h *Home) resolveEndpoint(doc rawDocument, cmd commandID, fallbackBase string) (string, string, error) {
	spec, ok := commandTable[cmd]
	if !ok {
		return "", "", &ConfigurationError{Message: fmt.Sprintf("unknown command id %d", cmd)}
	}

	action := h.findAction(doc, spec)
	if action == nil {
		// Older hardware carries no embedded links; build the
		// conventional path instead.
		return fallbackBase + "/" + spec.endpoint, http.MethodPost, nil
	}

	method := action.Method
	if method == "" {
		method = http.MethodPost
	}
	if method != http.MethodPost {
		return "", "", &ConfigurationError{
			Message: fmt.Sprintf("action for %q resolved to method %s which is not supported", spec.key, method),
		}
	}

	url, err := h.ResolveURL(action.Href)
	if err != nil {
		return "", "", err
	}
	return url, method, nil
}

// findAction searches the document area named by the spec for an embedded
// action link, preferring "self" over the command's own action name.
func (h *Home) findAction(doc rawDocument, spec endpointSpec) *Action {
	var actions map[string]Action

	switch spec.area {
	case settingsArea:
		settings, err := decodeSettings(doc)
		if err != nil {
			return nil
		}
		setting, ok := findSetting(settings, spec.key)
		if !ok {
			return nil
		}
		actions = setting.Actions
	case featuresArea:
		features, err := decodeFeatures(doc)
		if err != nil {
			return nil
		}
		feature, ok := findFeature(features, spec.key)
		if !ok {
			return nil
		}
		actions = feature.Actions
	}

	if len(actions) == 0 {
		return nil
	}
	if action, ok := actions["self"]; ok {
		return &action
	}
	if action, ok := actions[spec.action]; ok {
		return &action
	}
	return nil
}
