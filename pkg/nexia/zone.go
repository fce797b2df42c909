package nexia

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Zone wraps one zone record of a thermostat.  Single-zone systems are
// modelled the same way: the API emits one zone whose settings array is
// empty, with the controls living on the parent thermostat instead.
type Zone struct {
	thermostat *Thermostat
	id         DeviceID
	doc        rawDocument
}

func newZone(t *Thermostat, doc rawDocument) *Zone {
	z := &Zone{thermostat: t, doc: doc}
	z.id, _ = doc.recordID()
	return z
}

// RecordID implements mergeable.
func (z *Zone) RecordID() DeviceID {
	return z.id
}

func (z *Zone) applyUpdate(rec rawDocument) {
	z.doc.mergeFrom(rec)
}

// ID returns the vendor identifier of the zone.
func (z *Zone) ID() DeviceID {
	return z.id
}

// Name returns the zone name.
func (z *Zone) Name() string {
	name, _ := z.doc.stringKey("name")
	return name
}

// Temperature returns the zone temperature in the thermostat's unit.
func (z *Zone) Temperature() float64 {
	var temp float64
	_ = z.doc.decodeKey("temperature", &temp)
	return temp
}

func (z *Zone) setpoints() (heat, cool float64) {
	var sp struct {
		Heat float64 `json:"heat"`
		Cool float64 `json:"cool"`
	}
	_ = z.doc.decodeKey("setpoints", &sp)
	return sp.Heat, sp.Cool
}

// HeatingSetpoint returns the heating setpoint in the thermostat's unit.
func (z *Zone) HeatingSetpoint() float64 {
	heat, _ := z.setpoints()
	return heat
}

// CoolingSetpoint returns the cooling setpoint in the thermostat's unit.
func (z *Zone) CoolingSetpoint() float64 {
	_, cool := z.setpoints()
	return cool
}

// CurrentMode returns the mode the zone is currently in, which may differ
// from the requested mode while the system transitions.
func (z *Zone) CurrentMode() string {
	setting, ok := z.zoneSetting("zone_mode")
	if !ok {
		return ""
	}
	return strings.ToUpper(setting.CurrentValue.String())
}

// RequestedMode returns the mode requested on the unit, one of
// OperationModes.
func (z *Zone) RequestedMode() string {
	feature, ok := z.zoneFeature("thermostat_mode")
	if !ok {
		return ""
	}
	var mode struct {
		Value Scalar `json:"value"`
	}
	if err := feature.Decode(&mode); err != nil {
		return ""
	}
	return strings.ToUpper(mode.Value.String())
}

// Presets lists the preset labels available on the zone.
func (z *Zone) Presets() []string {
	setting, ok := z.zoneSetting("preset_selected")
	if !ok {
		return nil
	}
	labels := make([]string, 0, len(setting.Options))
	for _, opt := range setting.Options {
		labels = append(labels, opt.Label)
	}
	return labels
}

// Preset returns the label of the currently selected preset.  The current
// value indexes the labels array rather than naming an option.
func (z *Zone) Preset() string {
	setting, ok := z.zoneSetting("preset_selected")
	if !ok {
		return ""
	}
	index, ok := setting.CurrentValue.Int()
	if !ok || index < 0 || index >= len(setting.Labels) {
		return ""
	}
	return setting.Labels[index]
}

// Status returns the zone status, defaulting to idle when absent.
func (z *Zone) Status() string {
	if status, ok := z.doc.stringKey("zone_status"); ok && status != "" {
		return status
	}
	return ZoneIdle
}

// SetpointStatus renders the schedule state the way the mobile app shows
// it, e.g. "Permanent Hold" or "Run Schedule - Home".
func (z *Zone) SetpointStatus() string {
	setting, ok := z.zoneSetting("run_mode")
	if !ok {
		return ""
	}
	current := setting.CurrentValue
	label, _ := optionLabelForValue(setting.Options, current)

	if isHoldValue(current.String()) {
		return label
	}
	preset := z.Preset()
	if preset == "" || preset == PresetModeNone {
		return label
	}
	return fmt.Sprintf("%s - %s", label, preset)
}

// IsCalling reports whether the zone is calling for heat or cool.
func (z *Zone) IsCalling() bool {
	state, ok := z.doc.stringKey("operating_state")
	if !ok || state == "" || state == DamperClosed {
		return false
	}
	return true
}

// IsInPermanentHold reports whether the zone holds its setpoints rather
// than following the schedule.
func (z *Zone) IsInPermanentHold() bool {
	setting, ok := z.zoneSetting("run_mode")
	if !ok {
		return false
	}
	return isHoldValue(setting.CurrentValue.String())
}

func isHoldValue(value string) bool {
	for _, v := range holdValues {
		if v == value {
			return true
		}
	}
	return false
}

func isResumeValue(value string) bool {
	for _, v := range resumeValues {
		if v == value {
			return true
		}
	}
	return false
}

////////////////////////////////////////////////////////////////////////
// Set methods

// ReturnToSchedule releases a hold and resumes the zone's schedule.
//
// Legacy single-zone systems expose no run_mode options; those always get
// the bare return_to_schedule command.  Zoned systems post the resume value
// their run_mode options advertise, and skip the call entirely when no hold
// is active.
func (z *Zone) ReturnToSchedule(ctx context.Context) error {
	if !z.hasZoning() {
		return z.postAndUpdate(ctx, cmdReturnToSchedule, map[string]interface{}{})
	}
	if !z.IsInPermanentHold() {
		return nil
	}

	resumeValue := HoldResumeSchedule
	if setting, ok := z.zoneSetting("run_mode"); ok {
		for _, opt := range setting.Options {
			if isResumeValue(opt.Value.String()) {
				resumeValue = opt.Value.String()
				break
			}
		}
	}
	return z.postAndUpdate(ctx, cmdRunMode, map[string]interface{}{"value": resumeValue})
}

// PermanentHold holds the zone at its current setpoints.
func (z *Zone) PermanentHold(ctx context.Context) error {
	heat, cool := z.setpoints()
	return z.PermanentHoldWithSetpoints(ctx, heat, cool)
}

// PermanentHoldWithSetpoints holds the zone at the given setpoints.
func (z *Zone) PermanentHoldWithSetpoints(ctx context.Context, heatTemperature, coolTemperature float64) error {
	if !z.IsInPermanentHold() {
		holdValue := HoldPermanent
		if setting, ok := z.zoneSetting("run_mode"); ok {
			for _, opt := range setting.Options {
				if isHoldValue(opt.Value.String()) {
					holdValue = opt.Value.String()
					break
				}
			}
		}
		if err := z.postAndUpdate(ctx, cmdRunMode, map[string]interface{}{"value": holdValue}); err != nil {
			return err
		}
	}
	return z.setSetpoints(ctx, heatTemperature, coolTemperature)
}

// SetHeatCoolTemp sets both setpoints of the zone.
func (z *Zone) SetHeatCoolTemp(ctx context.Context, heatTemperature, coolTemperature float64) error {
	return z.setSetpoints(ctx, z.roundTemp(heatTemperature), z.roundTemp(coolTemperature))
}

// SetTargetTemperature sets a single target.  In COOL or HEAT the target
// anchors the active setpoint and the other follows at deadband distance;
// in AUTO the target is straddled by half a deadband on each side.
func (z *Zone) SetTargetTemperature(ctx context.Context, target float64) error {
	deadband, err := z.thermostat.Deadband()
	if err != nil {
		return err
	}

	currentHeat, currentCool := z.setpoints()
	var heat, cool float64

	switch z.CurrentMode() {
	case OperationModeCool:
		cool = z.roundTemp(target)
		heat = math.Min(currentHeat, cool-deadband)
	case OperationModeHeat:
		heat = z.roundTemp(target)
		cool = math.Max(currentCool, heat+deadband)
	default:
		half := math.Ceil(deadband / 2)
		cool = z.roundTemp(target) + half
		heat = z.roundTemp(target) - half
	}

	return z.setSetpoints(ctx, heat, cool)
}

// CheckHeatCoolSetpoints validates a setpoint pair against the unit's
// deadband and limits without touching the network.
func (z *Zone) CheckHeatCoolSetpoints(heatTemperature, coolTemperature float64) error {
	deadband, err := z.thermostat.Deadband()
	if err != nil {
		return err
	}
	minTemperature, maxTemperature, err := z.thermostat.SetpointLimits()
	if err != nil {
		return err
	}

	heat := z.roundTemp(heatTemperature)
	cool := z.roundTemp(coolTemperature)

	if heat >= cool {
		return &ValidationError{
			Message: fmt.Sprintf("the heat setpoint (%g) must be less than the cool setpoint (%g)", heat, cool),
		}
	}
	if cool-heat < deadband {
		return &ValidationError{
			Message: fmt.Sprintf("the heat and cool setpoints must be at least %g degrees different", deadband),
		}
	}
	if heat > maxTemperature {
		return &ValidationError{
			Message: fmt.Sprintf("the heat setpoint (%g) must be less than the maximum temperature of %g degrees", heat, maxTemperature),
		}
	}
	if cool < minTemperature {
		return &ValidationError{
			Message: fmt.Sprintf("the cool setpoint (%g) must be greater than the minimum temperature of %g degrees", cool, minTemperature),
		}
	}
	return nil
}

func (z *Zone) setSetpoints(ctx context.Context, heatTemperature, coolTemperature float64) error {
	if err := z.CheckHeatCoolSetpoints(heatTemperature, coolTemperature); err != nil {
		return err
	}
	currentHeat, currentCool := z.setpoints()
	if currentHeat == heatTemperature && currentCool == coolTemperature {
		return nil
	}
	return z.postAndUpdate(ctx, cmdSetpoints, map[string]interface{}{
		"heat": heatTemperature,
		"cool": coolTemperature,
	})
}

// SetPreset selects a preset by its label; no-op when already selected.
func (z *Zone) SetPreset(ctx context.Context, preset string) error {
	if z.Preset() == preset {
		return nil
	}
	setting, ok := z.zoneSetting("preset_selected")
	if !ok {
		return &ValidationError{Message: "this zone does not support presets"}
	}
	value := newScalar(0)
	if v, ok := optionValueForLabel(setting.Options, preset); ok {
		value = v
	}
	return z.postAndUpdate(ctx, cmdPresetSelected, map[string]interface{}{"value": value})
}

// SetMode requests an operation mode, one of OperationModes.
func (z *Zone) SetMode(ctx context.Context, mode string) error {
	valid := false
	for _, m := range OperationModes {
		if m == mode {
			valid = true
			break
		}
	}
	if !valid {
		return &ValidationError{
			Message: fmt.Sprintf("invalid mode %q, select one of the following: %v", mode, OperationModes),
		}
	}
	return z.postAndUpdate(ctx, cmdZoneMode, map[string]interface{}{"value": mode})
}

// roundTemp rounds to the nearest half degree for Celsius units and the
// nearest whole degree for Fahrenheit.
func (z *Zone) roundTemp(temperature float64) float64 {
	if z.thermostat.Unit() == UnitCelsius {
		return math.Round(temperature*2) / 2
	}
	return math.Round(temperature)
}

////////////////////////////////////////////////////////////////////////
// RoomIQ sensors

// Sensors returns the remote sensors paired with the zone, the unit's own
// sensor included.
func (z *Zone) Sensors() []Sensor {
	feature, ok := z.zoneFeature("room_iq_sensors")
	if !ok {
		return nil
	}
	var payload struct {
		Sensors []Sensor `json:"sensors"`
	}
	if err := feature.Decode(&payload); err != nil {
		return nil
	}
	return payload.Sensors
}

// SensorByID finds a sensor by its vendor id.
func (z *Zone) SensorByID(id int64) (Sensor, error) {
	sensors := z.Sensors()
	for _, s := range sensors {
		if s.ID == id {
			return s, nil
		}
	}
	validIDs := make([]string, 0, len(sensors))
	for _, s := range sensors {
		validIDs = append(validIDs, fmt.Sprintf("%d", s.ID))
	}
	return Sensor{}, &NotFoundError{Kind: "Sensor", ID: fmt.Sprintf("%d", id), ValidIDs: validIDs}
}

// ActiveSensorIDs returns the ids of the sensors currently averaged into
// the zone temperature, i.e. those with a non-zero weight.
func (z *Zone) ActiveSensorIDs() []int64 {
	var ids []int64
	for _, s := range z.Sensors() {
		if s.Weight > 0 {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

// SelectRoomIQSensors chooses which sensors participate in the zone
// temperature average.  The command runs on the physical unit; the return
// value reports whether the unit confirmed completion within the polling
// budget.
func (z *Zone) SelectRoomIQSensors(ctx context.Context, sensorIDs []int64) (bool, error) {
	if len(sensorIDs) == 0 {
		return false, &ValidationError{
			Message: "at least one sensor is required when selecting RoomIQ sensors, but got `[]`",
		}
	}
	known := make(map[int64]bool)
	for _, s := range z.Sensors() {
		known[s.ID] = true
	}
	for _, id := range sensorIDs {
		if !known[id] {
			return false, &ValidationError{Message: fmt.Sprintf("RoomIQ sensor with id %d not present", id)}
		}
	}

	requestURL, _, err := z.thermostat.home.resolveEndpoint(z.doc, cmdUpdateActiveSensors, z.fallbackBase())
	if err != nil {
		return false, err
	}
	return z.thermostat.home.firePolledCommand(ctx, requestURL, map[string]interface{}{
		"sensor_ids": sensorIDs,
	})
}

// LoadCurrentSensorState asks the unit to push fresh sensor readings to the
// cloud, then waits for the unit to confirm.  Follow up with an Update to
// see the new readings.
func (z *Zone) LoadCurrentSensorState(ctx context.Context) (bool, error) {
	requestURL, _, err := z.thermostat.home.resolveEndpoint(z.doc, cmdRequestCurrentSensorState, z.fallbackBase())
	if err != nil {
		return false, err
	}
	return z.thermostat.home.firePolledCommand(ctx, requestURL, map[string]interface{}{})
}

////////////////////////////////////////////////////////////////////////
// Plumbing

// hasZoning reports whether real zoning is enabled.  Single-zone systems
// emit one zone with an empty settings array.
func (z *Zone) hasZoning() bool {
	settings, err := decodeSettings(z.doc)
	if err != nil {
		return false
	}
	return len(settings) > 0
}

// zoneSetting finds a setting on the zone, falling through to the parent
// thermostat on single-zone systems, where zone_mode is spelled
// system_mode.
func (z *Zone) zoneSetting(typ string) (*Setting, bool) {
	if !z.hasZoning() {
		if typ == "zone_mode" {
			typ = "system_mode"
		}
		return z.thermostat.setting(typ)
	}
	settings, err := decodeSettings(z.doc)
	if err != nil {
		return nil, false
	}
	return findSetting(settings, typ)
}

func (z *Zone) zoneFeature(name string) (*Feature, bool) {
	features, err := decodeFeatures(z.doc)
	if err != nil {
		return nil, false
	}
	return findFeature(features, name)
}

func (z *Zone) fallbackBase() string {
	return fmt.Sprintf("%s/xxl_zones/%s", z.thermostat.home.mobileURL(), z.id)
}

func (z *Zone) postAndUpdate(ctx context.Context, cmd commandID, payload interface{}) error {
	requestURL, _, err := z.thermostat.home.resolveEndpoint(z.doc, cmd, z.fallbackBase())
	if err != nil {
		return err
	}

	body, err := z.thermostat.home.post(ctx, requestURL, payload)
	if err != nil {
		return err
	}

	var envelope struct {
		Result rawDocument `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return &ProtocolError{Message: fmt.Sprintf("malformed command response: %v", err)}
	}
	if len(envelope.Result) > 0 {
		z.applyUpdate(envelope.Result)
	}
	return nil
}
