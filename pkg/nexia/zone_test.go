package nexia

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// serverHome loads the fixture into a Home wired to an httptest server so
// zone commands can be exercised end to end.
func serverHome(t *testing.T, handler http.HandlerFunc) (*Home, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	home := testHome(t, server)
	home.cfg.PollInterval = time.Millisecond
	home.cfg.MaxPolls = 5
	if err := home.UpdateFromJSON(loadFixture(t, "house.json")); err != nil {
		t.Fatalf("UpdateFromJSON: %v", err)
	}
	return home, server
}

func fixtureZone(t *testing.T, home *Home, id DeviceID) *Zone {
	t.Helper()
	thermostat, err := home.ThermostatByID("2059661")
	if err != nil {
		t.Fatalf("ThermostatByID: %v", err)
	}
	zone, err := thermostat.ZoneByID(id)
	if err != nil {
		t.Fatalf("ZoneByID: %v", err)
	}
	return zone
}

func TestZoneReadings(t *testing.T) {
	home := fixtureHome(t)
	zone := fixtureZone(t, home, "83261002")

	if got, want := zone.Name(), "Living East"; got != want {
		t.Errorf("Name = %q, want %q", got, want)
	}
	if got, want := zone.Temperature(), 72.0; got != want {
		t.Errorf("Temperature = %v, want %v", got, want)
	}
	if got, want := zone.HeatingSetpoint(), 63.0; got != want {
		t.Errorf("HeatingSetpoint = %v, want %v", got, want)
	}
	if got, want := zone.CoolingSetpoint(), 80.0; got != want {
		t.Errorf("CoolingSetpoint = %v, want %v", got, want)
	}
	if got, want := zone.CurrentMode(), OperationModeAuto; got != want {
		t.Errorf("CurrentMode = %q, want %q", got, want)
	}
	if got, want := zone.RequestedMode(), OperationModeAuto; got != want {
		t.Errorf("RequestedMode = %q, want %q", got, want)
	}
	if got, want := zone.Status(), "Relieving Air"; got != want {
		t.Errorf("Status = %q, want %q", got, want)
	}
	if !zone.IsCalling() {
		t.Error("zone with open damper should be calling")
	}
	if !zone.IsInPermanentHold() {
		t.Error("zone should be in permanent hold")
	}
	if diff := cmp.Diff([]string{"None", "Home", "Away", "Sleep"}, zone.Presets()); diff != "" {
		t.Errorf("Presets mismatch (-want +got):\n%s", diff)
	}
	if got, want := zone.Preset(), "None"; got != want {
		t.Errorf("Preset = %q, want %q", got, want)
	}
	if got, want := zone.SetpointStatus(), "Permanent Hold"; got != want {
		t.Errorf("SetpointStatus = %q, want %q", got, want)
	}
}

func TestZoneSetpointStatusFollowingSchedule(t *testing.T) {
	home := fixtureHome(t)
	zone := fixtureZone(t, home, "83261005")

	if zone.IsInPermanentHold() {
		t.Error("zone should be following its schedule")
	}
	if got, want := zone.Status(), ZoneIdle; got != want {
		t.Errorf("Status = %q, want %q", got, want)
	}
	if zone.IsCalling() {
		t.Error("idle zone should not be calling")
	}
	if got, want := zone.SetpointStatus(), "Run Schedule - Home"; got != want {
		t.Errorf("SetpointStatus = %q, want %q", got, want)
	}
}

func TestCheckHeatCoolSetpoints(t *testing.T) {
	home := fixtureHome(t)
	zone := fixtureZone(t, home, "83261002")

	// Fixture limits: deadband 3, heat min 55, cool max 99.
	tests := []struct {
		name       string
		heat, cool float64
		wantErr    string
	}{
		{"valid", 70, 76, ""},
		{"inverted", 76, 70, "must be less than the cool setpoint"},
		{"deadband", 74, 76, "at least 3 degrees different"},
		{"heat too high", 100, 104, "maximum temperature"},
		{"cool too low", 45, 50, "minimum temperature"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := zone.CheckHeatCoolSetpoints(tc.heat, tc.cool)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("CheckHeatCoolSetpoints: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error")
			}
			if _, ok := err.(*ValidationError); !ok {
				t.Fatalf("error = %T, want *ValidationError", err)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not contain %q", err.Error(), tc.wantErr)
			}
		})
	}
}

func TestSetHeatCoolTempRoundsAndPosts(t *testing.T) {
	var payload struct {
		Heat float64 `json:"heat"`
		Cool float64 `json:"cool"`
	}
	var path string
	home, _ := serverHome(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Errorf("decoding payload: %v", err)
		}
		_, _ = w.Write([]byte(`{"result": {"id": 83261002, "setpoints": {"heat": 70, "cool": 77}}}`))
	})
	zone := fixtureZone(t, home, "83261002")

	if err := zone.SetHeatCoolTemp(context.Background(), 70.4, 76.6); err != nil {
		t.Fatalf("SetHeatCoolTemp: %v", err)
	}

	if got, want := path, "/mobile/xxl_zones/83261002/setpoints"; got != want {
		t.Errorf("path = %q, want %q", got, want)
	}
	if payload.Heat != 70 || payload.Cool != 77 {
		t.Errorf("posted setpoints = (%v, %v), want (70, 77)", payload.Heat, payload.Cool)
	}

	// The command response must have been merged back in.
	if got, want := zone.CoolingSetpoint(), 77.0; got != want {
		t.Errorf("CoolingSetpoint = %v, want %v", got, want)
	}
}

func TestSetSetpointsSkippedWhenUnchanged(t *testing.T) {
	var requests int32
	home, _ := serverHome(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
	})
	zone := fixtureZone(t, home, "83261002")

	// Fixture values: heat 63, cool 80.
	if err := zone.SetHeatCoolTemp(context.Background(), 63, 80); err != nil {
		t.Fatalf("SetHeatCoolTemp: %v", err)
	}
	if got := atomic.LoadInt32(&requests); got != 0 {
		t.Errorf("server saw %d requests, want 0", got)
	}
}

func TestSetTargetTemperatureAnchorsOnMode(t *testing.T) {
	var payload struct {
		Heat float64 `json:"heat"`
		Cool float64 `json:"cool"`
	}
	home, _ := serverHome(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &payload)
		_, _ = w.Write([]byte(`{"result": {"id": 83261005}}`))
	})
	// Zone 83261005 is in COOL mode with heat 60 / cool 85.
	zone := fixtureZone(t, home, "83261005")

	if err := zone.SetTargetTemperature(context.Background(), 75); err != nil {
		t.Fatalf("SetTargetTemperature: %v", err)
	}

	// Cool anchors at the target; heat keeps its value, already more than
	// a deadband away.
	if payload.Cool != 75 || payload.Heat != 60 {
		t.Errorf("posted setpoints = (heat %v, cool %v), want (60, 75)", payload.Heat, payload.Cool)
	}
}

func TestReturnToScheduleWhenHolding(t *testing.T) {
	var payload struct {
		Value string `json:"value"`
	}
	var path string
	home, _ := serverHome(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &payload)
		_, _ = w.Write([]byte(`{"result": {"id": 83261002}}`))
	})
	zone := fixtureZone(t, home, "83261002")

	if err := zone.ReturnToSchedule(context.Background()); err != nil {
		t.Fatalf("ReturnToSchedule: %v", err)
	}

	if got, want := path, "/mobile/xxl_zones/83261002/run_mode"; got != want {
		t.Errorf("path = %q, want %q", got, want)
	}
	if got, want := payload.Value, HoldResumeSchedule; got != want {
		t.Errorf("posted value = %q, want %q", got, want)
	}
}

func TestReturnToScheduleNoopWithoutHold(t *testing.T) {
	var requests int32
	home, _ := serverHome(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
	})
	// Zone 83261005 already follows its schedule.
	zone := fixtureZone(t, home, "83261005")

	if err := zone.ReturnToSchedule(context.Background()); err != nil {
		t.Fatalf("ReturnToSchedule: %v", err)
	}
	if got := atomic.LoadInt32(&requests); got != 0 {
		t.Errorf("server saw %d requests, want 0", got)
	}
}

func TestReturnToScheduleLegacySingleZone(t *testing.T) {
	// Single-zone systems have an empty zone settings array and always get
	// the bare command, hold or not.
	var path string
	home, _ := serverHome(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_, _ = w.Write([]byte(`{"result": {"id": 90001}}`))
	})
	thermostat, _ := home.ThermostatByID("2059661")
	zone := newZone(thermostat, mustDocument(t, `{"id": 90001, "name": "House", "settings": []}`))

	if err := zone.ReturnToSchedule(context.Background()); err != nil {
		t.Fatalf("ReturnToSchedule: %v", err)
	}
	if got, want := path, "/mobile/xxl_zones/90001/return_to_schedule"; got != want {
		t.Errorf("path = %q, want %q", got, want)
	}
}

func TestZoneSettingFallsBackToThermostat(t *testing.T) {
	home := fixtureHome(t)
	thermostat, _ := home.ThermostatByID("2059661")

	// A zoneless zone asking for zone_mode reads the thermostat's
	// system_mode setting instead.
	zone := newZone(thermostat, mustDocument(t, `{"id": 90001, "settings": [], "features": []}`))
	thermostat.doc.mergeFrom(mustDocument(t, `{"settings": [
		{"type": "system_mode", "current_value": "heat", "options": [
			{"label": "Heating", "value": "heat"}
		]},
		{"type": "fan_mode", "current_value": "auto", "options": [{"label": "Auto", "value": "auto"}]}
	]}`))

	if got, want := zone.CurrentMode(), OperationModeHeat; got != want {
		t.Errorf("CurrentMode = %q, want %q", got, want)
	}
}

func TestPermanentHoldPostsRunModeThenSetpoints(t *testing.T) {
	var paths []string
	home, _ := serverHome(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		_, _ = w.Write([]byte(`{"result": {"id": 83261005}}`))
	})
	// Zone 83261005 follows its schedule, so the hold must be requested
	// before the setpoints.
	zone := fixtureZone(t, home, "83261005")

	if err := zone.PermanentHoldWithSetpoints(context.Background(), 62, 84); err != nil {
		t.Fatalf("PermanentHoldWithSetpoints: %v", err)
	}

	want := []string{
		"/mobile/xxl_zones/83261005/run_mode",
		"/mobile/xxl_zones/83261005/setpoints",
	}
	if diff := cmp.Diff(want, paths); diff != "" {
		t.Errorf("request order mismatch (-want +got):\n%s", diff)
	}
}

func TestSetModeValidates(t *testing.T) {
	home := fixtureHome(t)
	zone := fixtureZone(t, home, "83261002")

	err := zone.SetMode(context.Background(), "TURBO")
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("error = %T (%v), want *ValidationError", err, err)
	}
}

func TestSetPresetPostsOptionValue(t *testing.T) {
	var payload struct {
		Value int `json:"value"`
	}
	home, _ := serverHome(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &payload)
		_, _ = w.Write([]byte(`{"result": {"id": 83261002}}`))
	})
	zone := fixtureZone(t, home, "83261002")

	if err := zone.SetPreset(context.Background(), "Away"); err != nil {
		t.Fatalf("SetPreset: %v", err)
	}
	if got, want := payload.Value, 2; got != want {
		t.Errorf("posted value = %d, want %d", got, want)
	}
}

func TestSetPresetSkippedWhenUnchanged(t *testing.T) {
	var requests int32
	home, _ := serverHome(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
	})
	zone := fixtureZone(t, home, "83261002")

	if err := zone.SetPreset(context.Background(), "None"); err != nil {
		t.Fatalf("SetPreset: %v", err)
	}
	if got := atomic.LoadInt32(&requests); got != 0 {
		t.Errorf("server saw %d requests, want 0", got)
	}
}

func TestZoneSensors(t *testing.T) {
	home := fixtureHome(t)
	zone := fixtureZone(t, home, "83261002")

	sensors := zone.Sensors()
	if len(sensors) != 2 {
		t.Fatalf("got %d sensors, want 2", len(sensors))
	}

	sensor, err := zone.SensorByID(1002)
	if err != nil {
		t.Fatalf("SensorByID: %v", err)
	}
	if got, want := sensor.Name, "Master Bedroom"; got != want {
		t.Errorf("sensor Name = %q, want %q", got, want)
	}
	if sensor.BatteryLevel == nil || *sensor.BatteryLevel != 80 {
		t.Errorf("BatteryLevel = %v, want 80", sensor.BatteryLevel)
	}
	if sensor.Connected == nil || !*sensor.Connected {
		t.Errorf("Connected = %v, want true", sensor.Connected)
	}

	if _, err := zone.SensorByID(9999); err == nil {
		t.Error("unknown sensor id accepted")
	}

	if diff := cmp.Diff([]int64{1001, 1002}, zone.ActiveSensorIDs()); diff != "" {
		t.Errorf("ActiveSensorIDs mismatch (-want +got):\n%s", diff)
	}
}

func TestSelectRoomIQSensorsValidation(t *testing.T) {
	home := fixtureHome(t)
	zone := fixtureZone(t, home, "83261002")

	_, err := zone.SelectRoomIQSensors(context.Background(), nil)
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("empty selection error = %T (%v), want *ValidationError", err, err)
	}

	_, err = zone.SelectRoomIQSensors(context.Background(), []int64{1001, 9999})
	verr, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("unknown id error = %T (%v), want *ValidationError", err, err)
	}
	if !strings.Contains(verr.Message, "9999") {
		t.Errorf("error %q does not name the unknown id", verr.Message)
	}
}

func TestSelectRoomIQSensorsFireThenPoll(t *testing.T) {
	var polls int32
	var payload struct {
		SensorIDs []int64 `json:"sensor_ids"`
	}
	home, _ := serverHome(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/mobile/xxl_zones/83261002/update_active_sensors":
			body, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(body, &payload)
			_, _ = w.Write([]byte(`{"result": {"polling_path": "/backstage/announcements/12345"}}`))
		case "/backstage/announcements/12345":
			if atomic.AddInt32(&polls, 1) == 1 {
				// Not ready yet: the literal string null.
				_, _ = w.Write([]byte("null"))
				return
			}
			_, _ = w.Write([]byte(`{"status": "success"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})
	zone := fixtureZone(t, home, "83261002")

	completed, err := zone.SelectRoomIQSensors(context.Background(), []int64{1001})
	if err != nil {
		t.Fatalf("SelectRoomIQSensors: %v", err)
	}
	if !completed {
		t.Error("selection did not complete")
	}
	if diff := cmp.Diff([]int64{1001}, payload.SensorIDs); diff != "" {
		t.Errorf("posted sensor_ids mismatch (-want +got):\n%s", diff)
	}
	if got := atomic.LoadInt32(&polls); got != 2 {
		t.Errorf("poll count = %d, want 2", got)
	}
}

func TestSelectRoomIQSensorsPollBudgetExhausted(t *testing.T) {
	home, _ := serverHome(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/mobile/xxl_zones/83261002/update_active_sensors":
			_, _ = w.Write([]byte(`{"result": {"polling_path": "/backstage/announcements/12345"}}`))
		default:
			_, _ = w.Write([]byte("null"))
		}
	})
	zone := fixtureZone(t, home, "83261002")

	completed, err := zone.SelectRoomIQSensors(context.Background(), []int64{1001})
	if err != nil {
		t.Fatalf("SelectRoomIQSensors: %v", err)
	}
	if completed {
		t.Error("selection reported complete despite the unit never answering")
	}
}

func TestLoadCurrentSensorState(t *testing.T) {
	var requested bool
	home, _ := serverHome(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/mobile/xxl_zones/83261002/request_current_sensor_state":
			requested = true
			_, _ = w.Write([]byte(`{"result": {"polling_path": "/backstage/announcements/777"}}`))
		case "/backstage/announcements/777":
			_, _ = w.Write([]byte(`{"status": "success"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})
	zone := fixtureZone(t, home, "83261002")

	completed, err := zone.LoadCurrentSensorState(context.Background())
	if err != nil {
		t.Fatalf("LoadCurrentSensorState: %v", err)
	}
	if !completed || !requested {
		t.Errorf("completed = %v, requested = %v, want both true", completed, requested)
	}
}
