package nexia

import (
	"context"
	"sync"
	"time"

	"github.com/hvackit/nexia/pkg/debounce"
)

const defaultHarmonizeDelay = 5 * time.Second

// RefetchFunc asks the owner to refresh the zone's state from the cloud,
// typically (*Home).Update.
type RefetchFunc func(ctx context.Context) error

// RoomIQHarmonizer coalesces rapid add/remove toggles of a zone's RoomIQ
// sensors into a single selection request.
//
// Callers toggle sensors one at a time (a switch row per sensor in a UI);
// each toggle mutates an optimistic local selection and rearms a debounce
// timer.  When the burst goes quiet the accumulated selection is sent to
// the unit in one request, followed by a refetch so the zone document picks
// up the unit's answer.  An empty or unchanged selection sends nothing and
// snaps the optimistic state back to the zone's actual sensors, since the
// unit rejects an empty selection.
//
// All methods are safe for concurrent use.
type RoomIQHarmonizer struct {
	zone    *Zone
	refetch RefetchFunc
	notify  func()

	mu          sync.Mutex
	selected    map[int64]struct{}
	requestTime time.Time
	stopped     bool

	timer *debounce.SingleShot
}

// NewRoomIQHarmonizer builds a harmonizer seeded from the zone's currently
// active sensors.  refetch is called after every selection request so the
// zone state can be reconciled; notify is called, outside the lock, whenever
// the harmonizer's state changes.  Both may be nil.
func NewRoomIQHarmonizer(zone *Zone, delay time.Duration, refetch RefetchFunc, notify func()) *RoomIQHarmonizer {
	if delay == 0 {
		delay = defaultHarmonizeDelay
	}
	if refetch == nil {
		refetch = func(context.Context) error { return nil }
	}
	if notify == nil {
		notify = func() {}
	}
	h := &RoomIQHarmonizer{
		zone:     zone,
		refetch:  refetch,
		notify:   notify,
		selected: make(map[int64]struct{}),
	}
	for _, id := range zone.ActiveSensorIDs() {
		h.selected[id] = struct{}{}
	}
	h.timer = debounce.NewSingleShot(delay, h.selectSensors)
	return h
}

// TriggerAddSensor adds a sensor to the pending selection and rearms the
// debounce timer.
func (h *RoomIQHarmonizer) TriggerAddSensor(sensorID int64) {
	h.mu.Lock()
	h.requestTime = time.Now()
	h.selected[sensorID] = struct{}{}
	h.mu.Unlock()
	h.timer.Reset()
}

// TriggerRemoveSensor removes a sensor from the pending selection and
// rearms the debounce timer.
func (h *RoomIQHarmonizer) TriggerRemoveSensor(sensorID int64) {
	h.mu.Lock()
	h.requestTime = time.Now()
	delete(h.selected, sensorID)
	h.mu.Unlock()
	h.timer.Reset()
}

// SelectedSensorIDs returns the current optimistic selection.
func (h *RoomIQHarmonizer) SelectedSensorIDs() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.selectedIDsLocked()
}

func (h *RoomIQHarmonizer) selectedIDsLocked() []int64 {
	ids := make([]int64, 0, len(h.selected))
	for id := range h.selected {
		ids = append(ids, id)
	}
	return ids
}

// RequestPending reports whether a triggered selection has not been fully
// handled yet, debounce window included.
func (h *RoomIQHarmonizer) RequestPending() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.requestTime.IsZero()
}

// Shutdown cancels any pending selection and notifies observers once.  A
// request already in flight completes on its own.
func (h *RoomIQHarmonizer) Shutdown() {
	h.timer.Shutdown()

	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	h.requestTime = time.Time{}
	h.mu.Unlock()
	h.notify()
}

// selectSensors runs once the toggle burst goes quiet.
func (h *RoomIQHarmonizer) selectSensors() {
	h.mu.Lock()
	ids := h.selectedIDsLocked()

	if len(ids) == 0 || sameIDSet(ids, h.zone.ActiveSensorIDs()) {
		// Nothing to request: snap back to the zone's actual state.
		h.restoreFromZoneLocked()
		h.requestTime = time.Time{}
		h.mu.Unlock()
		h.notify()
		return
	}

	selectTime := h.requestTime
	h.mu.Unlock()

	log := h.zone.thermostat.home.log
	if _, err := h.zone.SelectRoomIQSensors(context.Background(), ids); err != nil {
		log.Warnf("selecting RoomIQ sensors for zone %s: %v", h.zone.ID(), err)
	}

	h.mu.Lock()
	// Only clear the marker if no newer trigger superseded this request.
	if h.requestTime.Equal(selectTime) {
		h.requestTime = time.Time{}
	}
	h.mu.Unlock()

	// The selection stays as requested; the refetched zone state is the
	// authority on what the unit actually accepted.
	if err := h.refetch(context.Background()); err != nil {
		log.Warnf("refetching zone state after sensor selection: %v", err)
	}
	h.notify()
}

func (h *RoomIQHarmonizer) restoreFromZoneLocked() {
	h.selected = make(map[int64]struct{})
	for _, id := range h.zone.ActiveSensorIDs() {
		h.selected[id] = struct{}{}
	}
}

func sameIDSet(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[int64]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}
