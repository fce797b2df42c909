package nexia

import (
	"context"
	"fmt"
)

// Automation wraps one automation record of the house snapshot.
type Automation struct {
	home *Home
	id   DeviceID
	doc  rawDocument
}

func newAutomation(home *Home, doc rawDocument) *Automation {
	a := &Automation{home: home, doc: doc}
	a.id, _ = doc.recordID()
	return a
}

// RecordID implements mergeable.
func (a *Automation) RecordID() DeviceID {
	return a.id
}

func (a *Automation) applyUpdate(rec rawDocument) {
	a.doc.mergeFrom(rec)
}

// ID returns the vendor identifier of the automation.
func (a *Automation) ID() DeviceID {
	return a.id
}

// Name returns the automation name.
func (a *Automation) Name() string {
	name, _ := a.doc.stringKey("name")
	return name
}

// Description returns the automation description.
func (a *Automation) Description() string {
	description, _ := a.doc.stringKey("description")
	return description
}

// Enabled reports whether the automation is enabled.
func (a *Automation) Enabled() bool {
	var enabled bool
	if a.doc.has("enabled") {
		_ = a.doc.decodeKey("enabled", &enabled)
	}
	return enabled
}

// Activate runs the automation.
func (a *Automation) Activate(ctx context.Context) error {
	url := fmt.Sprintf("%s/automations/%s/activate", a.home.mobileURL(), a.id)
	_, err := a.home.post(ctx, url, map[string]interface{}{})
	return err
}
