package nexia

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

type fakeEntity struct {
	id  DeviceID
	doc rawDocument
}

func (f *fakeEntity) RecordID() DeviceID          { return f.id }
func (f *fakeEntity) applyUpdate(rec rawDocument) { f.doc.mergeFrom(rec) }

func TestReconcileUpdatesMatchingWrappers(t *testing.T) {
	first := &fakeEntity{id: "1", doc: mustDocument(t, `{"id": 1, "name": "old"}`)}
	second := &fakeEntity{id: "2", doc: mustDocument(t, `{"id": 2, "name": "keep"}`)}

	reconcile([]*fakeEntity{first, second}, []rawDocument{
		mustDocument(t, `{"id": 1, "name": "new"}`),
		mustDocument(t, `{"id": 3, "name": "unknown"}`),
	})

	if got, _ := first.doc.stringKey("name"); got != "new" {
		t.Errorf("first name = %q, want new", got)
	}
	// A wrapper missing from the snapshot stays untouched.
	if got, _ := second.doc.stringKey("name"); got != "keep" {
		t.Errorf("second name = %q, want keep", got)
	}
}

func TestBuildWrappersFiltersAndKeepsOrder(t *testing.T) {
	records := []rawDocument{
		mustDocument(t, `{"id": 1}`),
		mustDocument(t, `{"id": 2, "skip": true}`),
		mustDocument(t, `{"id": 3}`),
	}

	wrappers := buildWrappers(records, func(rec rawDocument) (*fakeEntity, bool) {
		if rec.has("skip") {
			return nil, false
		}
		id, _ := rec.recordID()
		return &fakeEntity{id: id, doc: rec}, true
	})

	var ids []DeviceID
	for _, w := range wrappers {
		ids = append(ids, w.id)
	}
	if diff := cmp.Diff([]DeviceID{"1", "3"}, ids); diff != "" {
		t.Errorf("wrapper ids mismatch (-want +got):\n%s", diff)
	}
}

func TestIndexRecordsByIDSkipsMissingIDs(t *testing.T) {
	index := indexRecordsByID([]rawDocument{
		mustDocument(t, `{"id": 1}`),
		mustDocument(t, `{"name": "no id"}`),
	})
	if len(index) != 1 {
		t.Errorf("index has %d entries, want 1", len(index))
	}
	if _, ok := index["1"]; !ok {
		t.Error("record 1 missing from index")
	}
}
