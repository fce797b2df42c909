package nexia

// The diff merger reconciles a freshly fetched list of JSON records against
// the wrapper objects built from an earlier snapshot.  Wrappers are matched
// by identifier and updated in place, never replaced, so references held by
// callers stay valid across updates.
//
// A wrapper whose identifier is absent from the new snapshot is left
// untouched rather than removed.  Stale wrappers therefore persist until the
// Home is rebuilt; callers that care should re-check the id lists after an
// update.

type mergeable interface {
	// RecordID is the stable identifier the wrapper was built from.
	RecordID() DeviceID
	// applyUpdate merges a fresh record into the wrapper's document.
	applyUpdate(rec rawDocument)
}

// indexRecordsByID builds the id -> record index for one snapshot, skipping
// records without an id field.
func indexRecordsByID(records []rawDocument) map[DeviceID]rawDocument {
	index := make(map[DeviceID]rawDocument, len(records))
	for _, rec := range records {
		if id, ok := rec.recordID(); ok {
			index[id] = rec
		}
	}
	return index
}

// reconcile pushes each record from a new snapshot into the existing wrapper
// with the matching identifier.
func reconcile[E mergeable](existing []E, records []rawDocument) {
	index := indexRecordsByID(records)
	for _, wrapper := range existing {
		if rec, ok := index[wrapper.RecordID()]; ok {
			wrapper.applyUpdate(rec)
		}
	}
}

// buildWrappers constructs one wrapper per record, preserving source order.
// build may reject a record (unsupported hardware) by returning false.
func buildWrappers[E any](records []rawDocument, build func(rawDocument) (E, bool)) []E {
	wrappers := make([]E, 0, len(records))
	for _, rec := range records {
		if w, ok := build(rec); ok {
			wrappers = append(wrappers, w)
		}
	}
	return wrappers
}
