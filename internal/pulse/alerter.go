package pulse

import (
	"sort"
	"sync"
	"time"
)

// AlertRecord is the suppression state kept for a device that has alerted
// at least once since it was last healthy.
type AlertRecord struct {
	LastAlert time.Time `json:"last_alert"`
	Failed    bool      `json:"failed"`
}

// AlertState tracks per-device cooldowns. A device with no record is
// healthy (or was never seen failing). All methods are safe for concurrent
// use and each is atomic with respect to the others.
type AlertState struct {
	mu      sync.Mutex
	records map[string]*AlertRecord // device_id -> record
}

// NewAlertState creates an empty alert state.
func NewAlertState() *AlertState {
	return &AlertState{
		records: make(map[string]*AlertRecord),
	}
}

// ShouldAlert is called for a device whose verdict is failing this round.
// It returns true, and stamps the record with now, when the device has no
// record or its last alert is at least cooldown old. Otherwise the alert is
// suppressed and the record is left untouched.
func (a *AlertState) ShouldAlert(deviceID string, now time.Time, cooldown time.Duration) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec, ok := a.records[deviceID]
	if ok && now.Sub(rec.LastAlert) < cooldown {
		return false
	}
	a.records[deviceID] = &AlertRecord{LastAlert: now, Failed: true}
	return true
}

// MarkRecovered is called for a device whose verdict is healthy this round.
// It deletes the device's record and reports whether one existed.
func (a *AlertState) MarkRecovered(deviceID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.records[deviceID]; !ok {
		return false
	}
	delete(a.records, deviceID)
	return true
}

// Record returns a copy of the device's record.
func (a *AlertState) Record(deviceID string) (AlertRecord, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec, ok := a.records[deviceID]
	if !ok {
		return AlertRecord{}, false
	}
	return *rec, true
}

// Active returns the sorted IDs of devices currently in the alerted state.
func (a *AlertState) Active() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	ids := make([]string, 0, len(a.records))
	for id, rec := range a.records {
		if rec.Failed {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
