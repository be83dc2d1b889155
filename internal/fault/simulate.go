package fault

import (
	"fmt"
	"path/filepath"
)

const (
	// KindWatchdog is the reason code of the simulated garage sensor crash.
	KindWatchdog = "GARAGE_SENSOR_WATCHDOG"
	// KindCoreDump marks faults raised for core dumps found on disk.
	KindCoreDump = "CORE_DUMP_DETECTED"
	// KindSmokeTest marks connectivity test reports.
	KindSmokeTest = "SMOKE_TEST"
)

// Simulate returns the watchdog reset fault of the intrusion sensor demo.
// sensorID may be empty; enrichment then falls back to configured defaults.
func Simulate(sensorID string) error {
	return New(
		"Garage intrusion MCU watchdog reset",
		KindWatchdog,
		sensorID,
		"BLE link lost and watchdog fired while processing intrusion alert.",
	)
}

// SmokeTest returns a fault used to verify the backend is reachable.
func SmokeTest() *Fault {
	return New("Test error", KindSmokeTest, "", "connectivity check")
}

// CoreDump returns the fault raised for a core dump found at path.
func CoreDump(path string, size int64, sensorID string) *Fault {
	f := New(
		"Core dump detected: "+filepath.Base(path),
		KindCoreDump,
		sensorID,
		fmt.Sprintf("%s (%d bytes)", path, size),
	)
	f.Artifact = path
	return f
}
