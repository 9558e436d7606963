// Package device provides the fleet Device Registry.
//
// The registry is the authoritative table of every device the fleet has
// seen. Two sources feed it:
//   - periodic enumeration (ADBEnumerator driven by a Poller), and
//   - passive info messages on fleet/device/{id}/info (InfoHandler).
//
// # Architecture
//
//	Poller ──ApplyPoll──┐
//	                    ├──▶ ops channel ──▶ actor goroutine (owns the table)
//	InfoHandler ─Observe┘                        │
//	Reserve/Release/GetAvailableDevices ─────────┘
//	                                             │ events
//	                                             ▼
//	                                     notifier goroutine ──▶ OnChange listeners
//
// Every read and write is a closure executed by the actor, so reservation
// is atomic without locks on the table. Reads return copies.
//
// A device not reported by either source within 2 × pollInterval is
// considered stale: it is excluded from availability immediately and
// marked offline by the next Sweep. Devices are never deleted.
//
// # Usage
//
//	reg := device.NewRegistry(device.Options{PollInterval: 10 * time.Second, MinBattery: 20})
//	defer reg.Close()
//
//	dev, err := reg.ReserveMatching(device.Selector{Tags: []string{"android14"}}, taskID)
//	if err != nil {
//	    // skip this cycle
//	}
//	defer reg.Release(dev.ID)
package device
