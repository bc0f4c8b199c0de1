// SPDX-License-Identifier: BSD-3-Clause

// Package daemon wires presencemgr, controlmgr, and shutdownmon (plus
// telemetry and any extra services) into a single supervised process.
//
//	d := daemon.New(
//		daemon.WithIPC(),
//		daemon.WithPresenceMgr(presencemgr.New(...)),
//		daemon.WithControlMgr(controlmgr.New(...)),
//		daemon.WithShutdownMon(shutdownmon.New(...)),
//		daemon.WithFlightRecorder(1024, "/var/lib/phosphor-fan-presence/flightrec.json"),
//		daemon.WithReloadFunc(reloadAllFromDisk),
//	)
//	if err := d.Run(context.Background(), nil); err != nil {
//		panic(err)
//	}
package daemon
