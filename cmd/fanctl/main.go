// SPDX-License-Identifier: BSD-3-Clause

// Command fanctl is the operational CLI for the fan presence, control, and
// shutdown-monitor daemon: status/get/set/reload/resume/dump/query_dump/sensors,
// talking to the running daemon over NATS request/reply.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/openbmc/phosphor-fan-presence-sub001/pkg/ipc"
)

const defaultRequestTimeout = 5 * time.Second

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "status":
		err = runStatus(args)
	case "get":
		err = runGet(args)
	case "set":
		err = runSet(args)
	case "reload":
		err = runReload(args)
	case "resume":
		err = runResume(args)
	case "dump":
		err = runDump(args)
	case "query_dump":
		err = runQueryDump(args)
	case "sensors":
		err = runSensors(args)
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "fanctl:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: fanctl <command> [flags]

commands:
  status                                    per-fan/zone target, presence, service state
  get                                       target sensor and per-zone feedback
  set <target> [zones...]                   lock listed zones (all if omitted) to target
  reload                                    request configuration reload (SIGHUP)
  resume                                    unlock zones, resuming automatic control
  dump                                      write a JSON state dump to a file
  query_dump -s section [-n name] [-p p..] [-d]
  sensors [-t type] [-n name] [-v]`)
}

// connect dials the daemon's NATS endpoint. -nats defaults to the loopback
// address the daemon's IPC service listens on when configured with
// ipc.WithServerOpts to enable a TCP listener (disabled by default for the
// in-process-only deployment; see DESIGN.md).
func connect(fs *flag.FlagSet) (*nats.Conn, error) {
	url := fs.Lookup("nats").Value.String()
	nc, err := nats.Connect(url, nats.Timeout(defaultRequestTimeout))
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", url, err)
	}
	return nc, nil
}

func natsFlag(fs *flag.FlagSet) {
	fs.String("nats", "nats://127.0.0.1:4222", "NATS endpoint the daemon's IPC service listens on")
}

func request(nc *nats.Conn, subject string, req any, resp any) error {
	var body []byte
	if req != nil {
		var err error
		body, err = json.Marshal(req)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultRequestTimeout)
	defer cancel()
	msg, err := nc.RequestWithContext(ctx, subject, body)
	if err != nil {
		return fmt.Errorf("request %s: %w", subject, err)
	}
	if resp == nil {
		return nil
	}
	if err := json.Unmarshal(msg.Data, resp); err != nil {
		return fmt.Errorf("unmarshal response from %s: %w", subject, err)
	}
	return nil
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	natsFlag(fs)
	_ = fs.Parse(args)

	nc, err := connect(fs)
	if err != nil {
		return err
	}
	defer nc.Close()

	var fanStatus map[string]fanStatusEntry
	if err := request(nc, ipc.SubjectFanStatus, nil, &fanStatus); err != nil {
		fmt.Fprintln(os.Stderr, "fan status unavailable:", err)
	}

	var zoneNames struct {
		Zones []string `json:"zones"`
	}
	if err := request(nc, ipc.SubjectZoneList, nil, &zoneNames); err != nil {
		fmt.Fprintln(os.Stderr, "zone list unavailable:", err)
	}

	fmt.Println("FANS")
	for path, fs := range fanStatus {
		fmt.Printf("  %-48s present=%v functional=%v available=%v\n", path, fs.Present, fs.Functional, fs.Available)
	}

	fmt.Println("ZONES")
	for _, name := range zoneNames.Zones {
		var zs zoneStatusResponse
		if err := request(nc, ipc.SubjectZoneStatus, zoneRequest{Zone: name}, &zs); err != nil {
			fmt.Printf("  %-24s error=%v\n", name, err)
			continue
		}
		fmt.Printf("  %-24s floor=%d ceiling=%d\n", name, zs.Floor, zs.Ceiling)
	}
	return nil
}

func runGet(args []string) error {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	natsFlag(fs)
	_ = fs.Parse(args)

	nc, err := connect(fs)
	if err != nil {
		return err
	}
	defer nc.Close()

	for _, name := range fs.Args() {
		var zs zoneStatusResponse
		if err := request(nc, ipc.SubjectZoneStatus, zoneRequest{Zone: name}, &zs); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
			continue
		}
		fmt.Printf("%s: floor=%d ceiling=%d\n", name, zs.Floor, zs.Ceiling)
	}
	return nil
}

func runSet(args []string) error {
	fs := flag.NewFlagSet("set", flag.ExitOnError)
	natsFlag(fs)
	_ = fs.Parse(args)

	rest := fs.Args()
	if len(rest) < 1 {
		return fmt.Errorf("usage: fanctl set <target> [zones...]")
	}
	target, err := strconv.ParseUint(rest[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid target %q: %w", rest[0], err)
	}
	zones := rest[1:]

	nc, err := connect(fs)
	if err != nil {
		return err
	}
	defer nc.Close()

	if len(zones) == 0 {
		var zoneNames struct {
			Zones []string `json:"zones"`
		}
		if err := request(nc, ipc.SubjectZoneList, nil, &zoneNames); err != nil {
			return fmt.Errorf("list zones: %w", err)
		}
		zones = zoneNames.Zones
	}

	for _, zone := range zones {
		if err := request(nc, ipc.SubjectZoneLock, zoneLockRequest{Zone: zone, Value: target}, nil); err != nil {
			fmt.Fprintf(os.Stderr, "lock %s: %v\n", zone, err)
			continue
		}
		fmt.Printf("%s locked to %d\n", zone, target)
	}
	return nil
}

func runResume(args []string) error {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	natsFlag(fs)
	_ = fs.Parse(args)

	nc, err := connect(fs)
	if err != nil {
		return err
	}
	defer nc.Close()

	var zoneNames struct {
		Zones []string `json:"zones"`
	}
	if err := request(nc, ipc.SubjectZoneList, nil, &zoneNames); err != nil {
		return fmt.Errorf("list zones: %w", err)
	}

	for _, zone := range zoneNames.Zones {
		if err := request(nc, ipc.SubjectZoneUnlock, zoneLockRequest{Zone: zone}, nil); err != nil {
			fmt.Fprintf(os.Stderr, "unlock %s: %v\n", zone, err)
			continue
		}
		fmt.Printf("%s resumed automatic control\n", zone)
	}
	return nil
}

func runReload(args []string) error {
	fs := flag.NewFlagSet("reload", flag.ExitOnError)
	pidFile := fs.String("pidfile", "/var/run/phosphor-fan-presence-sub001.pid", "daemon pid file")
	_ = fs.Parse(args)

	data, err := os.ReadFile(*pidFile)
	if err != nil {
		return fmt.Errorf("read pid file %s: %w", *pidFile, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("parse pid file %s: %w", *pidFile, err)
	}
	if err := syscall.Kill(pid, syscall.SIGHUP); err != nil {
		return fmt.Errorf("signal pid %d: %w", pid, err)
	}
	fmt.Printf("reload requested (pid %d)\n", pid)
	return nil
}

type dumpDoc struct {
	Fans   map[string]fanStatusEntry     `json:"fans"`
	Zones  map[string]zoneStatusResponse `json:"zones"`
	Alarms []map[string]any              `json:"alarms"`
}

func runDump(args []string) error {
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	natsFlag(fs)
	out := fs.String("o", "/tmp/phosphor-fan-presence-dump.json", "output path")
	_ = fs.Parse(args)

	nc, err := connect(fs)
	if err != nil {
		return err
	}
	defer nc.Close()

	doc := dumpDoc{Fans: make(map[string]fanStatusEntry), Zones: make(map[string]zoneStatusResponse)}
	_ = request(nc, ipc.SubjectFanStatus, nil, &doc.Fans)

	var zoneNames struct {
		Zones []string `json:"zones"`
	}
	_ = request(nc, ipc.SubjectZoneList, nil, &zoneNames)
	for _, name := range zoneNames.Zones {
		var zs zoneStatusResponse
		if err := request(nc, ipc.SubjectZoneStatus, zoneRequest{Zone: name}, &zs); err == nil {
			doc.Zones[name] = zs
		}
	}

	var alarms struct {
		Alarms []map[string]any `json:"alarms"`
	}
	_ = request(nc, ipc.SubjectAlarmDump, nil, &alarms)
	doc.Alarms = alarms.Alarms

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal dump: %w", err)
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}
	fmt.Printf("dump written to %s\n", *out)
	return nil
}

func runQueryDump(args []string) error {
	fs := flag.NewFlagSet("query_dump", flag.ExitOnError)
	section := fs.String("s", "", "section: fans, zones, or alarms (required)")
	name := fs.String("n", "", "filter to this name/path/zone")
	props := fs.String("p", "", "comma-separated property names to keep (alarms section only)")
	del := fs.Bool("d", false, "delete the dump file after reading")
	path := fs.String("f", "/tmp/phosphor-fan-presence-dump.json", "dump file path")
	_ = fs.Parse(args)

	if *section == "" {
		return fmt.Errorf("query_dump: -s section is required")
	}

	data, err := os.ReadFile(*path)
	if err != nil {
		return fmt.Errorf("read dump %s: %w", *path, err)
	}
	var doc dumpDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse dump %s: %w", *path, err)
	}
	if *del {
		defer os.Remove(*path)
	}

	switch *section {
	case "fans":
		for path, fs := range doc.Fans {
			if *name != "" && path != *name {
				continue
			}
			fmt.Printf("%s present=%v functional=%v available=%v\n", path, fs.Present, fs.Functional, fs.Available)
		}
	case "zones":
		for zone, zs := range doc.Zones {
			if *name != "" && zone != *name {
				continue
			}
			fmt.Printf("%s floor=%d ceiling=%d\n", zone, zs.Floor, zs.Ceiling)
		}
	case "alarms":
		var wantProps map[string]bool
		if *props != "" {
			wantProps = make(map[string]bool)
			for _, p := range strings.Split(*props, ",") {
				wantProps[strings.TrimSpace(p)] = true
			}
		}
		for _, a := range doc.Alarms {
			if *name != "" {
				if sp, _ := a["sensor_path"].(string); sp != *name {
					continue
				}
			}
			if wantProps == nil {
				fmt.Println(a)
				continue
			}
			filtered := make(map[string]any, len(wantProps))
			for k, v := range a {
				if wantProps[k] {
					filtered[k] = v
				}
			}
			fmt.Println(filtered)
		}
	default:
		return fmt.Errorf("query_dump: unknown section %q", *section)
	}
	return nil
}

func runSensors(args []string) error {
	fs := flag.NewFlagSet("sensors", flag.ExitOnError)
	natsFlag(fs)
	typ := fs.String("t", "", "type filter: fan or zone")
	name := fs.String("n", "", "name filter")
	verbose := fs.Bool("v", false, "print raw JSON")
	_ = fs.Parse(args)

	nc, err := connect(fs)
	if err != nil {
		return err
	}
	defer nc.Close()

	if *typ == "" || *typ == "fan" {
		var fanStatus map[string]fanStatusEntry
		if err := request(nc, ipc.SubjectFanStatus, nil, &fanStatus); err == nil {
			for path, fs := range fanStatus {
				if *name != "" && path != *name {
					continue
				}
				if *verbose {
					raw, _ := json.Marshal(map[string]any{"path": path, "present": fs.Present, "functional": fs.Functional, "available": fs.Available})
					fmt.Println(string(raw))
				} else {
					fmt.Printf("fan  %-48s present=%v functional=%v available=%v\n", path, fs.Present, fs.Functional, fs.Available)
				}
			}
		}
	}

	if *typ == "" || *typ == "zone" {
		var zoneNames struct {
			Zones []string `json:"zones"`
		}
		if err := request(nc, ipc.SubjectZoneList, nil, &zoneNames); err == nil {
			for _, zone := range zoneNames.Zones {
				if *name != "" && zone != *name {
					continue
				}
				var zs zoneStatusResponse
				if err := request(nc, ipc.SubjectZoneStatus, zoneRequest{Zone: zone}, &zs); err != nil {
					continue
				}
				if *verbose {
					raw, _ := json.Marshal(zs)
					fmt.Println(string(raw))
				} else {
					fmt.Printf("zone %-24s floor=%d ceiling=%d\n", zone, zs.Floor, zs.Ceiling)
				}
			}
		}
	}
	return nil
}

// fanStatusEntry mirrors service/presencemgr's fan.status response: Present
// is the raw Inventory.Item.Present reading; Functional and Available
// mirror State.Decorator.OperationalStatus.Functional and
// State.Decorator.Availability.Available.
type fanStatusEntry struct {
	Present    bool `json:"present"`
	Functional bool `json:"functional"`
	Available  bool `json:"available"`
}

type zoneRequest struct {
	Zone string `json:"zone"`
}

type zoneStatusResponse struct {
	Zone    string `json:"zone"`
	Floor   uint64 `json:"floor"`
	Ceiling uint64 `json:"ceiling"`
}

type zoneLockRequest struct {
	Zone  string `json:"zone"`
	Value uint64 `json:"value"`
}
