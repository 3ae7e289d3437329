package serial

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/juju/errors"
)

const DefaultSysfsRoot = "/sys/class/tty"

// listPorts reports tty devices backed by real hardware.
// Virtual consoles have no device link, built-in platform UARTs are
// reported by kernel whether or not anything is attached, both skipped.
func listPorts(root string) ([]string, error) {
	ports := []string{}
	entries, err := os.ReadDir(root)
	if err != nil {
		return ports, errors.Trace(err)
	}
	for _, e := range entries {
		name := e.Name()
		devicePath := filepath.Join(root, name, "device")
		if _, err := os.Stat(devicePath); err != nil {
			continue
		}
		if target, err := os.Readlink(filepath.Join(devicePath, "subsystem")); err == nil && filepath.Base(target) == "platform" {
			continue
		}
		ports = append(ports, "/dev/"+name)
	}
	sort.Strings(ports)
	return ports, nil
}
