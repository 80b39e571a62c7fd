package env

import (
	"os"

	"github.com/denisbrodbeck/machineid"
	"github.com/golang/glog"
)

// MachineID retrieves an ID unique to the machine and this application.
// It falls back to the host name.
func MachineID() string {
	id, err := machineid.ProtectedID("pulselink")
	if err == nil {
		return id[:16]
	}
	glog.Warningf("machine ID unavailable: %v", err)
	if host, err := os.Hostname(); err == nil {
		return host
	}
	return "pulselink"
}
