package env

import (
	"github.com/denisbrodbeck/machineid"
	"github.com/golang/glog"
)

// MachineID retrieves the unique ID identifying the machine, or
// fallback when it's unavailable.
func MachineID(fallback string) string {
	id, err := machineid.ID()
	if err != nil {
		glog.Warningf("machine id unavailable: %v", err)
		return fallback
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}
