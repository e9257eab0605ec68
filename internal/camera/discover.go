package camera

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultDiscoverMax is how many device indices Discover probes.
const DefaultDiscoverMax = 6

// sysRoot holds the video4linux sysfs tree used for device names.
var sysRoot = "/sys/class/video4linux"

// Device is a local capture device.
type Device struct {
	Index int    `json:"index"`
	Path  string `json:"path"`
	Name  string `json:"name"`
}

// Discover probes device indices 0..limit-1 and returns those whose node
// exists and can be opened.
func Discover(limit int) []Device {
	if limit <= 0 {
		limit = DefaultDiscoverMax
	}
	var out []Device
	for i := range limit {
		src := Source{Device: i}
		path := src.DevicePath()
		if !deviceAvailable(path) {
			continue
		}
		out = append(out, Device{Index: i, Path: path, Name: deviceName(i)})
	}
	return out
}

func deviceAvailable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}

func deviceName(index int) string {
	data, err := os.ReadFile(filepath.Join(sysRoot, "video"+strconv.Itoa(index), "name"))
	if err == nil {
		if name := strings.TrimSpace(string(data)); name != "" {
			return name
		}
	}
	return "Device " + strconv.Itoa(index)
}
