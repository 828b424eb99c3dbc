// Package sysinfo collects the host identification block of the report.
// Every field is best-effort: a collector that fails is skipped, never
// surfaced as an error.
package sysinfo

import (
	"os"
	"os/user"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
)

// Collect gathers host identification for the report header.
func Collect() map[string]any {
	info := map[string]any{
		"platform":     runtime.GOOS,
		"architecture": runtime.GOARCH,
		"go_version":   runtime.Version(),
		"cpu_count":    runtime.NumCPU(),
	}

	if hostname, err := os.Hostname(); err == nil {
		info["hostname"] = hostname
	}
	if current, err := user.Current(); err == nil {
		info["username"] = current.Username
	}
	if wd, err := os.Getwd(); err == nil {
		info["working_directory"] = wd
	}

	if hi, err := host.Info(); err == nil {
		info["os"] = hi.OS
		info["platform_version"] = hi.PlatformVersion
		info["kernel_version"] = hi.KernelVersion
		info["virtualization_system"] = hi.VirtualizationSystem
		info["virtualization_role"] = hi.VirtualizationRole
	}
	if boot, err := host.BootTime(); err == nil {
		info["boot_time"] = time.Unix(int64(boot), 0).UTC().Format(time.RFC3339)
	}

	if physical, err := cpu.Counts(false); err == nil {
		info["physical_cores"] = physical
	}
	if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
		info["cpu_model"] = infos[0].ModelName
		info["cpu_mhz"] = infos[0].Mhz
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		info["memory_total_bytes"] = vm.Total
		info["memory_available_bytes"] = vm.Available
	}

	if interfaces, err := net.Interfaces(); err == nil {
		entries := make([]map[string]any, 0, len(interfaces))
		for _, iface := range interfaces {
			addrs := make([]string, 0, len(iface.Addrs))
			for _, addr := range iface.Addrs {
				addrs = append(addrs, addr.Addr)
			}
			entries = append(entries, map[string]any{
				"name":      iface.Name,
				"mac":       iface.HardwareAddr,
				"addresses": addrs,
			})
		}
		info["network_interfaces"] = entries
	}

	return info
}
