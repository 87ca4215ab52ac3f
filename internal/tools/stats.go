package tools

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// systemInfo is the static machine description shown when the monitor opens.
type systemInfo struct {
	Hostname string        `json:"hostname"`
	Platform string        `json:"platform"`
	Arch     string        `json:"arch"`
	CPU      cpuDescriptor `json:"cpu"`
	Memory   memTotal      `json:"memory"`
}

type cpuDescriptor struct {
	Model string `json:"model"`
	Count int    `json:"count"`
}

type memTotal struct {
	TotalBytes uint64 `json:"totalBytes"`
}

type coreTimes struct {
	Idle  float64 `json:"idle"`
	Total float64 `json:"total"`
}

// systemStats is one polling sample. Core times are cumulative, so the
// monitor derives utilization from deltas between consecutive samples.
type systemStats struct {
	CPU struct {
		Cores []coreTimes `json:"cores"`
	} `json:"cpu"`
	Memory struct {
		UsedBytes   uint64 `json:"usedBytes"`
		UsedPercent int    `json:"usedPercent"`
		FreeBytes   uint64 `json:"freeBytes"`
	} `json:"memory"`
	Uptime struct {
		Seconds uint64 `json:"seconds"`
	} `json:"uptime"`
	Timestamp string `json:"timestamp"`
}

func collectSystemInfo(ctx context.Context) (*systemInfo, error) {
	hi, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("host info: %w", err)
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("memory info: %w", err)
	}
	info := &systemInfo{
		Hostname: hi.Hostname,
		Platform: fmt.Sprintf("%s %s", hi.Platform, hi.PlatformVersion),
		Arch:     hi.KernelArch,
		Memory:   memTotal{TotalBytes: vm.Total},
	}
	if cpus, err := cpu.InfoWithContext(ctx); err == nil && len(cpus) > 0 {
		info.CPU.Model = cpus[0].ModelName
	} else {
		info.CPU.Model = "Unknown"
	}
	if count, err := cpu.CountsWithContext(ctx, true); err == nil {
		info.CPU.Count = count
	}
	return info, nil
}

func collectSystemStats(ctx context.Context) (*systemStats, error) {
	times, err := cpu.TimesWithContext(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("cpu times: %w", err)
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("memory info: %w", err)
	}
	stats := &systemStats{Timestamp: time.Now().UTC().Format(time.RFC3339)}
	for _, t := range times {
		stats.CPU.Cores = append(stats.CPU.Cores, coreTimes{Idle: t.Idle, Total: t.Total()})
	}
	stats.Memory.UsedBytes = vm.Used
	stats.Memory.FreeBytes = vm.Available
	stats.Memory.UsedPercent = int(math.Round(vm.UsedPercent))
	if up, err := host.UptimeWithContext(ctx); err == nil {
		stats.Uptime.Seconds = up
	}
	return stats, nil
}
