package downloader

import (
	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/disk"
)

// DiskStats describes the volume holding the output directory
type DiskStats struct {
	Path        string
	Total       uint64
	Used        uint64
	Free        uint64
	UsedPercent float64
}

// GetDiskStats returns usage of the volume that contains path using gopsutil
func GetDiskStats(path string) (*DiskStats, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return nil, err
	}
	return &DiskStats{
		Path:        usage.Path,
		Total:       usage.Total,
		Used:        usage.Used,
		Free:        usage.Free,
		UsedPercent: usage.UsedPercent,
	}, nil
}

func (d *Downloader) logDiskUsage(path string) {
	stats, err := GetDiskStats(path)
	if err != nil {
		d.log.Warnf("Failed to get disk usage for %s: %v", path, err)
		return
	}
	d.log.Infof("Output volume: %s free of %s (%.1f%% used)",
		humanize.Bytes(stats.Free), humanize.Bytes(stats.Total), stats.UsedPercent)
}
