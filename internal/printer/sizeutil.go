package printer

import "fmt"

var byteUnits = []string{"KB", "MB", "GB", "TB"}

// FormatBytes returns a media size in binary units, "0 B" for unknown sizes.
func FormatBytes(n int64) string {
	if n < 1024 {
		return fmt.Sprintf("%d B", max(n, 0))
	}

	v := float64(n) / 1024
	unit := 0
	for v >= 1024 && unit < len(byteUnits)-1 {
		v /= 1024
		unit++
	}
	return fmt.Sprintf("%.1f %s", v, byteUnits[unit])
}
