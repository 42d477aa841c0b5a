package utils

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// FormatBytes renders a byte count for status messages
func FormatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}

// EstimateRemaining extrapolates the time left from the transfer rate so far.
// It returns zero while there is not enough data for an estimate.
func EstimateRemaining(done, total int64, elapsed time.Duration) time.Duration {
	if done <= 0 || total <= done || elapsed <= 0 {
		return 0
	}
	rate := float64(done) / elapsed.Seconds()
	left := time.Duration(float64(total-done) / rate * float64(time.Second))
	return left.Round(time.Second)
}

// DownloadMessage describes download progress, e.g. "12 MB / 80 MB, about 30s left".
// The total is omitted when unknown.
func DownloadMessage(done, total int64, elapsed time.Duration) string {
	if total <= 0 {
		return fmt.Sprintf("%s downloaded", FormatBytes(done))
	}
	msg := fmt.Sprintf("%s / %s", FormatBytes(done), FormatBytes(total))
	if left := EstimateRemaining(done, total, elapsed); left >= time.Second {
		msg += fmt.Sprintf(", about %s left", left)
	}
	return msg
}

// ExtractMessage describes extraction progress
func ExtractMessage(done, total int) string {
	return fmt.Sprintf("extracting %s of %s files", humanize.Comma(int64(done)), humanize.Comma(int64(total)))
}
