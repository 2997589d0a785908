package app

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"dronelink/internal/link"
	"dronelink/internal/sim"
)

// linkStatsFields renders controller counters for a periodic log line.
func linkStatsFields(stats link.Stats, recordsDropped uint64) logrus.Fields {
	fields := logrus.Fields{
		"nav_state":        stats.Nav.State.String(),
		"nav_frames":       humanize.Comma(int64(stats.Nav.Frames)),
		"nav_bytes_in":     humanize.Bytes(stats.Nav.BytesIn),
		"nav_bytes_out":    humanize.Bytes(stats.Nav.BytesOut),
		"nav_errors":       stats.Nav.DecodeErrors,
		"video_state":      stats.Video.State.String(),
		"video_frames":     humanize.Comma(int64(stats.Video.Frames)),
		"video_bytes_in":   humanize.Bytes(stats.Video.BytesIn),
		"video_errors":     stats.Video.DecodeErrors,
		"commands_sent":    humanize.Comma(int64(stats.CommandsSent)),
		"commands_dropped": stats.CommandsDropped,
		"button_emissions": stats.Emissions,
	}
	if !stats.Nav.LastFrame.IsZero() {
		fields["last_telemetry"] = humanize.Time(stats.Nav.LastFrame)
	}
	if recordsDropped > 0 {
		fields["records_dropped"] = recordsDropped
	}
	return fields
}

func simStatsFields(stats sim.Stats) logrus.Fields {
	return logrus.Fields{
		"connections":   stats.Connections,
		"telemetry_out": humanize.Comma(int64(stats.TelemetryOut)),
		"commands_in":   humanize.Comma(int64(stats.CommandsIn)),
		"bad_commands":  stats.BadCommands,
		"frames_out":    humanize.Comma(int64(stats.FramesOut)),
	}
}

// reportStatistics logs fields() every interval until ctx is cancelled.
func reportStatistics(ctx context.Context, logger *logrus.Logger, interval time.Duration, message string, fields func() logrus.Fields) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.WithFields(fields()).Info(message)
		}
	}
}
