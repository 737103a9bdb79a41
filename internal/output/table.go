package output

import (
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/vburojevic/crashwatch/internal/domain"
)

// WriteRecordTable renders records as a table
func WriteRecordTable(w io.Writer, loc domain.Location, records []domain.CrashRecord) error {
	table := tablewriter.NewWriter(w)
	table.Header("Session", "Last Heartbeat", "Epoch ms", "Location")
	for _, rec := range records {
		if err := table.Append(
			rec.SessionID,
			formatMillis(rec.LastHeartbeat),
			strconv.FormatInt(rec.LastHeartbeat, 10),
			loc.String(),
		); err != nil {
			return err
		}
	}
	return table.Render()
}
