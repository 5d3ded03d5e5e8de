package weekblock

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/rosterd/weekblock/weekblock_errors"
)

// OccupantSeparator joins member tokens inside a single grid cell.
const OccupantSeparator = ", "

// NoChangesSentinel is the pristine changelog value, replaced outright on the
// first append.
const NoChangesSentinel = "(no changes)"

// Row is one stored row of a block: metadata plus the 7-day availability
// cells. Slot is the row's ordinal within its block, which makes blocks
// self-describing instead of relying purely on repeated (year, week) values.
type Row struct {
	Year      int       `json:"y"`
	Week      int       `json:"w"`
	Month     string    `json:"m"`
	TimeLabel string    `json:"t"`
	Slot      int       `json:"s"`
	Cells     [7]string `json:"c"`
}

func encodeRow(r *Row) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, errors.Wrap(err, "encode row")
	}
	return data, nil
}

func decodeRow(data []byte) (*Row, error) {
	var r Row
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errors.Wrap(weekblock_errors.ErrMalformedBlock, err.Error())
	}
	return &r, nil
}

// BlockLocation identifies a resolved block. StartRow/EndRow are physical
// positions inside the scope's row region; callers should treat them as
// opaque and never retain them across operations, the logical identity is
// (Scope, Year, Week).
type BlockLocation struct {
	Scope    string
	Year     int
	Week     int
	Month    string
	StartRow int
	EndRow   int
}

func (s *Store) location(scope string, year, week, startRow int) BlockLocation {
	return BlockLocation{
		Scope:    scope,
		Year:     year,
		Week:     week,
		Month:    monthLabel(year, week),
		StartRow: startRow,
		EndRow:   startRow + s.opts.Slots() - 1,
	}
}

// isoWeekStart returns the Monday of the given ISO week. January 4th always
// falls in week 1.
func isoWeekStart(year, week int) time.Time {
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	back := (int(jan4.Weekday()) + 6) % 7
	monday1 := jan4.AddDate(0, 0, -back)
	return monday1.AddDate(0, 0, (week-1)*7)
}

func monthLabel(year, week int) string {
	return isoWeekStart(year, week).Month().String()
}
