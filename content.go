package weekblock

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
	"github.com/rosterd/weekblock/weekblock_errors"
)

// Cell is one (time slot, day) position of the availability grid.
type Cell struct {
	TimeLabel string
	Day       string
	Occupants []string
}

func (c Cell) Count() int { return len(c.Occupants) }

// BlockContent is the parsed form of one block: the numSlots x 7 grid plus
// the metadata shared by all its rows.
type BlockContent struct {
	Scope     string
	Year      int
	Week      int
	Month     string
	DayLabels []string
	// Grid[slot][day]
	Grid [][]Cell
	// Roster is the last wholesale membership snapshot.
	Roster []string
	// Changelog is the raw append-only text.
	Changelog string
}

// Occupants returns the member tokens at (slot, day), nil when out of range.
func (bc *BlockContent) Occupants(slot, day int) []string {
	if slot < 0 || slot >= len(bc.Grid) || day < 0 || day >= len(bc.Grid[slot]) {
		return nil
	}
	return bc.Grid[slot][day].Occupants
}

func splitCell(cell string) []string {
	if cell == "" {
		return nil
	}
	parts := strings.Split(cell, OccupantSeparator)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func joinCell(tokens []string) string {
	return strings.Join(tokens, OccupantSeparator)
}

// ReadBlock reads and parses the whole block. Results are served from the
// content cache when possible and cached on success only; a malformed block
// comes back as an error and never enters the cache.
func (s *Store) ReadBlock(ctx context.Context, loc BlockLocation) (*BlockContent, error) {
	if c, ok := s.cache.GetContent(loc.Scope, loc.Year, loc.Week); ok {
		return c, nil
	}
	c, err := s.readBlockRows(ctx, loc)
	if err != nil {
		return nil, err
	}
	s.cache.PutContent(c)
	return c, nil
}

func (s *Store) readBlockRows(ctx context.Context, loc BlockLocation) (*BlockContent, error) {
	days, err := s.dayHeader(loc.Scope)
	if err != nil {
		return nil, err
	}
	slots := s.opts.Slots()
	c := &BlockContent{
		Scope:     loc.Scope,
		Year:      loc.Year,
		Week:      loc.Week,
		DayLabels: days,
		Grid:      make([][]Cell, slots),
	}
	for slot := 0; slot < slots; slot++ {
		row, err := s.readRow(loc.Scope, loc.StartRow+slot)
		if err != nil {
			return nil, err
		}
		if row.Year != loc.Year || row.Week != loc.Week || row.Slot != slot {
			return nil, errors.Wrapf(weekblock_errors.ErrMalformedBlock,
				"scope %s row %d: got %d/W%d slot %d, want %d/W%d slot %d",
				loc.Scope, loc.StartRow+slot, row.Year, row.Week, row.Slot, loc.Year, loc.Week, slot)
		}
		if slot == 0 {
			c.Month = row.Month
		}
		cells := make([]Cell, len(row.Cells))
		for day := range row.Cells {
			label := ""
			if day < len(days) {
				label = days[day]
			}
			cells[day] = Cell{
				TimeLabel: row.TimeLabel,
				Day:       label,
				Occupants: splitCell(row.Cells[day]),
			}
		}
		c.Grid[slot] = cells
	}
	if c.Roster, err = s.readRoster(loc); err != nil {
		return nil, err
	}
	if c.Changelog, err = s.readChangelog(loc); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Store) readRow(scope string, idx int) (*Row, error) {
	val, closer, err := s.db.Get(rowKey(scope, idx))
	if err == pebble.ErrNotFound {
		return nil, errors.Wrapf(weekblock_errors.ErrMalformedBlock, "scope %s row %d missing", scope, idx)
	}
	if err != nil {
		return nil, errors.Wrap(weekblock_errors.ErrStoreAccess, err.Error())
	}
	data := bytes.Clone(val)
	_ = closer.Close()
	return decodeRow(data)
}

func (s *Store) dayHeader(scope string) ([]string, error) {
	val, closer, err := s.db.Get(headerKey(scope))
	if err == pebble.ErrNotFound {
		return s.opts.DayLabels, nil
	}
	if err != nil {
		return nil, errors.Wrap(weekblock_errors.ErrStoreAccess, err.Error())
	}
	defer closer.Close()
	var days []string
	if err = json.Unmarshal(val, &days); err != nil {
		return nil, errors.Wrap(weekblock_errors.ErrMalformedBlock, err.Error())
	}
	return days, nil
}

// CellChange adds or removes one member token at one grid position.
type CellChange struct {
	Slot   int
	Day    int
	Member string
	Remove bool
}

// WriteAvailabilityDelta applies the changes cell by cell and reports how
// many cells actually changed. Application is not transactional: on a failed
// cell the count of cells already modified is returned along with the error.
// The block's content cache entry is invalidated either way.
func (s *Store) WriteAvailabilityDelta(ctx context.Context, loc BlockLocation, changes []CellChange) (modified int, err error) {
	defer s.cache.InvalidateContent(loc.Scope, loc.Year, loc.Week)
	slots := s.opts.Slots()
	for _, ch := range changes {
		if ch.Slot < 0 || ch.Slot >= slots || ch.Day < 0 || ch.Day >= 7 {
			return modified, errors.Wrapf(weekblock_errors.ErrBadCell, "slot %d day %d", ch.Slot, ch.Day)
		}
		row, rerr := s.readRow(loc.Scope, loc.StartRow+ch.Slot)
		if rerr != nil {
			return modified, rerr
		}
		tokens := splitCell(row.Cells[ch.Day])
		next, changed := applyToken(tokens, ch.Member, ch.Remove)
		if !changed {
			continue
		}
		row.Cells[ch.Day] = joinCell(next)
		data, eerr := encodeRow(row)
		if eerr != nil {
			return modified, eerr
		}
		if werr := s.db.Set(rowKey(loc.Scope, loc.StartRow+ch.Slot), data, s.opts.PebbleWriteOptions); werr != nil {
			return modified, errors.Wrap(weekblock_errors.ErrStoreAccess, werr.Error())
		}
		modified++
	}
	if modified > 0 {
		s.log.DebugCtx(ctx, "availability delta applied",
			"scope", loc.Scope, "year", loc.Year, "week", loc.Week,
			"requested", len(changes), "modified", modified)
	}
	return modified, nil
}

func applyToken(tokens []string, member string, remove bool) ([]string, bool) {
	for i, t := range tokens {
		if t != member {
			continue
		}
		if remove {
			return append(tokens[:i], tokens[i+1:]...), true
		}
		return tokens, false
	}
	if remove {
		return tokens, false
	}
	return append(tokens, member), true
}

// SnapshotRoster overwrites the block's roster snapshot wholesale. Rosters
// are never diffed.
func (s *Store) SnapshotRoster(ctx context.Context, loc BlockLocation, members []string) error {
	if members == nil {
		members = []string{}
	}
	data, err := json.Marshal(members)
	if err != nil {
		return err
	}
	if err = s.db.Set(rosterKey(loc.Scope, loc.Year, loc.Week), data, s.opts.PebbleWriteOptions); err != nil {
		return errors.Wrap(weekblock_errors.ErrStoreAccess, err.Error())
	}
	s.cache.InvalidateContent(loc.Scope, loc.Year, loc.Week)
	return nil
}

func (s *Store) readRoster(loc BlockLocation) ([]string, error) {
	val, closer, err := s.db.Get(rosterKey(loc.Scope, loc.Year, loc.Week))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(weekblock_errors.ErrStoreAccess, err.Error())
	}
	defer closer.Close()
	var members []string
	if err = json.Unmarshal(val, &members); err != nil {
		return nil, errors.Wrap(weekblock_errors.ErrMalformedBlock, err.Error())
	}
	return members, nil
}

// AppendChangelog appends one entry. The pristine sentinel is replaced
// outright on the first append; after that entries are newline-joined.
func (s *Store) AppendChangelog(ctx context.Context, loc BlockLocation, entry string) error {
	current, err := s.readChangelog(loc)
	if err != nil {
		return err
	}
	next := entry
	if current != "" && current != NoChangesSentinel {
		next = current + "\n" + entry
	}
	if err = s.db.Set(changelogKey(loc.Scope, loc.Year, loc.Week), []byte(next), s.opts.PebbleWriteOptions); err != nil {
		return errors.Wrap(weekblock_errors.ErrStoreAccess, err.Error())
	}
	s.cache.InvalidateContent(loc.Scope, loc.Year, loc.Week)
	return nil
}

func (s *Store) readChangelog(loc BlockLocation) (string, error) {
	val, closer, err := s.db.Get(changelogKey(loc.Scope, loc.Year, loc.Week))
	if err == pebble.ErrNotFound {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(weekblock_errors.ErrStoreAccess, err.Error())
	}
	defer closer.Close()
	out := string(val)
	return out, nil
}
