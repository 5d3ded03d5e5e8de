package weekblock

import (
	"encoding/binary"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rosterd/weekblock/utils"
	"github.com/rosterd/weekblock/weekblock_errors"
)

// Re-exported so callers don't have to import weekblock_errors directly.
var (
	ErrNotFound       = weekblock_errors.ErrNotFound
	ErrMalformedBlock = weekblock_errors.ErrMalformedBlock
	ErrStoreAccess    = weekblock_errors.ErrStoreAccess
	ErrDuplicateBlock = weekblock_errors.ErrDuplicateBlock
	ErrScopeUnknown   = weekblock_errors.ErrScopeUnknown
	ErrBadCell        = weekblock_errors.ErrBadCell
	ErrClosed         = weekblock_errors.ErrClosed
)

// ScopeDirectory is the team/scope collaborator. The store uses it to check
// that a scope still exists (stale index cleanup) and to enumerate scopes for
// provisioning, validation and rebuild.
type ScopeDirectory interface {
	Exists(scope string) (bool, error)
	ActiveScopes() ([]string, error)
}

// RosterProvider returns the current member tokens of a scope, used to
// populate roster snapshots.
type RosterProvider interface {
	Roster(scope string) ([]string, error)
}

type Options struct {
	Logger              utils.Logger
	PebbleWriteOptions  *pebble.WriteOptions
	TimeLabels          []string
	DayLabels           []string
	HeaderOffset        int
	LocationTTL         time.Duration
	ContentTTL          time.Duration
	RebuildThreshold    float64
	ProvisionWeeksAhead int
	MaintenanceInterval time.Duration
	Cache               *BlockCache
}

var DefaultTimeLabels = []string{
	"12:00", "13:00", "14:00", "15:00", "16:00", "17:00",
	"18:00", "19:00", "20:00", "21:00", "22:00",
}

var DefaultDayLabels = []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

func (o *Options) SetDefaults() {
	if o.Logger == nil {
		o.Logger = utils.NewDefaultLogger(slog.LevelInfo)
	}
	if o.PebbleWriteOptions == nil {
		o.PebbleWriteOptions = &pebble.WriteOptions{Sync: false}
	}
	if len(o.TimeLabels) == 0 {
		o.TimeLabels = DefaultTimeLabels
	}
	if len(o.DayLabels) == 0 {
		o.DayLabels = DefaultDayLabels
	}
	if o.HeaderOffset == 0 {
		o.HeaderOffset = 2
	}
	if o.LocationTTL == 0 {
		o.LocationTTL = 6 * time.Hour
	}
	if o.ContentTTL == 0 {
		o.ContentTTL = 5 * time.Minute
	}
	if o.RebuildThreshold == 0 {
		o.RebuildThreshold = 0.10
	}
	if o.ProvisionWeeksAhead == 0 {
		o.ProvisionWeeksAhead = 2
	}
	if o.MaintenanceInterval == 0 {
		o.MaintenanceInterval = time.Hour
	}
}

// Slots is the fixed block height: one row per time-of-day label.
func (o *Options) Slots() int {
	return len(o.TimeLabels)
}

// Store owns the pebble instance holding both the block rows and the
// location index, plus the cache and lock table in front of them.
type Store struct {
	db  *pebble.DB
	dir string
	log utils.Logger

	opts    Options
	scopes  ScopeDirectory
	rosters RosterProvider

	index *LocationIndex
	cache *BlockCache

	// per-scope advisory locks, held around create/retire
	locks *xsync.MapOf[string, *sync.Mutex]
}

const indexFormatVersion = 1

// Open opens (or creates) a store in dir. The scope directory is required;
// the roster provider may be nil if roster snapshots are never taken.
func Open(dir string, scopes ScopeDirectory, rosters RosterProvider, opts Options) (*Store, error) {
	opts.SetDefaults()
	if scopes == nil {
		return nil, weekblock_errors.ErrScopeUnknown
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	s := &Store{
		db:      db,
		dir:     dir,
		log:     opts.Logger,
		opts:    opts,
		scopes:  scopes,
		rosters: rosters,
		locks:   xsync.NewMapOf[string, *sync.Mutex](),
	}
	s.index = NewLocationIndex(db, scopes, opts.Logger, opts.PebbleWriteOptions)
	if opts.Cache != nil {
		s.cache = opts.Cache
	} else {
		s.cache = NewBlockCache(opts.LocationTTL, opts.ContentTTL)
	}
	if err = s.ensureIndexHeader(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return ErrClosed
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Index exposes the location index, mainly for tests and maintenance tools.
func (s *Store) Index() *LocationIndex { return s.index }

// Cache exposes the ephemeral cache tiers.
func (s *Store) Cache() *BlockCache { return s.cache }

func (s *Store) Database() *pebble.DB { return s.db }

func (s *Store) Logger() utils.Logger { return s.log }

func (s *Store) scopeLock(scope string) *sync.Mutex {
	m, _ := s.locks.LoadOrStore(scope, &sync.Mutex{})
	return m
}

// Key layout. Two-byte prefixes, scope terminated by NUL, numbers BigEndian:
//
//	"BR" scope 00 u32(row)            -> row payload
//	"BH" scope                        -> day-header labels
//	"BM" scope 00 u16(year) u8(week)  -> roster snapshot
//	"BL" scope 00 u16(year) u8(week)  -> changelog text
//	"XE" scope 00 u16(year) u8(week)  -> u32(startRow)
//	"XH"                              -> index header, survives rebuilds
func rowKey(scope string, row int) []byte {
	key := []byte{'B', 'R'}
	key = append(key, scope...)
	key = append(key, 0)
	key = binary.BigEndian.AppendUint32(key, uint32(row))
	return key
}

func rowKeyRange(scope string) (lo, hi []byte) {
	lo = rowKey(scope, 0)
	hi = []byte{'B', 'R'}
	hi = append(hi, scope...)
	hi = append(hi, 1)
	return
}

func rowKeyIndex(key []byte) int {
	return int(binary.BigEndian.Uint32(key[len(key)-4:]))
}

func headerKey(scope string) []byte {
	return append([]byte{'B', 'H'}, scope...)
}

func weekSuffix(scope string, year, week int) []byte {
	key := append([]byte{}, scope...)
	key = append(key, 0)
	key = binary.BigEndian.AppendUint16(key, uint16(year))
	key = append(key, byte(week))
	return key
}

func rosterKey(scope string, year, week int) []byte {
	return append([]byte{'B', 'M'}, weekSuffix(scope, year, week)...)
}

func changelogKey(scope string, year, week int) []byte {
	return append([]byte{'B', 'L'}, weekSuffix(scope, year, week)...)
}

func indexKey(scope string, year, week int) []byte {
	return append([]byte{'X', 'E'}, weekSuffix(scope, year, week)...)
}

func indexKeyRange(scope string) (lo, hi []byte) {
	lo = append([]byte{'X', 'E'}, scope...)
	lo = append(lo, 0)
	hi = append([]byte{'X', 'E'}, scope...)
	hi = append(hi, 1)
	return
}

// parseIndexKey undoes indexKey. Scope names must not contain NUL.
func parseIndexKey(key []byte) (scope string, year, week int, ok bool) {
	rest := key[2:]
	cut := strings.IndexByte(string(rest), 0)
	if cut < 0 || len(rest) != cut+1+3 {
		return "", 0, 0, false
	}
	scope = string(rest[:cut])
	year = int(binary.BigEndian.Uint16(rest[cut+1 : cut+3]))
	week = int(rest[cut+3])
	return scope, year, week, true
}

var indexHeaderKey = []byte{'X', 'H'}

func (s *Store) ensureIndexHeader() error {
	_, closer, err := s.db.Get(indexHeaderKey)
	if closer != nil {
		_ = closer.Close()
	}
	if err == nil {
		return nil
	}
	if err != pebble.ErrNotFound {
		return err
	}
	hdr := []byte{indexFormatVersion}
	hdr = binary.BigEndian.AppendUint64(hdr, uint64(time.Now().Unix()))
	return s.db.Set(indexHeaderKey, hdr, s.opts.PebbleWriteOptions)
}
