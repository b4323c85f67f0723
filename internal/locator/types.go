package locator

import (
	"encoding/json"
	"fmt"
)

// Mode selects which kind of identifier a Locator resolves.
type Mode string

const (
	ModeOrganization Mode = "organization"
	ModeProjectKey   Mode = "project_key"
)

// Identifier is a control plane id. The wire value may be a JSON string or
// an integer.
type Identifier string

func (id *Identifier) UnmarshalJSON(b []byte) error {
	s, err := decodeIdentifier(b)
	if err != nil {
		return err
	}
	if s == nil {
		*id = ""
		return nil
	}
	*id = Identifier(*s)
	return nil
}

// Row is one mapping as returned by the control plane.
type Row struct {
	ID        Identifier `json:"id"`
	Slug      string     `json:"slug,omitempty"`
	Cell      string     `json:"cell"`
	UpdatedAt int64      `json:"updated_at,omitempty"`
	Deleted   bool       `json:"deleted,omitempty"`
}

func (r Row) validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: row without id", ErrMalformedResponse)
	}
	if r.Cell == "" && !r.Deleted {
		return fmt.Errorf("%w: row %q without cell", ErrMalformedResponse, r.ID)
	}
	return nil
}

// Page is one bootstrap page.
type Page struct {
	Rows       []Row
	Next       Cursor
	HasMore    bool
	Localities map[string]string
}

type pageWire struct {
	Data     []Row `json:"data"`
	Metadata struct {
		Cursor         *string           `json:"cursor"`
		HasMore        bool              `json:"has_more"`
		CellToLocality map[string]string `json:"cell_to_locality"`
	} `json:"metadata"`
}

// incrementalWire accepts both a bare row array and the paginated envelope.
type incrementalWire struct {
	Rows []Row
}

func (w *incrementalWire) UnmarshalJSON(b []byte) error {
	var rows []Row
	if err := json.Unmarshal(b, &rows); err == nil {
		w.Rows = rows
		return nil
	}
	var env pageWire
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	if env.Data == nil {
		return fmt.Errorf("no data field")
	}
	w.Rows = env.Data
	return nil
}

// Snapshot is the unit persisted by a BackupStore.
type Snapshot struct {
	Version int
	// Routes maps every lookup key (ids and slugs) to its cell.
	Routes map[string]string
	// Slugs maps organization ids to their slug key in Routes.
	Slugs      map[string]string
	Localities map[string]string
	// Watermark is the max updated_at (epoch seconds) folded into Routes.
	Watermark int64
}

const snapshotVersion = 1

// State is the sync engine's lifecycle state.
type State int32

const (
	StateBootstrapping State = iota
	StateSynced
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateBootstrapping:
		return "bootstrapping"
	case StateSynced:
		return "synced"
	case StateDegraded:
		return "degraded"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}
