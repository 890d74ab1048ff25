// Package snapshot captures a serializable image of the heap graph: zones,
// cells and the edges between them. Images are encoded as canonical CBOR so
// two captures of identical heaps are byte-identical.
package snapshot

import (
	"fmt"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/jason-hall/gecko-dev/gc"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("snapshot: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Snapshot is one captured heap image.
type Snapshot struct {
	ID    string         `cbor:"1,keyasint"`
	Taken time.Time      `cbor:"2,keyasint"`
	Zones []ZoneImage    `cbor:"3,keyasint"`
	Edges []EdgeImage    `cbor:"4,keyasint"`
	Atoms map[uint32]int `cbor:"5,keyasint"` // atom index -> referencing zone count
}

// ZoneImage is one zone's cell population.
type ZoneImage struct {
	Name  string      `cbor:"1,keyasint"`
	Cells []CellImage `cbor:"2,keyasint"`
}

// CellImage identifies one tenured cell.
type CellImage struct {
	Kind  string `cbor:"1,keyasint"`
	Index uint32 `cbor:"2,keyasint"`
	Atom  bool   `cbor:"3,keyasint"`
}

// EdgeImage is one traced edge between tenured cells.
type EdgeImage struct {
	FromZone  string `cbor:"1,keyasint"`
	FromIndex uint32 `cbor:"2,keyasint"`
	ToZone    string `cbor:"3,keyasint"`
	ToIndex   uint32 `cbor:"4,keyasint"`
	Name      string `cbor:"5,keyasint"`
}

// Capture walks the heap and builds a snapshot. Must not be called while a
// collection is active: the walk reads the same structures the sweeper
// rewrites.
func Capture(rt *gc.Runtime) (*Snapshot, error) {
	if rt.State() != gc.StateNotActive {
		return nil, fmt.Errorf("snapshot: collector active in state %s", rt.State())
	}

	snap := &Snapshot{
		ID:    uuid.New().String(),
		Taken: time.Now().UTC().Truncate(time.Microsecond),
		Atoms: make(map[uint32]int),
	}

	for _, z := range rt.Zones() {
		zi := ZoneImage{Name: z.Name()}
		for kind := gc.Kind(0); kind < gc.KindCount; kind++ {
			z.ForEachCell(kind, func(c *gc.Cell) bool {
				zi.Cells = append(zi.Cells, CellImage{
					Kind:  kind.String(),
					Index: c.Index(),
					Atom:  c.IsAtom(),
				})

				trc := &gc.CallbackTracer{OnEdge: func(target *gc.Cell, name string) {
					if target == nil || !target.IsTenured() {
						return
					}
					snap.Edges = append(snap.Edges, EdgeImage{
						FromZone:  z.Name(),
						FromIndex: c.Index(),
						ToZone:    target.Zone().Name(),
						ToIndex:   target.Index(),
						Name:      name,
					})
					if target.IsAtom() {
						snap.Atoms[gc.AtomIndexOf(target)]++
					}
				}}
				gc.TraceChildren(trc, c)
				return true
			})
		}
		snap.Zones = append(snap.Zones, zi)
	}
	return snap, nil
}

// Marshal serializes a snapshot to canonical CBOR bytes.
func Marshal(s *Snapshot) ([]byte, error) {
	return cborEncMode.Marshal(s)
}

// Unmarshal deserializes a snapshot from CBOR bytes.
func Unmarshal(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("snapshot: unmarshal: %w", err)
	}
	return &s, nil
}

// WriteFile captures the runtime and writes the image to path.
func WriteFile(rt *gc.Runtime, path string) (*Snapshot, error) {
	s, err := Capture(rt)
	if err != nil {
		return nil, err
	}
	data, err := Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("snapshot: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("snapshot: write %s: %w", path, err)
	}
	return s, nil
}

// ReadFile loads a snapshot image from path.
func ReadFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: read %s: %w", path, err)
	}
	return Unmarshal(data)
}

// CellCount returns the total number of cells across all zones.
func (s *Snapshot) CellCount() int {
	n := 0
	for _, z := range s.Zones {
		n += len(z.Cells)
	}
	return n
}
