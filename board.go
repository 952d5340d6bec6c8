package main

import "github.com/sivtsovame/battle-of-sea/constants"

// Cell is the state of one board square.
type Cell uint8

const (
	CellEmpty Cell = iota
	CellShip
	CellHit
	CellMiss
)

// ShotResult is the outcome of firing at a square.
type ShotResult uint8

const (
	ShotMiss ShotResult = iota
	ShotHit
	ShotSunk
	ShotAlreadyShot
)

func (r ShotResult) String() string {
	switch r {
	case ShotMiss:
		return "Miss"
	case ShotHit:
		return "Hit"
	case ShotSunk:
		return "Sunk"
	case ShotAlreadyShot:
		return "AlreadyShot"
	}
	return "Unknown"
}

// Coord is a board position: x = column, y = row, zero-indexed.
type Coord struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Ship is a placed ship: its occupied cells and the subset already hit.
// The shape is fixed at placement; only the hit set grows.
type Ship struct {
	Cells []Coord
	Hits  map[Coord]struct{}
}

func (s *Ship) Contains(x, y int) bool {
	for _, c := range s.Cells {
		if c.X == x && c.Y == y {
			return true
		}
	}
	return false
}

func (s *Ship) RegisterHit(x, y int) {
	s.Hits[Coord{X: x, Y: y}] = struct{}{}
}

func (s *Ship) IsSunk() bool {
	return len(s.Hits) == len(s.Cells)
}

// Board is one player's 10x10 grid plus the ships placed on it.
// Every CellShip square belongs to exactly one ship.
type Board struct {
	cells [constants.BoardSize][constants.BoardSize]Cell
	ships []*Ship
}

func NewBoard() *Board {
	return &Board{}
}

// Reset wipes the grid and the ship list; called before placement and
// before each rematch.
func (b *Board) Reset() {
	b.cells = [constants.BoardSize][constants.BoardSize]Cell{}
	b.ships = nil
}

// PlaceShip validates that every target cell is in bounds and empty, then
// marks them and registers a new ship. On any failure nothing is placed.
// Adjacency between ships is not checked here; the placement UI enforces it.
func (b *Board) PlaceShip(x, y, size int, horizontal bool) bool {
	cells := make([]Coord, 0, size)
	for i := 0; i < size; i++ {
		cx, cy := x, y
		if horizontal {
			cx += i
		} else {
			cy += i
		}
		if cx < 0 || cy < 0 || cx >= constants.BoardSize || cy >= constants.BoardSize {
			return false
		}
		if b.cells[cx][cy] != CellEmpty {
			return false
		}
		cells = append(cells, Coord{X: cx, Y: cy})
	}

	ship := &Ship{Cells: cells, Hits: make(map[Coord]struct{})}
	for _, c := range cells {
		b.cells[c.X][c.Y] = CellShip
	}
	b.ships = append(b.ships, ship)
	return true
}

// Shoot resolves a shot at (x, y). Hit and miss cells are terminal:
// re-shooting them returns ShotAlreadyShot with no state change.
// Callers validate that x and y are in bounds.
func (b *Board) Shoot(x, y int) ShotResult {
	switch b.cells[x][y] {
	case CellHit, CellMiss:
		return ShotAlreadyShot
	case CellShip:
		b.cells[x][y] = CellHit
		for _, ship := range b.ships {
			if ship.Contains(x, y) {
				ship.RegisterHit(x, y)
				if ship.IsSunk() {
					return ShotSunk
				}
				return ShotHit
			}
		}
		return ShotHit
	}
	b.cells[x][y] = CellMiss
	return ShotMiss
}

// IsDefeated reports whether at least one ship exists and all are sunk.
// A board with no ships placed is never defeated.
func (b *Board) IsDefeated() bool {
	if len(b.ships) == 0 {
		return false
	}
	for _, ship := range b.ships {
		if !ship.IsSunk() {
			return false
		}
	}
	return true
}

// ShipCoordinates returns every occupied cell; sent back to the owner in
// GameStart so the client can redraw its own layout.
func (b *Board) ShipCoordinates() []Coord {
	coords := make([]Coord, 0)
	for _, ship := range b.ships {
		coords = append(coords, ship.Cells...)
	}
	return coords
}

// Cell returns the state at (x, y).
func (b *Board) Cell(x, y int) Cell {
	return b.cells[x][y]
}

// ShipCount returns the number of placed ships.
func (b *Board) ShipCount() int {
	return len(b.ships)
}
