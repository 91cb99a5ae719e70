package parser

import (
	"errors"
	"fmt"
)

// ErrMissingCell marks a row whose required cell could not be located.
var ErrMissingCell = errors.New("missing required cell")

type field int

const (
	fieldDate field = iota
	fieldLocation
	fieldCategory
	fieldDiscipline
	fieldNation
	fieldRank
	fieldFISPoints
	fieldCupPoints
	fieldCount
)

type rowValues [fieldCount]string

type pick int

const (
	// pickIndex reads the cell at a fixed position.
	pickIndex pick = iota
	// pickInOrder assigns matching cells to fields by position. An empty cell
	// still takes its slot.
	pickInOrder
	// pickLastDescendant reads the matching descendant of the last cell that has one.
	pickLastDescendant
	// pickLastStacked reads the child divs of the last matching cell into fields.
	pickLastStacked
)

type columnRule struct {
	name     string
	match    Matcher
	pick     pick
	index    int
	fields   []field
	required bool
}

// profileColumns describes the results table of an athlete biography page.
var profileColumns = []columnRule{
	{name: "date", pick: pickIndex, index: 0, fields: []field{fieldDate}, required: true},
	{
		name:   "venue",
		match:  ByClass("hidden-sm-down"),
		pick:   pickInOrder,
		fields: []field{fieldLocation, fieldCategory, fieldDiscipline},
	},
	{name: "nation", match: ByClass("country__name-short"), pick: pickLastDescendant, fields: []field{fieldNation}},
	{
		name:     "rank",
		match:    ByClass("g-xs-6"),
		pick:     pickLastStacked,
		fields:   []field{fieldRank, fieldFISPoints, fieldCupPoints},
		required: true,
	},
}

func (r columnRule) apply(cells []Node, vals *rowValues) error {
	found := false
	switch r.pick {
	case pickIndex:
		if r.index < len(cells) {
			vals[r.fields[0]] = cells[r.index].Text()
			found = true
		}
	case pickInOrder:
		slot := 0
		for _, cell := range cells {
			if !r.match(cell) {
				continue
			}
			found = true
			if slot < len(r.fields) {
				vals[r.fields[slot]] = cell.Text()
			}
			slot++
		}
	case pickLastDescendant:
		for _, cell := range cells {
			if n, ok := first(cell, r.match); ok {
				vals[r.fields[0]] = n.Text()
				found = true
			}
		}
	case pickLastStacked:
		var last Node
		for _, cell := range cells {
			if r.match(cell) {
				last = cell
			}
		}
		if last != nil {
			found = true
			for i, div := range childrenMatching(last, ByTag("div")) {
				if i >= len(r.fields) {
					break
				}
				vals[r.fields[i]] = div.Text()
			}
		}
	}
	if !found && r.required {
		return fmt.Errorf("%w: %s", ErrMissingCell, r.name)
	}
	return nil
}
