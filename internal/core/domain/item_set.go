package domain

import (
	"fmt"
	"sort"
	"strings"
)

type ItemInput struct {
	ItemName        string `json:"item_name"`
	ItemDescription string `json:"item_description,omitempty"`
	ItemImage       string `json:"item_image,omitempty"`
}

// ItemSet is the complete desired item list of a build, keyed by slot.
// Within a slot, index 0 is the primary choice and the rest are alternates.
type ItemSet map[string][]ItemInput

// Validate rejects blank slots and slots containing square brackets, which
// the admin edit form uses to encode slot names.
func (s ItemSet) Validate() error {
	for slot := range s {
		if strings.TrimSpace(slot) == "" {
			return NewValidationError("slot", "must not be empty")
		}
		if strings.ContainsAny(slot, "[]") {
			return NewValidationError("slot", fmt.Sprintf("%q must not contain square brackets", slot))
		}
	}
	return nil
}

// Rows expands the set into the rows to insert for buildID. Items with an
// empty name are skipped and do not consume an alternate position. Slots are
// emitted in canonical order so inserts are deterministic.
func (s ItemSet) Rows(buildID int64) []BuildItem {
	var rows []BuildItem
	for _, slot := range s.Slots() {
		position := 0
		for _, in := range s[slot] {
			if in.ItemName == "" {
				continue
			}
			rows = append(rows, BuildItem{
				BuildID:         buildID,
				Slot:            slot,
				ItemName:        in.ItemName,
				ItemDescription: in.ItemDescription,
				ItemImage:       in.ItemImage,
				IsAlternative:   position > 0,
			})
			position++
		}
	}
	return rows
}

// Slots returns the set's slots in display order.
func (s ItemSet) Slots() []string {
	slots := make([]string, 0, len(s))
	for slot := range s {
		slots = append(slots, slot)
	}
	sortSlots(slots)
	return slots
}

// SlotOrder is the display order of well-known equipment slots.
var SlotOrder = []string{
	"weapon",
	"offhand",
	"head",
	"body",
	"shoes",
	"cape",
	"bag",
	"potion",
	"food",
	"mount",
}

var slotRank = func() map[string]int {
	m := make(map[string]int, len(SlotOrder))
	for i, slot := range SlotOrder {
		m[slot] = i
	}
	return m
}()

// SortedSlots returns the slots of items in display order: known slots first,
// then the rest alphabetically.
func SortedSlots(items Items) []string {
	slots := make([]string, 0, len(items))
	for slot := range items {
		slots = append(slots, slot)
	}
	sortSlots(slots)
	return slots
}

func sortSlots(slots []string) {
	sort.Slice(slots, func(i, j int) bool {
		ri, iKnown := slotRank[strings.ToLower(slots[i])]
		rj, jKnown := slotRank[strings.ToLower(slots[j])]
		switch {
		case iKnown && jKnown:
			if ri != rj {
				return ri < rj
			}
			return slots[i] < slots[j]
		case iKnown:
			return true
		case jKnown:
			return false
		default:
			return slots[i] < slots[j]
		}
	})
}
