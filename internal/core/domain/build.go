package domain

import (
	"strings"
	"time"
)

const (
	BuildTypeFarming   = "farming"
	BuildTypeSoloPvP   = "solo_pvp"
	BuildTypeGroupPvP  = "group_pvp"
	BuildTypeAvalon    = "avalon"
	BuildTypeGanking   = "ganking"
	BuildTypeGathering = "gathering"
	BuildTypeCustom    = "custom"
)

// BuildTypes lists the types offered by the lookup command and admin forms.
var BuildTypes = []string{
	BuildTypeFarming,
	BuildTypeSoloPvP,
	BuildTypeGroupPvP,
	BuildTypeAvalon,
	BuildTypeGanking,
	BuildTypeGathering,
	BuildTypeCustom,
}

type Build struct {
	ID          int64
	Name        string
	Description string
	Type        string
	Tier        *int // nil when the build is tier-agnostic
	CreatedAt   time.Time
}

type BuildItem struct {
	ID              int64
	BuildID         int64
	Slot            string
	ItemName        string
	ItemDescription string
	ItemImage       string
	IsAlternative   bool
}

// BuildFields are the mutable columns of a build.
type BuildFields struct {
	Name        string
	Description string
	Type        string
	Tier        *int
}

func (f BuildFields) Validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return NewValidationError("name", "is required")
	}
	if strings.TrimSpace(f.Type) == "" {
		return NewValidationError("type", "is required")
	}
	if f.Tier != nil && *f.Tier < 0 {
		return NewValidationError("tier", "must be a non-negative integer")
	}
	return nil
}

type BuildFilter struct {
	Type        string // empty matches every type
	Tier        *int   // nil matches every tier, including untiered builds
	NewestFirst bool
}

// Items maps a slot to its items; the primary item comes first.
type Items map[string][]BuildItem

func GroupItems(items []BuildItem) Items {
	grouped := make(Items)
	for _, item := range items {
		grouped[item.Slot] = append(grouped[item.Slot], item)
	}
	return grouped
}

func (it Items) Count() int {
	n := 0
	for _, slotItems := range it {
		n += len(slotItems)
	}
	return n
}

// Primary returns the non-alternative item of a slot, if any.
func (it Items) Primary(slot string) (BuildItem, bool) {
	for _, item := range it[slot] {
		if !item.IsAlternative {
			return item, true
		}
	}
	return BuildItem{}, false
}

// BuildWithItems is a consistent snapshot of a build row and its item set.
type BuildWithItems struct {
	Build Build
	Items Items
}

func IntPtr(v int) *int {
	return &v
}
