package handler

import (
	"bytes"
	"encoding/json"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rl1809/loadout/internal/core/domain"
)

var (
	jsonNull = []byte("null")

	// items[slot][index][field] or items[slot][field]
	bracketItemKey = regexp.MustCompile(`^items\[([^\]]+)\](?:\[(\d+)\])?\[(item_name|item_description|item_image)\]$`)
)

// parseItemsJSON accepts an object keyed by slot whose values are a single
// item object, an array of item objects, or null. Anything else is rejected.
func parseItemsJSON(raw []byte) (domain.ItemSet, error) {
	set := domain.ItemSet{}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, jsonNull) {
		return set, nil
	}

	var slots map[string]json.RawMessage
	if err := json.Unmarshal(raw, &slots); err != nil {
		return nil, domain.NewValidationError("items", "must be a JSON object keyed by slot")
	}

	for slot, value := range slots {
		value = bytes.TrimSpace(value)
		switch {
		case len(value) == 0 || bytes.Equal(value, jsonNull):
			continue
		case value[0] == '[':
			var list []*domain.ItemInput
			if err := json.Unmarshal(value, &list); err != nil {
				return nil, domain.NewValidationError("items."+slot, "must hold item objects")
			}
			for _, in := range list {
				if in == nil {
					// keeps its position so it is skipped like a nameless item
					in = &domain.ItemInput{}
				}
				set[slot] = append(set[slot], *in)
			}
		case value[0] == '{':
			var in domain.ItemInput
			if err := json.Unmarshal(value, &in); err != nil {
				return nil, domain.NewValidationError("items."+slot, "must hold item objects")
			}
			set[slot] = []domain.ItemInput{in}
		default:
			return nil, domain.NewValidationError("items."+slot, "must be an item object or a list of items")
		}
	}

	return set, nil
}

// parseItemsForm collects bracket-notation form fields into an item set,
// ordering each slot by its numeric index.
func parseItemsForm(form url.Values) domain.ItemSet {
	indexed := make(map[string]map[int]*domain.ItemInput)

	for key, values := range form {
		m := bracketItemKey.FindStringSubmatch(key)
		if m == nil || len(values) == 0 {
			continue
		}
		slot, field := m[1], m[3]

		index := 0
		if m[2] != "" {
			n, err := strconv.Atoi(m[2])
			if err != nil {
				continue
			}
			index = n
		}

		if indexed[slot] == nil {
			indexed[slot] = make(map[int]*domain.ItemInput)
		}
		in := indexed[slot][index]
		if in == nil {
			in = &domain.ItemInput{}
			indexed[slot][index] = in
		}

		value := strings.TrimSpace(values[0])
		switch field {
		case "item_name":
			in.ItemName = value
		case "item_description":
			in.ItemDescription = value
		case "item_image":
			in.ItemImage = value
		}
	}

	set := domain.ItemSet{}
	for slot, byIndex := range indexed {
		indices := make([]int, 0, len(byIndex))
		for i := range byIndex {
			indices = append(indices, i)
		}
		sort.Ints(indices)
		for _, i := range indices {
			set[slot] = append(set[slot], *byIndex[i])
		}
	}

	return set
}

// applyUploadedImage gives items without an image the freshly uploaded one.
func applyUploadedImage(set domain.ItemSet, imageURL string) {
	if imageURL == "" {
		return
	}
	for slot, items := range set {
		for i := range items {
			if items[i].ItemName != "" && items[i].ItemImage == "" {
				set[slot][i].ItemImage = imageURL
			}
		}
	}
}

// parseTier maps an empty value to no tier.
func parseTier(raw string) (*int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	tier, err := strconv.Atoi(raw)
	if err != nil || tier < 0 {
		return nil, domain.NewValidationError("tier", "must be a non-negative integer")
	}
	return &tier, nil
}

// itemSetFromItems turns stored items back into an editable set.
func itemSetFromItems(items domain.Items) domain.ItemSet {
	set := make(domain.ItemSet, len(items))
	for slot, slotItems := range items {
		for _, item := range slotItems {
			set[slot] = append(set[slot], domain.ItemInput{
				ItemName:        item.ItemName,
				ItemDescription: item.ItemDescription,
				ItemImage:       item.ItemImage,
			})
		}
	}
	return set
}
