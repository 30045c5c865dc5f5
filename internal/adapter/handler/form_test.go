package handler

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/loadout/internal/core/domain"
)

func TestParseItemsJSON_ObjectOrArray(t *testing.T) {
	set, err := parseItemsJSON([]byte(`{
		"weapon": [{"item_name": "Claymore"}, null, {"item_name": "Bloodletter", "extra": true}],
		"head": {"item_name": "Hood", "item_image": "/uploads/hood.png"},
		"cape": null
	}`))
	require.NoError(t, err)

	require.Len(t, set["weapon"], 3)
	assert.Equal(t, "Claymore", set["weapon"][0].ItemName)
	assert.Empty(t, set["weapon"][1].ItemName)
	assert.Equal(t, []domain.ItemInput{{ItemName: "Hood", ItemImage: "/uploads/hood.png"}}, set["head"])
	assert.NotContains(t, set, "cape")

	// the null entry is skipped without costing Bloodletter its alternate flag
	rows := set.Rows(1)
	require.Len(t, rows, 3)
	assert.True(t, rows[1].IsAlternative)
}

func TestParseItemsJSON_Empty(t *testing.T) {
	for _, raw := range []string{"", "  ", "null", "{}"} {
		set, err := parseItemsJSON([]byte(raw))
		require.NoError(t, err, raw)
		assert.Empty(t, set, raw)
	}
}

func TestParseItemsJSON_RejectsMalformed(t *testing.T) {
	for _, raw := range []string{
		`[]`,
		`"weapon"`,
		`{"weapon": "Claymore"}`,
		`{"weapon": 3}`,
		`{"weapon": [1, 2]}`,
		`{"weapon": {"item_name": ["a"]}}`,
		`{"weapon": `,
	} {
		_, err := parseItemsJSON([]byte(raw))
		assert.ErrorIs(t, err, domain.ErrValidation, raw)
	}
}

func TestParseItemsForm(t *testing.T) {
	set := parseItemsForm(url.Values{
		"name":                          {"ignored"},
		"items[weapon][10][item_name]":  {"Third"},
		"items[weapon][2][item_name]":   {" Second "},
		"items[weapon][0][item_name]":   {"First"},
		"items[weapon][0][item_image]":  {"/uploads/a.png"},
		"items[head][item_name]":        {"Hood"},
		"items[head][item_description]": {"Leather"},
		"items[cape][0][unknown]":       {"x"},
		"items[bag][0][item_name]":      {""},
		"items[offhand][x][item_name]":  {"bad index"},
	})

	require.Len(t, set["weapon"], 3)
	assert.Equal(t, "First", set["weapon"][0].ItemName)
	assert.Equal(t, "/uploads/a.png", set["weapon"][0].ItemImage)
	assert.Equal(t, "Second", set["weapon"][1].ItemName)
	assert.Equal(t, "Third", set["weapon"][2].ItemName)
	assert.Equal(t, []domain.ItemInput{{ItemName: "Hood", ItemDescription: "Leather"}}, set["head"])
	assert.NotContains(t, set, "cape")
	assert.NotContains(t, set, "offhand")
	assert.Len(t, set["bag"], 1)
	for _, row := range set.Rows(1) {
		assert.NotEqual(t, "bag", row.Slot)
	}
}

func TestApplyUploadedImage(t *testing.T) {
	set := domain.ItemSet{
		"weapon": {{ItemName: "Claymore"}, {ItemName: "Kept", ItemImage: "/img/kept.png"}, {}},
	}
	applyUploadedImage(set, "/uploads/new.png")

	assert.Equal(t, "/uploads/new.png", set["weapon"][0].ItemImage)
	assert.Equal(t, "/img/kept.png", set["weapon"][1].ItemImage)
	assert.Empty(t, set["weapon"][2].ItemImage)
}

func TestParseTier(t *testing.T) {
	tier, err := parseTier("")
	require.NoError(t, err)
	assert.Nil(t, tier)

	tier, err = parseTier(" 6 ")
	require.NoError(t, err)
	assert.Equal(t, 6, *tier)

	_, err = parseTier("-2")
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = parseTier("six")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestEditSlots_KnownSlotsWithBlankRow(t *testing.T) {
	slots := editSlots(domain.ItemSet{"relic": {{ItemName: "Idol"}}, "weapon": {{ItemName: "Claymore"}}})

	require.Len(t, slots, len(domain.SlotOrder)+1)
	assert.Equal(t, "weapon", slots[0].Name)
	assert.Equal(t, []domain.ItemInput{{ItemName: "Claymore"}, {}}, slots[0].Items)
	assert.Equal(t, "relic", slots[len(slots)-1].Name)
	assert.Equal(t, []domain.ItemInput{{}}, slots[1].Items)
}
