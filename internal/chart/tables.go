// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chart

// =============================================================================
// ELEMENTS
// =============================================================================

// Element is one of the five phases.
type Element string

const (
	Wood  Element = "Wood"
	Fire  Element = "Fire"
	Earth Element = "Earth"
	Metal Element = "Metal"
	Water Element = "Water"
)

// Elements lists the five phases in generation order. Ties for the
// dominant element resolve to the earliest entry.
var Elements = [5]Element{Wood, Fire, Earth, Metal, Water}

// generates maps an element to the one it produces.
var generates = map[Element]Element{
	Wood: Fire, Fire: Earth, Earth: Metal, Metal: Water, Water: Wood,
}

// controls maps an element to the one it overcomes.
var controls = map[Element]Element{
	Wood: Earth, Earth: Water, Water: Fire, Fire: Metal, Metal: Wood,
}

// =============================================================================
// STEMS AND BRANCHES
// =============================================================================

type symbol struct {
	pinyin  string
	element Element
	yang    bool
}

var stems = map[string]symbol{
	"甲": {"Jia", Wood, true},
	"乙": {"Yi", Wood, false},
	"丙": {"Bing", Fire, true},
	"丁": {"Ding", Fire, false},
	"戊": {"Wu", Earth, true},
	"己": {"Ji", Earth, false},
	"庚": {"Geng", Metal, true},
	"辛": {"Xin", Metal, false},
	"壬": {"Ren", Water, true},
	"癸": {"Gui", Water, false},
}

var branches = map[string]symbol{
	"子": {pinyin: "Zi", element: Water},
	"丑": {pinyin: "Chou", element: Earth},
	"寅": {pinyin: "Yin", element: Wood},
	"卯": {pinyin: "Mao", element: Wood},
	"辰": {pinyin: "Chen", element: Earth},
	"巳": {pinyin: "Si", element: Fire},
	"午": {pinyin: "Wu", element: Fire},
	"未": {pinyin: "Wei", element: Earth},
	"申": {pinyin: "Shen", element: Metal},
	"酉": {pinyin: "You", element: Metal},
	"戌": {pinyin: "Xu", element: Earth},
	"亥": {pinyin: "Hai", element: Water},
}

// =============================================================================
// LUCKY ATTRIBUTES
// =============================================================================

var luckyColors = map[Element][]string{
	Wood:  {"green", "cyan"},
	Fire:  {"red", "orange"},
	Earth: {"yellow", "brown"},
	Metal: {"white", "silver", "gold"},
	Water: {"black", "blue"},
}

var luckyNumbers = map[Element][]int{
	Wood:  {3, 8},
	Fire:  {2, 7},
	Earth: {5, 10},
	Metal: {4, 9},
	Water: {1, 6},
}

// =============================================================================
// TEN GODS
// =============================================================================

// Ten God labels, named by their traditional pinyin.
const (
	BiJie     = "Peer (Parallel)"
	JieCai    = "Rival (Rob Wealth)"
	ShiShen   = "Talent (Eating God / Output)"
	ShangGuan = "Performer (Hurting Officer)"
	ZhengCai  = "Direct Wealth"
	PianCai   = "Indirect Wealth"
	ZhengGuan = "Authority (Direct Officer)"
	QiSha     = "Challenger (Seven Killings)"
	ZhengYin  = "Nurture (Direct Resource)"
	PianYin   = "Inspiration (Indirect Resource)"
)

// TenGod labels the relation of other to the day stem. Unknown stems give "".
func TenGod(dayStem, otherStem string) string {
	day, ok := stems[dayStem]
	if !ok {
		return ""
	}
	other, ok := stems[otherStem]
	if !ok {
		return ""
	}
	same := day.yang == other.yang

	pick := func(samePolarity, differentPolarity string) string {
		if same {
			return samePolarity
		}
		return differentPolarity
	}

	switch {
	case other.element == day.element:
		return pick(BiJie, JieCai)
	case generates[day.element] == other.element:
		return pick(ShiShen, ShangGuan)
	case controls[day.element] == other.element:
		return pick(PianCai, ZhengCai)
	case controls[other.element] == day.element:
		return pick(QiSha, ZhengGuan)
	case generates[other.element] == day.element:
		return pick(PianYin, ZhengYin)
	}
	return ""
}
