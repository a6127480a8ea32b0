package twitter

import (
	"regexp"

	"golang.org/x/text/unicode/norm"
)

// URLLength is the t.co length every link counts as, whatever its size.
const URLLength = 23

var urlPattern = regexp.MustCompile(`https?://\S+`)

// narrowRanges weigh 1; every other code point weighs 2.
var narrowRanges = [][2]rune{
	{0x0000, 0x10FF},
	{0x2000, 0x200D},
	{0x2010, 0x201F},
	{0x2032, 0x2037},
}

// WeightedLength counts text the way X applies its 280 limit. Text is NFC
// normalized, each URL weighs URLLength, Latin and common punctuation weigh
// 1, and CJK, emoji and the rest weigh 2. Multi code point emoji (ZWJ
// sequences, skin tones, presentation selectors) count once.
func WeightedLength(text string) int {
	text = norm.NFC.String(text)

	total := len(urlPattern.FindAllStringIndex(text, -1)) * URLLength
	for _, segment := range urlPattern.Split(text, -1) {
		joined := false
		for _, r := range segment {
			switch {
			case r == 0x200D:
				joined = true
				continue
			case r == 0xFE0E || r == 0xFE0F, r >= 0x1F3FB && r <= 0x1F3FF:
				continue
			case joined:
				joined = false
				continue
			}
			total += runeWeight(r)
		}
	}
	return total
}

func runeWeight(r rune) int {
	for _, rng := range narrowRanges {
		if r >= rng[0] && r <= rng[1] {
			return 1
		}
	}
	return 2
}
