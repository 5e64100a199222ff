package match

import (
	"strings"
	"unicode"
)

// Browsers on Windows and ChromeOS report GPU strings through the ANGLE
// translation layer, e.g. "ANGLE (Apple, ANGLE Metal Renderer: Apple M4
// Pro, Unspecified Version)". UnwrapANGLE strips the wrapper and returns
// the inner vendor/renderer/version text; non-ANGLE strings pass through
// unchanged.
func UnwrapANGLE(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(strings.ToLower(trimmed), "angle") {
		return s
	}
	open := strings.Index(trimmed, "(")
	closing := strings.LastIndex(trimmed, ")")
	if open == -1 || closing <= open {
		return s
	}
	return trimmed[open+1 : closing]
}

// vendorPatterns maps word tokens found in GPU strings to canonical
// vendor tokens. Order matters, the first hit wins.
var vendorPatterns = []struct {
	word  string
	token string
}{
	{"apple", "apple"},
	{"nvidia", "nvidia"},
	{"geforce", "nvidia"},
	{"quadro", "nvidia"},
	{"rtx", "nvidia"},
	{"tegra", "nvidia"},
	{"amd", "amd"},
	{"radeon", "amd"},
	{"ryzen", "amd"},
	{"intel", "intel"},
	{"iris", "intel"},
	{"uhd", "intel"},
	{"qualcomm", "qualcomm"},
	{"adreno", "qualcomm"},
	{"snapdragon", "qualcomm"},
	{"arm", "arm"},
	{"mali", "arm"},
	{"immortalis", "arm"},
}

// archPatterns maps word tokens to canonical architecture family tokens.
// Version suffixes drop out of tokenization ("metal-3" and "Metal 3" both
// carry the word "metal"), so families compare equal across versions.
var archPatterns = []struct {
	word  string
	token string
}{
	{"metal", "metal"},
	{"vulkan", "vulkan"},
	{"opengl", "opengl"},
	{"d3d11", "d3d"},
	{"d3d12", "d3d"},
	{"direct3d", "d3d"},
	{"direct3d11", "d3d"},
	{"direct3d12", "d3d"},
	{"rdna", "rdna"},
	{"rdna2", "rdna"},
	{"rdna3", "rdna"},
	{"gcn", "gcn"},
	{"vega", "vega"},
	{"ampere", "ampere"},
	{"ada", "ada"},
	{"turing", "turing"},
	{"pascal", "pascal"},
	{"maxwell", "maxwell"},
	{"xe", "xe"},
	{"adreno", "adreno"},
	{"mali", "mali"},
	{"valhall", "valhall"},
	{"midgard", "midgard"},
}

// NormalizeVendor maps a free-text GPU vendor or renderer string to a
// canonical vendor token (apple, nvidia, amd, intel, qualcomm, arm).
// Unrecognized input returns "".
func NormalizeVendor(s string) string {
	words := tokenize(s)
	for _, p := range vendorPatterns {
		if containsWord(words, p.word) {
			return p.token
		}
	}
	return ""
}

// NormalizeArch maps a free-text GPU architecture or renderer string to a
// canonical architecture family token. Unrecognized input returns "".
func NormalizeArch(s string) string {
	words := tokenize(s)
	for _, p := range archPatterns {
		if containsWord(words, p.word) {
			return p.token
		}
	}
	return ""
}

// tokenize lowercases, unwraps ANGLE and splits into alphanumeric words.
// Word-level matching keeps substrings like the "ati" inside
// "Corporation" from triggering a vendor hit.
func tokenize(s string) []string {
	lowered := strings.ToLower(UnwrapANGLE(s))
	return strings.FieldsFunc(lowered, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func containsWord(words []string, word string) bool {
	for _, w := range words {
		if w == word {
			return true
		}
	}
	return false
}
