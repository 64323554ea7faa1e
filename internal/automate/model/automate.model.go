package model

import (
	"regexp"
	"strings"
	"time"

	"github.com/danwakefield/fnmatch"
)

const (
	MatchAny     = "any"
	MatchAll     = "all"
	MatchLiteral = "literal"
	MatchRegex   = "regex"
	MatchFuzzy   = "fuzzy"
)

func IsValidAlgorithm(a string) bool {
	switch a {
	case MatchAny, MatchAll, MatchLiteral, MatchRegex, MatchFuzzy:
		return true
	}
	return false
}

// Automate files a document into DstFolderID and tags it once its OCR text
// matches.
type Automate struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	Name              string    `json:"name"`
	Match             string    `json:"match"`
	MatchingAlgorithm string    `json:"matching_algorithm"`
	IsCaseSensitive   bool      `json:"is_case_sensitive"`
	DstFolderID       string    `json:"dst_folder_id"`
	Tags              []string  `json:"tags"`
	CreatedAt         time.Time `json:"created_at"`
}

type CreateRequest struct {
	Name              string   `json:"name"`
	Match             string   `json:"match"`
	MatchingAlgorithm string   `json:"matching_algorithm"`
	IsCaseSensitive   bool     `json:"is_case_sensitive"`
	DstFolderID       string   `json:"dst_folder_id"`
	Tags              []string `json:"tags"`
}

// Matches reports whether text satisfies the rule.
func (a Automate) Matches(text string) bool {
	if strings.TrimSpace(a.Match) == "" || text == "" {
		return false
	}
	switch a.MatchingAlgorithm {
	case MatchAny:
		for _, w := range strings.Fields(a.Match) {
			if a.wordIn(w, text) {
				return true
			}
		}
		return false
	case MatchAll:
		for _, w := range strings.Fields(a.Match) {
			if !a.wordIn(w, text) {
				return false
			}
		}
		return true
	case MatchLiteral:
		return a.wordIn(strings.TrimSpace(a.Match), text)
	case MatchRegex:
		re, err := regexp.Compile(a.flags() + a.Match)
		if err != nil {
			return false
		}
		return re.MatchString(text)
	case MatchFuzzy:
		flags := 0
		if !a.IsCaseSensitive {
			flags = fnmatch.FNM_CASEFOLD
		}
		return fnmatch.Match(a.Match, text, flags)
	}
	return false
}

func (a Automate) flags() string {
	if a.IsCaseSensitive {
		return ""
	}
	return "(?i)"
}

func (a Automate) wordIn(word, text string) bool {
	re := regexp.MustCompile(a.flags() + `\b` + regexp.QuoteMeta(word) + `\b`)
	return re.MatchString(text)
}
