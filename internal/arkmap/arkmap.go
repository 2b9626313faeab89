// Package arkmap expands map selectors into ordered map-id lists and derives
// the human display name, DNS-safe slug, and port assignment for each map.
package arkmap

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// MapNameLookup gives known map ids a friendly display name directly,
// bypassing the derivation algorithm.
var MapNameLookup = map[string]string{
	"Aberration_WP":    "Aberration",
	"BobsMissions_WP":  "Club Ark",
	"Extinction_WP":    "Extinction",
	"ScorchedEarth_WP": "Scorched Earth",
	"TheCenter_WP":     "The Center",
	"TheIsland_WP":     "The Island",
}

// ClubMap is the id of the "Club Ark" tutorial map; getMapEnvs strips the
// params/opts/mods keys from the global overlay for this map specifically.
const ClubMap = "BobsMissions_WP"

// ALLCanonical are the four numbered maps, excluding the club map.
var ALLCanonical = []string{"TheIsland_WP", "ScorchedEarth_WP", "Aberration_WP", "Extinction_WP"}

// ALLOfficial is ALLCanonical plus TheCenter_WP.
var ALLOfficial = []string{"TheIsland_WP", "TheCenter_WP", "ScorchedEarth_WP", "Aberration_WP", "Extinction_WP"}

// groupAliases maps a "@alias" selector entry to its member map ids.
var groupAliases = map[string][]string{
	"@canonical":       append([]string{ClubMap}, ALLCanonical...),
	"@canonicalNoClub": ALLCanonical,
	"@official":        append([]string{ClubMap}, ALLOfficial...),
	"@officialNoClub":  ALLOfficial,
}

// precedence fixes the sort order for maps the registry recognizes; every
// other map id sorts lexicographically after these.
var precedence = append(append([]string{}, ALLOfficial...), ClubMap)

// splitCamel inserts a space before each interior capital that either
// follows a lowercase letter or is itself followed by a lowercase letter
// (but is not the very first rune), matching the source's lookaround regex
// without relying on RE2 lookaround support (which Go's regexp lacks).
func splitCamel(s string) string {
	runes := []rune(s)
	var out strings.Builder
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevLower := unicode.IsLower(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevLower || nextLower {
				out.WriteRune(' ')
			}
		}
		out.WriteRune(r)
	}
	return out.String()
}

// ErrNoUniverse is returned when "@all" is used without an explicit universe.
type ErrNoUniverse struct{}

func (ErrNoUniverse) Error() string {
	return "@all can only be used if a list of all maps is passed in"
}

// ErrUnknownSelector is returned for a selector entry that isn't a known
// group alias, negation, or concrete map id pass-through.
type ErrUnknownSelector struct {
	Selector string
}

func (e ErrUnknownSelector) Error() string {
	return fmt.Sprintf("unknown map selector %q", e.Selector)
}

// Expand evaluates a selector list into an ordered, deduplicated map-id list.
// allMaps is the universe "@all" expands to; pass nil if "@all" is not used.
func Expand(selector []string, allMaps []string) ([]string, error) {
	expanded := map[string]struct{}{}
	remove := map[string]struct{}{}

	for _, entry := range selector {
		switch {
		case entry == "@all":
			if allMaps == nil {
				return nil, ErrNoUniverse{}
			}
			for _, m := range allMaps {
				expanded[m] = struct{}{}
			}
		case strings.HasPrefix(entry, "-"):
			remove[entry[1:]] = struct{}{}
		default:
			if group, ok := groupAliases[entry]; ok {
				for _, m := range group {
					expanded[m] = struct{}{}
				}
			} else {
				expanded[entry] = struct{}{}
			}
		}
	}

	for m := range remove {
		delete(expanded, m)
	}

	ids := make([]string, 0, len(expanded))
	for m := range expanded {
		ids = append(ids, m)
	}
	return order(ids), nil
}

// order sorts ids: precedence-listed ids first in fixed order, then the rest
// lexicographically.
func order(ids []string) []string {
	set := map[string]struct{}{}
	for _, id := range ids {
		set[id] = struct{}{}
	}

	ordered := make([]string, 0, len(ids))
	for _, id := range precedence {
		if _, ok := set[id]; ok {
			ordered = append(ordered, id)
			delete(set, id)
		}
	}

	rest := make([]string, 0, len(set))
	for id := range set {
		rest = append(rest, id)
	}
	sort.Strings(rest)

	return append(ordered, rest...)
}

// Name derives the human display name for a map id.
func Name(mapID string) string {
	if name, ok := MapNameLookup[mapID]; ok {
		return name
	}

	name := strings.TrimPrefix(mapID, "M_")
	switch {
	case strings.HasSuffix(name, "_SOTF"):
		name = strings.TrimSuffix(name, "_SOTF")
		name = splitCamel(name)
		name = fmt.Sprintf("The Survival of the Fittest (%s)", strings.TrimSpace(name))
	case strings.HasSuffix(name, "_WP"):
		name = strings.TrimSuffix(name, "_WP")
		name = splitCamel(name)
	default:
		name = splitCamel(name)
	}

	name = strings.ReplaceAll(name, "_", "")
	return strings.Title(strings.ToLower(name)) //nolint:staticcheck // matches source's naive title-casing
}

// Slug derives the <=11-character DNS-safe identifier for a map id.
func Slug(mapID string) string {
	return slugWithLength(mapID, 11)
}

func slugWithLength(mapID string, maxLength int) string {
	name := strings.ToLower(Name(mapID))
	name = strings.ReplaceAll(name, "survival of the fittest", "sotf")
	name = strings.ReplaceAll(name, "heim", "")

	noThe := strings.ReplaceAll(name, "the ", "")
	noThe = strings.ReplaceAll(noThe, "(", "")
	noThe = strings.ReplaceAll(noThe, ")", "")
	noThe = strings.TrimSpace(noThe)

	slug := strings.ReplaceAll(noThe, " ", "-")
	if len(slug) > maxLength {
		var initials strings.Builder
		for _, tok := range strings.Fields(noThe) {
			if tok != "" {
				initials.WriteByte(tok[0])
			}
		}
		slug = initials.String()
	}
	return slug
}

// GameServer is the derived per-map port/name assignment for an expanded map.
type GameServer struct {
	MapID    string
	MapName  string
	Slug     string
	Port     int32
	RCONPort int32
}

// Servers assigns sequential ports to an ordered map-id list, starting at
// gamePortStart/rconPortStart.
func Servers(mapIDs []string, gamePortStart, rconPortStart int32) []GameServer {
	out := make([]GameServer, 0, len(mapIDs))
	for i, id := range mapIDs {
		out = append(out, GameServer{
			MapID:    id,
			MapName:  Name(id),
			Slug:     Slug(id),
			Port:     gamePortStart + int32(i),
			RCONPort: rconPortStart + int32(i),
		})
	}
	return out
}
