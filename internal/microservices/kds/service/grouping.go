package service

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"coffee-kds/internal/microservices/kds/models"
)

const (
	GroupGrouped    = "grouped"
	GroupStandalone = "standalone"

	shortNameMax = 12
)

var coffeeKeywords = []string{
	"cappuccino", "latte", "americano", "espresso", "flat white",
	"macchiato", "cortado", "mocha", "coffee", "brew",
}

var (
	tagRe   = regexp.MustCompile(`<[^>]*>`)
	spaceRe = regexp.MustCompile(`\s+`)
)

// ItemGroup is a drink and the option lines that followed it on the ticket.
// Options rung up before any drink become standalone groups.
type ItemGroup struct {
	Type     string        `json:"type"`
	Quantity string        `json:"quantity"`
	Name     string        `json:"name"`
	FullName string        `json:"full_name"`
	Options  []GroupOption `json:"options,omitempty"`
	Notes    *string       `json:"notes,omitempty"`
}

type GroupOption struct {
	Quantity string `json:"quantity"`
	Name     string `json:"name"`
	Group    string `json:"group"`
}

// GroupItems walks items in ticket order. A coffee (by metadata, or by name
// when a product has no metadata) opens a group; options attach to the open
// group.
func GroupItems(items []models.OrderItem, meta map[string]models.ProductMetadata) []ItemGroup {
	var (
		out     []ItemGroup
		current *ItemGroup
	)
	for _, it := range items {
		m, hasMeta := meta[it.ProductID]
		full := CleanName(it.ProductName)
		if full == "" {
			full = CleanName(it.Label())
		}
		name := ShortName(it.Label())
		if hasMeta && m.ShortName != "" {
			name = m.ShortName
		}

		isCoffee := looksLikeCoffee(it.ProductName + " " + it.Label())
		if hasMeta {
			isCoffee = m.Type == models.MetadataCoffee
		}

		switch {
		case isCoffee:
			if current != nil {
				out = append(out, *current)
			}
			current = &ItemGroup{
				Type:     GroupGrouped,
				Quantity: it.FormattedQuantity(),
				Name:     name,
				FullName: full,
				Notes:    it.Notes,
			}
		case current != nil:
			group := "Other"
			if hasMeta && m.GroupName != "" {
				group = m.GroupName
			}
			current.Options = append(current.Options, GroupOption{
				Quantity: it.FormattedQuantity(),
				Name:     name,
				Group:    group,
			})
		default:
			out = append(out, ItemGroup{
				Type:     GroupStandalone,
				Quantity: it.FormattedQuantity(),
				Name:     name,
				FullName: full,
				Notes:    it.Notes,
			})
		}
	}
	if current != nil {
		out = append(out, *current)
	}
	return out
}

// CompactLines renders one line per group: "1x Flat W + Oat, Xtra".
func CompactLines(groups []ItemGroup) []string {
	lines := make([]string, 0, len(groups))
	for _, g := range groups {
		line := g.Quantity + "x " + g.Name
		if len(g.Options) > 0 {
			names := make([]string, len(g.Options))
			for i, o := range g.Options {
				names[i] = o.Name
			}
			line += " + " + strings.Join(names, ", ")
		}
		lines = append(lines, line)
	}
	return lines
}

// UseCompact reports whether the grouped rendering is worth showing: three or
// more lines, or at least one drink with options attached.
func UseCompact(items []models.OrderItem, groups []ItemGroup) bool {
	if len(items) >= 3 {
		return true
	}
	for _, g := range groups {
		if g.Type == GroupGrouped && len(g.Options) > 0 {
			return true
		}
	}
	return false
}

// CleanName strips markup from POS display names ("<html><center>Flat<br>White").
func CleanName(s string) string {
	s = tagRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// ShortName abbreviates a product name to fit a narrow display column.
func ShortName(s string) string {
	clean := CleanName(s)
	if clean == "" {
		return "Unknown"
	}
	if len(clean) <= shortNameMax {
		return clean
	}
	words := strings.Split(clean, " ")
	if len(words) > 1 {
		var b strings.Builder
		for _, w := range words[:len(words)-1] {
			r, _ := utf8.DecodeRuneInString(w)
			b.WriteRune(r)
		}
		b.WriteString(" ")
		b.WriteString(words[len(words)-1])
		if b.Len() <= shortNameMax {
			return b.String()
		}
	}
	return truncate(clean, shortNameMax)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func looksLikeCoffee(name string) bool {
	name = strings.ToLower(name)
	for _, kw := range coffeeKeywords {
		if strings.Contains(name, kw) {
			return true
		}
	}
	return false
}
