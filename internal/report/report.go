package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"gopkg.in/yaml.v3"

	"panorama-rulefinder/internal/model"
)

const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// RuleHeadings are the rule table columns, in order.
var RuleHeadings = []string{
	"Rule Name",
	"Device Group",
	"Source Zone",
	"Dest Zone",
	"Source Address",
	"Source Users",
	"Dest Address",
	"Category",
	"Application",
	"Service",
	"Action",
	"Disabled",
}

// Render writes result to w in format.
func Render(w io.Writer, format string, result *model.SearchResult) error {
	switch strings.ToLower(format) {
	case "", FormatTable:
		return renderTable(w, result)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(result); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q: want table, json or yaml", format)
	}
}

func renderTable(w io.Writer, result *model.SearchResult) error {
	fmt.Fprintf(w, "Search: %s", result.Token)
	if result.IP != "" && result.IP != result.Token {
		fmt.Fprintf(w, "  ip: %s", result.IP)
	}
	if result.FQDN != "" && result.FQDN != result.Token {
		fmt.Fprintf(w, "  fqdn: %s", result.FQDN)
	}
	fmt.Fprintln(w)

	if len(result.Objects) == 0 {
		_, err := fmt.Fprintln(w, "No address objects matched.")
		return err
	}

	names := make([]string, 0, len(result.Objects))
	for name := range result.Objects {
		names = append(names, name)
	}
	sort.Strings(names)

	objects := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("Object", "Matched Value")
	for _, name := range names {
		objects.Row(name, result.Objects[name])
	}
	fmt.Fprintln(w, objects.Render())

	if len(result.Rules) == 0 {
		_, err := fmt.Fprintln(w, "No rules reference the matched objects.")
		return err
	}

	rules := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(RuleHeadings...).
		Rows(RuleRows(result.Rules)...)
	_, err := fmt.Fprintln(w, rules.Render())
	return err
}

// RuleRows flattens rules into table rows matching RuleHeadings.
func RuleRows(rules []model.RuleRecord) [][]string {
	rows := make([][]string, 0, len(rules))
	for _, r := range rules {
		disabled := "no"
		if r.Disabled {
			disabled = "yes"
		}
		rows = append(rows, []string{
			r.Name,
			r.DeviceGroup,
			strings.Join(r.FromZones, ", "),
			strings.Join(r.ToZones, ", "),
			negated(r.SourceAddresses, r.NegateSource),
			strings.Join(r.SourceUsers, ", "),
			negated(r.DestAddresses, r.NegateDestination),
			strings.Join(r.Categories, ", "),
			strings.Join(r.Applications, ", "),
			strings.Join(r.Services, ", "),
			r.Action,
			disabled,
		})
	}
	return rows
}

func negated(members []string, negate bool) string {
	s := strings.Join(members, ", ")
	if negate {
		return "NOT " + s
	}
	return s
}
