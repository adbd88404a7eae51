package parser

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"

	"panorama-rulefinder/internal/model"
	"panorama-rulefinder/internal/panorama"
)

// InputError is a rule entry missing a required field. Only that rule is dropped.
type InputError struct {
	DeviceGroup string
	Rule        string // name, or the entry index when the name itself is missing
	Field       string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("device group %s: rule %s: missing required field %q", e.DeviceGroup, e.Rule, e.Field)
}

// flagPolicy decides a boolean flag from its tag. absent applies when the
// tag is missing; present decides from the text when it is there.
type flagPolicy struct {
	tag     string
	absent  bool
	present func(text string) bool
	value   func(e *panorama.RuleEntry) *string
	set     func(r *model.RuleRecord, v bool)
}

func isYes(text string) bool   { return text == "yes" }
func isNotNo(text string) bool { return text != "no" }

// negate-destination is true unless the text is exactly "no"; the other
// flags are true only on "yes". Both default to false when absent.
var flagPolicies = []flagPolicy{
	{
		tag:     "negate-source",
		present: isYes,
		value:   func(e *panorama.RuleEntry) *string { return e.NegateSource },
		set:     func(r *model.RuleRecord, v bool) { r.NegateSource = v },
	},
	{
		tag:     "negate-destination",
		present: isNotNo,
		value:   func(e *panorama.RuleEntry) *string { return e.NegateDestination },
		set:     func(r *model.RuleRecord, v bool) { r.NegateDestination = v },
	},
	{
		tag:     "disabled",
		present: isYes,
		value:   func(e *panorama.RuleEntry) *string { return e.Disabled },
		set:     func(r *model.RuleRecord, v bool) { r.Disabled = v },
	},
}

// listSources maps each record list field to the XML member list feeding it.
var listSources = map[model.ListField]func(e *panorama.RuleEntry) []string{
	model.FieldFromZones:       func(e *panorama.RuleEntry) []string { return e.From.Members },
	model.FieldToZones:         func(e *panorama.RuleEntry) []string { return e.To.Members },
	model.FieldSourceAddresses: func(e *panorama.RuleEntry) []string { return e.Source.Members },
	model.FieldSourceUsers:     func(e *panorama.RuleEntry) []string { return e.SourceUser.Members },
	model.FieldDestAddresses:   func(e *panorama.RuleEntry) []string { return e.Destination.Members },
	model.FieldCategories:      func(e *panorama.RuleEntry) []string { return e.Category.Members },
	model.FieldApplications:    func(e *panorama.RuleEntry) []string { return e.Application.Members },
	model.FieldServices:        func(e *panorama.RuleEntry) []string { return e.Service.Members },
}

// Normalize flattens every rule entry of resp into a RuleRecord. Entries
// missing a required field are skipped; the returned error then lists each
// of them as an *InputError and the records still hold every valid rule.
func Normalize(resp *panorama.Response, deviceGroup string) ([]model.RuleRecord, error) {
	if resp == nil {
		return nil, nil
	}

	var result *multierror.Error
	records := make([]model.RuleRecord, 0, len(resp.Result.Rules))
	for i := range resp.Result.Rules {
		record, err := NormalizeEntry(&resp.Result.Rules[i], deviceGroup, i)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		records = append(records, record)
	}
	return records, result.ErrorOrNil()
}

// NormalizeEntry converts a single rule entry; index only labels errors.
func NormalizeEntry(entry *panorama.RuleEntry, deviceGroup string, index int) (model.RuleRecord, error) {
	label := strings.TrimSpace(entry.Name)
	if label == "" {
		label = fmt.Sprintf("#%d", index)
	}
	missing := func(field string) error {
		return &InputError{DeviceGroup: deviceGroup, Rule: label, Field: field}
	}

	id := strings.TrimSpace(entry.UUID)
	if id == "" {
		return model.RuleRecord{}, missing("uuid")
	}
	if strings.TrimSpace(entry.Name) == "" {
		return model.RuleRecord{}, missing("name")
	}
	if entry.Action == nil || strings.TrimSpace(*entry.Action) == "" {
		return model.RuleRecord{}, missing("action")
	}

	record := model.NewRuleRecord(id, entry.Name, deviceGroup)
	record.Action = strings.TrimSpace(*entry.Action)

	for _, p := range flagPolicies {
		v := p.absent
		if text := p.value(entry); text != nil {
			v = p.present(strings.TrimSpace(*text))
		}
		p.set(&record, v)
	}

	for _, f := range model.ListFields {
		*record.List(f) = members(listSources[f](entry))
	}
	return record, nil
}

// members trims, drops blanks and collapses duplicates, keeping first-seen order.
func members(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, m := range raw {
		m = strings.TrimSpace(m)
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}
