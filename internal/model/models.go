package model

// RuleRecord is one security rule flattened into scalar and list fields.
type RuleRecord struct {
	ID                string   `json:"id" yaml:"id"`
	Name              string   `json:"name" yaml:"name"`
	DeviceGroup       string   `json:"device_group" yaml:"device_group"`
	FromZones         []string `json:"from_zones" yaml:"from_zones"`
	ToZones           []string `json:"to_zones" yaml:"to_zones"`
	SourceAddresses   []string `json:"source_addresses" yaml:"source_addresses"`
	DestAddresses     []string `json:"destination_addresses" yaml:"destination_addresses"`
	SourceUsers       []string `json:"source_users" yaml:"source_users"`
	Categories        []string `json:"categories" yaml:"categories"`
	Applications      []string `json:"applications" yaml:"applications"`
	Services          []string `json:"services" yaml:"services"`
	NegateSource      bool     `json:"negate_source" yaml:"negate_source"`
	NegateDestination bool     `json:"negate_destination" yaml:"negate_destination"`
	Action            string   `json:"action" yaml:"action"` // "allow", "deny", "drop", ...
	Disabled          bool     `json:"disabled" yaml:"disabled"`
}

// ListField names one list-valued column of a RuleRecord.
type ListField string

const (
	FieldFromZones       ListField = "from_zones"
	FieldToZones         ListField = "to_zones"
	FieldSourceAddresses ListField = "source_addresses"
	FieldSourceUsers     ListField = "source_users"
	FieldDestAddresses   ListField = "destination_addresses"
	FieldCategories      ListField = "categories"
	FieldApplications    ListField = "applications"
	FieldServices        ListField = "services"
)

// ListFields is the fixed order in which list fields are written and read.
var ListFields = []ListField{
	FieldFromZones,
	FieldToZones,
	FieldSourceAddresses,
	FieldSourceUsers,
	FieldDestAddresses,
	FieldCategories,
	FieldApplications,
	FieldServices,
}

// List returns a pointer to the slice backing field f.
func (r *RuleRecord) List(f ListField) *[]string {
	switch f {
	case FieldFromZones:
		return &r.FromZones
	case FieldToZones:
		return &r.ToZones
	case FieldSourceAddresses:
		return &r.SourceAddresses
	case FieldSourceUsers:
		return &r.SourceUsers
	case FieldDestAddresses:
		return &r.DestAddresses
	case FieldCategories:
		return &r.Categories
	case FieldApplications:
		return &r.Applications
	case FieldServices:
		return &r.Services
	}
	return nil
}

// NewRuleRecord returns a record with every list field set to an empty, non-nil slice.
func NewRuleRecord(id, name, deviceGroup string) RuleRecord {
	r := RuleRecord{ID: id, Name: name, DeviceGroup: deviceGroup}
	for _, f := range ListFields {
		*r.List(f) = []string{}
	}
	return r
}

type AddressObject struct {
	Name      string
	IPNetmask string // empty when the object has no ip-netmask
	FQDN      string // empty when the object has no fqdn
}

// SearchResult is what a search surfaces to its caller.
type SearchResult struct {
	Token   string            `json:"token" yaml:"token"`
	IP      string            `json:"ip,omitempty" yaml:"ip,omitempty"`
	FQDN    string            `json:"fqdn,omitempty" yaml:"fqdn,omitempty"`
	Objects map[string]string `json:"objects" yaml:"objects"`
	Rules   []RuleRecord      `json:"rules" yaml:"rules"`
}
