package panorama

import (
	"encoding/xml"
	"strings"
)

// Response is the envelope every management API call returns.
type Response struct {
	XMLName xml.Name `xml:"response"`
	Status  string   `xml:"status,attr"`
	Code    string   `xml:"code,attr"`
	Msg     *Message `xml:"msg"`
	Result  Result   `xml:"result"`
}

// Result holds whichever subtree the xpath selected.
type Result struct {
	Rules     []RuleEntry    `xml:"security>rules>entry"`
	Addresses []AddressEntry `xml:"address>entry"`
	Msg       *Message       `xml:"msg"`
}

// Message is an API status message, either plain text or a list of <line> elements.
type Message struct {
	Text  string   `xml:",chardata"`
	Lines []string `xml:"line"`
}

func (m *Message) String() string {
	if m == nil {
		return ""
	}
	parts := make([]string, 0, len(m.Lines)+1)
	if t := strings.TrimSpace(m.Text); t != "" {
		parts = append(parts, t)
	}
	for _, l := range m.Lines {
		if l = strings.TrimSpace(l); l != "" {
			parts = append(parts, l)
		}
	}
	return strings.Join(parts, "; ")
}

// ErrorMessage returns the message of an error response, wherever the API put it.
func (r *Response) ErrorMessage() string {
	if msg := r.Msg.String(); msg != "" {
		return msg
	}
	return r.Result.Msg.String()
}

// MemberList is a <member> list such as <source><member>a</member></source>.
type MemberList struct {
	Members []string `xml:"member"`
}

// RuleEntry is one <entry> below security/rules. Scalar flags are pointers so
// an absent tag can be told apart from an empty one.
type RuleEntry struct {
	Name              string     `xml:"name,attr"`
	UUID              string     `xml:"uuid,attr"`
	From              MemberList `xml:"from"`
	To                MemberList `xml:"to"`
	Source            MemberList `xml:"source"`
	SourceUser        MemberList `xml:"source-user"`
	Destination       MemberList `xml:"destination"`
	Category          MemberList `xml:"category"`
	Application       MemberList `xml:"application"`
	Service           MemberList `xml:"service"`
	NegateSource      *string    `xml:"negate-source"`
	NegateDestination *string    `xml:"negate-destination"`
	Disabled          *string    `xml:"disabled"`
	Action            *string    `xml:"action"`
	Description       string     `xml:"description"`
}

// AddressEntry is one <entry> below address.
type AddressEntry struct {
	Name        string  `xml:"name,attr"`
	IPNetmask   *string `xml:"ip-netmask"`
	IPRange     *string `xml:"ip-range"`
	FQDN        *string `xml:"fqdn"`
	Description string  `xml:"description"`
}
