package smart

import "strings"

// NotAvailable is the value of an attribute missing from the output.
const NotAvailable = "N/A"

// TrackedAttributes are the attributes reported, in display order.
var TrackedAttributes = []string{
	"Reallocated_Sector_Ct",
	"Current_Pending_Sector",
	"Offline_Uncorrectable",
	"Temperature_Celsius",
	"Power_On_Hours",
}

// Attribute is one raw attribute value.
type Attribute struct {
	Name string `json:"name" yaml:"name"`
	Raw  string `json:"raw" yaml:"raw"`
}

// ParseAttributes reads the attribute table printed by smartctl -A. Rows
// have at least ten columns with the name second and the raw value tenth.
func ParseAttributes(stdout string) []Attribute {
	found := make(map[string]string, len(TrackedAttributes))
	for _, line := range strings.Split(stdout, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 10 {
			continue
		}
		found[fields[1]] = fields[9]
	}

	attrs := make([]Attribute, 0, len(TrackedAttributes))
	for _, name := range TrackedAttributes {
		raw, ok := found[name]
		if !ok {
			raw = NotAvailable
		}
		attrs = append(attrs, Attribute{Name: name, Raw: raw})
	}
	return attrs
}
