package device

import "strings"

// Property is the GATT characteristic property bitmask. Bit values follow the
// Bluetooth Core specification so driver flags convert with a plain cast.
type Property uint8

const (
	PropBroadcast   Property = 0x01
	PropRead        Property = 0x02
	PropWriteNR     Property = 0x04
	PropWrite       Property = 0x08
	PropNotify      Property = 0x10
	PropIndicate    Property = 0x20
	PropSignedWrite Property = 0x40
	PropExtended    Property = 0x80
)

var propertyNames = []struct {
	flag Property
	name string
}{
	{PropBroadcast, "Broadcast"},
	{PropRead, "Read"},
	{PropWriteNR, "WriteWithoutResponse"},
	{PropWrite, "Write"},
	{PropNotify, "Notify"},
	{PropIndicate, "Indicate"},
	{PropSignedWrite, "AuthenticatedSignedWrites"},
	{PropExtended, "ExtendedProperties"},
}

// Has reports whether every bit of flag is set.
func (p Property) Has(flag Property) bool {
	return p&flag == flag
}

func (p Property) Readable() bool {
	return p.Has(PropRead)
}

// Writable is true for either write flavour.
func (p Property) Writable() bool {
	return p&(PropWrite|PropWriteNR) != 0
}

func (p Property) Notifiable() bool {
	return p.Has(PropNotify)
}

func (p Property) String() string {
	if p == 0 {
		return "None"
	}
	var names []string
	for _, pn := range propertyNames {
		if p.Has(pn.flag) {
			names = append(names, pn.name)
		}
	}
	return strings.Join(names, "|")
}

// ParseProperty parses a "|" or "," separated list of property names, case-insensitive.
// Unknown names are reported back as the second return value.
func ParseProperty(s string) (Property, []string) {
	var p Property
	var unknown []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == ',' || r == ' ' }) {
		found := false
		for _, pn := range propertyNames {
			if strings.EqualFold(part, pn.name) || strings.EqualFold(part, shortPropertyName(pn.flag)) {
				p |= pn.flag
				found = true
				break
			}
		}
		if !found {
			unknown = append(unknown, part)
		}
	}
	return p, unknown
}

func shortPropertyName(flag Property) string {
	switch flag {
	case PropRead:
		return "r"
	case PropWrite:
		return "w"
	case PropWriteNR:
		return "wnr"
	case PropNotify:
		return "n"
	case PropIndicate:
		return "i"
	default:
		return ""
	}
}
