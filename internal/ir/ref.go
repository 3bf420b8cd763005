package ir

import "strings"

// RefScheme prefixes a reference to another resource's attribute.
const RefScheme = "ptr://"

// Ref builds the reference to attribute attr of resource typ.name.
func Ref(typ, name, attr string) string {
	return RefScheme + typ + "/" + name + "/" + attr
}

// IsRef reports whether s looks like a reference, well-formed or not.
func IsRef(s string) bool {
	return strings.HasPrefix(s, RefScheme)
}

// ParseRef splits ptr://<type>/<name>/<attr>. All three parts are required.
func ParseRef(ref string) (typ, name, attr string, ok bool) {
	if !IsRef(ref) {
		return "", "", "", false
	}
	parts := strings.SplitN(ref[len(RefScheme):], "/", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

// RefAddr returns the address of the resource a reference points at, or ""
// when ref is malformed.
func RefAddr(ref string) string {
	typ, name, _, ok := ParseRef(ref)
	if !ok {
		return ""
	}
	return Addr(typ, name)
}
