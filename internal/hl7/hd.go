package hl7

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// UniversalIDKind classifies the HD-3 universal ID type of an assigning
// authority.
type UniversalIDKind string

const (
	KindISO     UniversalIDKind = "ISO"
	KindUUID    UniversalIDKind = "UUID"
	KindDNS     UniversalIDKind = "DNS"
	KindURI     UniversalIDKind = "URI"
	KindCLIA    UniversalIDKind = "CLIA"
	KindUntyped UniversalIDKind = ""
)

// HD is a hierarchic designator, the assigning-authority triple used across
// identifier fields. DeclaredType preserves an unrecognized HD-3 value so
// unknown authorities round-trip untouched instead of erroring.
type HD struct {
	Namespace    string
	UniversalID  string
	Kind         UniversalIDKind
	DeclaredType string
}

var (
	oidPattern  = regexp.MustCompile(`^[0-2](\.(0|[1-9]\d*))+$`)
	cliaPattern = regexp.MustCompile(`^[a-zA-Z\d]\d[a-zA-Z]\d{7}$`)
	urnPattern  = regexp.MustCompile(`^urn:(oid|uuid|dns|uri|clia|id):(.*)$`)
	// untypedPattern is the reversible document form of designators whose
	// declared type is not one of the known kinds.
	untypedPattern = regexp.MustCompile(`^(.*)-(.*):(.*)$`)
)

// DetectKind classifies a bare universal ID by shape.
func DetectKind(universalID string) UniversalIDKind {
	switch {
	case universalID == "":
		return KindUntyped
	case oidPattern.MatchString(universalID):
		return KindISO
	case cliaPattern.MatchString(universalID):
		return KindCLIA
	default:
		if _, err := uuid.Parse(universalID); err == nil {
			return KindUUID
		}
		return KindUntyped
	}
}

// ParseHD builds a designator from the three HD leaf values in wire order.
func ParseHD(namespace, universalID, idType string) HD {
	hd := HD{Namespace: namespace, UniversalID: universalID}
	switch strings.TrimSpace(idType) {
	case "ISO":
		hd.Kind = KindISO
	case "UUID", "GUID":
		hd.Kind = KindUUID
	case "DNS":
		hd.Kind = KindDNS
	case "URI":
		hd.Kind = KindURI
	case "CLIA":
		hd.Kind = KindCLIA
	case "":
		hd.Kind = KindUntyped
	default:
		hd.Kind = KindUntyped
		hd.DeclaredType = strings.TrimSpace(idType)
	}
	return hd
}

// DocumentValue renders the designator in the URN form the clinical document
// carries. Each known kind has its own template, prefixed with the namespace
// when one is present so no leaf value is lost in the document form; untyped
// designators use a reversible namespace-qualified form.
func (hd HD) DocumentValue() string {
	switch hd.Kind {
	case KindISO:
		return hd.qualified("urn:oid:" + hd.UniversalID)
	case KindUUID:
		return hd.qualified("urn:uuid:" + hd.UniversalID)
	case KindDNS:
		return hd.qualified("urn:dns:" + hd.UniversalID)
	case KindURI:
		return hd.qualified("urn:uri:" + hd.UniversalID)
	case KindCLIA:
		return hd.qualified("urn:clia:" + hd.UniversalID)
	default:
		if hd.UniversalID == "" && hd.DeclaredType == "" {
			return hd.Namespace
		}
		return fmt.Sprintf("%s-%s:%s", hd.Namespace, hd.DeclaredType, hd.UniversalID)
	}
}

// qualified prefixes the URN with the namespace. The caret separator cannot
// collide: it is an HL7 delimiter, so it never survives inside a namespace,
// and it is not a legal URI character.
func (hd HD) qualified(urn string) string {
	if hd.Namespace == "" {
		return urn
	}
	return hd.Namespace + "^" + urn
}

// HDFromDocument parses the document-side form back into a designator.
// Values matching no template become bare-namespace untyped designators.
func HDFromDocument(value string) HD {
	if ns, rest, ok := strings.Cut(value, "^"); ok && urnPattern.MatchString(rest) {
		hd := HDFromDocument(rest)
		hd.Namespace = ns
		return hd
	}
	if m := urnPattern.FindStringSubmatch(value); m != nil {
		switch m[1] {
		case "oid":
			return HD{UniversalID: m[2], Kind: KindISO}
		case "uuid":
			return HD{UniversalID: m[2], Kind: KindUUID}
		case "dns":
			return HD{UniversalID: m[2], Kind: KindDNS}
		case "uri":
			return HD{UniversalID: m[2], Kind: KindURI}
		case "clia":
			return HD{UniversalID: m[2], Kind: KindCLIA}
		default:
			return HD{UniversalID: m[2], Kind: KindUntyped}
		}
	}
	if m := untypedPattern.FindStringSubmatch(value); m != nil {
		return HD{Namespace: m[1], DeclaredType: m[2], UniversalID: m[3], Kind: KindUntyped}
	}
	if kind := DetectKind(value); kind != KindUntyped {
		return HD{UniversalID: value, Kind: kind}
	}
	return HD{Namespace: value, Kind: KindUntyped}
}

// Components returns the three HD leaf values in wire order.
func (hd HD) Components() (namespace, universalID, idType string) {
	idType = string(hd.Kind)
	if hd.Kind == KindUntyped {
		idType = hd.DeclaredType
	}
	return hd.Namespace, hd.UniversalID, idType
}
