package hl7

import "testing"

func TestHDDocumentRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		hd   HD
		doc  string
	}{
		{"iso oid", HD{UniversalID: "2.16.840.1.113883", Kind: KindISO}, "urn:oid:2.16.840.1.113883"},
		{"uuid", HD{UniversalID: "6d7b7b6e-bc36-4c9c-b9c1-0b1a3e0f2f44", Kind: KindUUID}, "urn:uuid:6d7b7b6e-bc36-4c9c-b9c1-0b1a3e0f2f44"},
		{"dns", HD{UniversalID: "lab.example.org", Kind: KindDNS}, "urn:dns:lab.example.org"},
		{"uri", HD{UniversalID: "https://lab.example.org/id", Kind: KindURI}, "urn:uri:https://lab.example.org/id"},
		{"clia", HD{UniversalID: "12D3456789", Kind: KindCLIA}, "urn:clia:12D3456789"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.hd.DocumentValue(); got != tc.doc {
				t.Fatalf("DocumentValue = %q, want %q", got, tc.doc)
			}
			back := HDFromDocument(tc.doc)
			if back.UniversalID != tc.hd.UniversalID || back.Kind != tc.hd.Kind {
				t.Fatalf("round trip = %+v, want %+v", back, tc.hd)
			}
		})
	}
}

func TestHDKeepsNamespaceWithTypedID(t *testing.T) {
	hd := ParseHD("STRAC", "2.16.840.1.113883.19", "ISO")

	doc := hd.DocumentValue()
	if doc != "STRAC^urn:oid:2.16.840.1.113883.19" {
		t.Fatalf("DocumentValue = %q", doc)
	}
	ns, id, idType := HDFromDocument(doc).Components()
	if ns != "STRAC" || id != "2.16.840.1.113883.19" || idType != "ISO" {
		t.Fatalf("round trip = %q %q %q, want all three leaf values back", ns, id, idType)
	}

	clia := ParseHD("Acme Lab", "12D3456789", "CLIA")
	ns, id, idType = HDFromDocument(clia.DocumentValue()).Components()
	if ns != "Acme Lab" || id != "12D3456789" || idType != "CLIA" {
		t.Fatalf("round trip = %q %q %q", ns, id, idType)
	}
}

func TestHDUnknownKindRoundTrips(t *testing.T) {
	hd := ParseHD("StateLab", "SL-44", "STATE")
	if hd.Kind != KindUntyped {
		t.Fatalf("kind = %q, want untyped", hd.Kind)
	}

	doc := hd.DocumentValue()
	back := HDFromDocument(doc)
	ns, id, idType := back.Components()
	if ns != "StateLab" || id != "SL-44" || idType != "STATE" {
		t.Fatalf("round trip = %q %q %q", ns, id, idType)
	}
}

func TestParseHDKinds(t *testing.T) {
	for idType, want := range map[string]UniversalIDKind{
		"ISO":  KindISO,
		"UUID": KindUUID,
		"GUID": KindUUID,
		"DNS":  KindDNS,
		"URI":  KindURI,
		"CLIA": KindCLIA,
		"":     KindUntyped,
	} {
		if got := ParseHD("ns", "id", idType).Kind; got != want {
			t.Errorf("ParseHD type %q kind = %q, want %q", idType, got, want)
		}
	}
}

func TestDetectKind(t *testing.T) {
	for id, want := range map[string]UniversalIDKind{
		"2.16.840.1.113883": KindISO,
		"12D3456789":        KindCLIA,
		"6d7b7b6e-bc36-4c9c-b9c1-0b1a3e0f2f44": KindUUID,
		"just a name": KindUntyped,
		"":            KindUntyped,
	} {
		if got := DetectKind(id); got != want {
			t.Errorf("DetectKind(%q) = %q, want %q", id, got, want)
		}
	}
}
