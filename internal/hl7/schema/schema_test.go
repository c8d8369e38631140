package schema

import (
	"errors"
	"testing"
)

func TestLoadBundled(t *testing.T) {
	for _, name := range []string{"oru-r01", "covid-19"} {
		t.Run(name, func(t *testing.T) {
			s, err := Load(BundledProvider{}, name)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if s.Name != name {
				t.Fatalf("name = %q, want %q", s.Name, name)
			}
			if len(s.Elements) == 0 {
				t.Fatal("no elements")
			}
		})
	}
}

func TestLoadUnknown(t *testing.T) {
	if _, err := Load(BundledProvider{}, "no-such-schema"); err == nil {
		t.Fatal("expected error")
	}
}

func TestBundledNames(t *testing.T) {
	names := BundledProvider{}.Names()
	if len(names) < 2 {
		t.Fatalf("names = %v", names)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Schema {
		return &Schema{
			Name: "t",
			Elements: []Element{
				{Name: "a", Document: "x.a", HL7: []string{"PID-3-1"}},
			},
		}
	}

	t.Run("valid", func(t *testing.T) {
		if err := base().Validate(); err != nil {
			t.Fatalf("Validate: %v", err)
		}
	})

	t.Run("duplicate element name", func(t *testing.T) {
		s := base()
		s.Elements = append(s.Elements, s.Elements[0])
		if err := s.Validate(); !errors.Is(err, ErrInvalid) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("missing document path", func(t *testing.T) {
		s := base()
		s.Elements[0].Document = ""
		if err := s.Validate(); !errors.Is(err, ErrInvalid) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("no sources and no default", func(t *testing.T) {
		s := base()
		s.Elements[0].HL7 = nil
		if err := s.Validate(); !errors.Is(err, ErrInvalid) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("unknown datatype", func(t *testing.T) {
		s := base()
		s.Elements[0].Datatype = "blob"
		if err := s.Validate(); !errors.Is(err, ErrInvalid) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("repeat group without segment", func(t *testing.T) {
		s := base()
		s.Repeats = []RepeatGroup{{Document: "items"}}
		if err := s.Validate(); !errors.Is(err, ErrInvalid) {
			t.Fatalf("err = %v", err)
		}
	})
}
