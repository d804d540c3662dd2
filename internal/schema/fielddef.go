package schema

import (
	"errors"
	"fmt"
	"strings"
)

// FieldDef is the declarative form of a field, as written in type catalogs.
// Foreign, Data and Parent each imply a kind; at most one may be set.
type FieldDef struct {
	Name               string `yaml:"name"`
	Type               string `yaml:"type"`
	Foreign            string `yaml:"foreign,omitempty"`
	Data               string `yaml:"data,omitempty"`
	Parent             string `yaml:"parent,omitempty"`
	BackReference      string `yaml:"backReference,omitempty"`
	AcceptNew          bool   `yaml:"acceptNew,omitempty"`
	Freeable           bool   `yaml:"freeable,omitempty"`
	Optional           bool   `yaml:"optional,omitempty"`
	Default            any    `yaml:"default,omitempty"`
	Hidden             bool   `yaml:"hidden,omitempty"`
	Dummy              bool   `yaml:"dummy,omitempty"`
	PreserveWhitespace bool   `yaml:"preserveWhitespace,omitempty"`
	HideGetAll         *bool  `yaml:"hideGetAll,omitempty"`
	HideGetID          *bool  `yaml:"hideGetId,omitempty"`
	HideGetRef         *bool  `yaml:"hideGetRef,omitempty"`
}

const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeParent  = "parent"
	TypeData    = "data"
	TypeFKey    = "fkey"
	TypeArray   = "array"
	TypeStep    = "step"
)

func (d FieldDef) field() (*Field, error) {
	if strings.TrimSpace(d.Name) == "" {
		return nil, errors.New("field name required")
	}
	implied := 0
	for _, v := range []string{d.Foreign, d.Data, d.Parent} {
		if v != "" {
			implied++
		}
	}
	if implied > 1 {
		return nil, errors.New("foreign, data and parent are mutually exclusive")
	}

	kind, err := d.kind()
	if err != nil {
		return nil, err
	}
	hide := d.Hidden || d.Dummy
	return &Field{
		Name:               d.Name,
		Kind:               kind,
		Optional:           d.Optional,
		Default:            d.Default,
		Hidden:             d.Hidden,
		Dummy:              d.Dummy,
		PreserveWhitespace: d.PreserveWhitespace,
		HideGetAll:         flag(d.HideGetAll, hide),
		HideGetID:          flag(d.HideGetID, hide),
		HideGetRef:         flag(d.HideGetRef, hide),
	}, nil
}

func flag(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}

func (d FieldDef) kind() (Kind, error) {
	switch d.Type {
	case TypeString, TypeNumber, TypeBoolean:
		if d.Foreign != "" || d.Data != "" || d.Parent != "" {
			return nil, fmt.Errorf("%s field cannot reference another type", d.Type)
		}
		return Primitive{Type: PrimitiveType(d.Type)}, nil
	case TypeParent:
		if d.Parent == "" {
			return nil, errors.New("parent field requires parent")
		}
		if d.BackReference == "" {
			return nil, errors.New("parent field requires backReference")
		}
		return Parent{Target: &Ref{Name: d.Parent}, BackReference: d.BackReference}, nil
	case TypeData:
		if d.Data == "" {
			return nil, errors.New("data field requires data")
		}
		return Embedded{Target: &Ref{Name: d.Data}, AcceptNew: d.AcceptNew}, nil
	case TypeFKey:
		if d.Foreign == "" {
			return nil, errors.New("fkey field requires foreign")
		}
		return d.foreignKey(), nil
	case TypeArray, TypeStep:
		var elem Kind
		switch {
		case d.Foreign != "":
			elem = d.foreignKey()
		case d.Data != "":
			elem = Embedded{Target: &Ref{Name: d.Data}, AcceptNew: d.AcceptNew}
		default:
			return nil, fmt.Errorf("%s field requires foreign or data", d.Type)
		}
		if d.Type == TypeArray {
			return Array{Elem: elem}, nil
		}
		return Step{Elem: elem}, nil
	case "":
		return nil, errors.New("type required")
	default:
		return nil, fmt.Errorf("unknown type %q", d.Type)
	}
}

func (d FieldDef) foreignKey() ForeignKey {
	return ForeignKey{Target: &Ref{Name: d.Foreign}, AcceptNew: d.AcceptNew, Freeable: d.Freeable}
}
