// Package schema loads RPC method metadata from YAML service definitions.
//
// A definition file lists services and their methods:
//
//	services:
//	  - name: Battery
//	    uuid: "180F"
//	    methods:
//	      - name: Level
//	        characteristic: "2A19"
//	        kind: read
//	        response: uint8
//	      - name: LevelChanged
//	        characteristic: "2A19"
//	        kind: subscribe
//	        response: uint8
package schema

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/mcuadros/go-defaults"
	"github.com/srg/blerpc/internal/device"
	"github.com/srg/blerpc/pkg/rpc"
	"gopkg.in/yaml.v3"
)

// RawServiceDef is one service entry of a definition file.
type RawServiceDef struct {
	Name        string         `yaml:"name"`
	UUID        string         `yaml:"uuid"`
	Description string         `yaml:"description"`
	Methods     []RawMethodDef `yaml:"methods"`
}

// RawMethodDef is one method entry of a service.
type RawMethodDef struct {
	Name           string `yaml:"name"`
	Characteristic string `yaml:"characteristic"`
	Descriptor     string `yaml:"descriptor" default:"2902"`
	Kind           string `yaml:"kind" default:"read"`
	Request        Type   `yaml:"request" default:"bytes"`
	Response       Type   `yaml:"response" default:"bytes"`
	Description    string `yaml:"description"`
}

type rawFile struct {
	Services []RawServiceDef `yaml:"services"`
}

// MethodDef is a validated method: the channel metadata plus its payload types.
type MethodDef struct {
	*rpc.Method
	Request     Type
	Response    Type
	Description string
}

// Schema is a validated set of methods addressable as "Service.Method".
type Schema struct {
	methods map[string]*MethodDef
}

// Load reads and parses a definition file.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Parse parses and validates definitions from YAML bytes.
func Parse(data []byte) (*Schema, error) {
	var raw rawFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing service definitions: %w", err)
	}
	if len(raw.Services) == 0 {
		return nil, fmt.Errorf("service definitions declare no services")
	}

	s := &Schema{methods: make(map[string]*MethodDef)}
	for i := range raw.Services {
		svc := &raw.Services[i]
		if svc.Name == "" {
			return nil, fmt.Errorf("service #%d: missing name", i+1)
		}
		if _, err := device.ValidateUUID(svc.UUID); err != nil {
			return nil, fmt.Errorf("service %s: %w", svc.Name, err)
		}
		for j := range svc.Methods {
			def, err := newMethodDef(svc, &svc.Methods[j])
			if err != nil {
				return nil, fmt.Errorf("service %s, method #%d: %w", svc.Name, j+1, err)
			}
			key := def.FullName()
			if _, dup := s.methods[key]; dup {
				return nil, fmt.Errorf("duplicate method %s", key)
			}
			s.methods[key] = def
		}
	}
	return s, nil
}

func newMethodDef(svc *RawServiceDef, raw *RawMethodDef) (*MethodDef, error) {
	defaults.SetDefaults(raw)

	if raw.Name == "" {
		return nil, fmt.Errorf("missing name")
	}
	if _, err := device.ValidateUUID(raw.Characteristic); err != nil {
		return nil, fmt.Errorf("%s: characteristic: %w", raw.Name, err)
	}
	kind, err := rpc.ParseMethodKind(raw.Kind)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", raw.Name, err)
	}

	def := &MethodDef{
		Method: &rpc.Method{
			Name:           raw.Name,
			ServiceName:    svc.Name,
			Service:        device.NormalizeUUID(svc.UUID),
			Characteristic: device.NormalizeUUID(raw.Characteristic),
			Kind:           kind,
		},
		Request:     raw.Request,
		Response:    raw.Response,
		Description: raw.Description,
	}
	if kind == rpc.MethodSubscribe {
		if _, err := device.ValidateUUID(raw.Descriptor); err != nil {
			return nil, fmt.Errorf("%s: descriptor: %w", raw.Name, err)
		}
		def.Method.Descriptor = device.NormalizeUUID(raw.Descriptor)
	}
	for _, t := range []Type{def.Request, def.Response} {
		if !t.Valid() {
			return nil, fmt.Errorf("%s: unknown payload type %q (supported: %s)", raw.Name, t, strings.Join(typeNames(), ", "))
		}
	}
	return def, nil
}

// Lookup finds a method by "Service.Method", case-insensitive.
func (s *Schema) Lookup(name string) (*MethodDef, error) {
	if def, ok := s.methods[name]; ok {
		return def, nil
	}
	for key, def := range s.methods {
		if strings.EqualFold(key, name) {
			return def, nil
		}
	}
	return nil, fmt.Errorf("unknown method %q", name)
}

// Methods returns every method sorted by full name.
func (s *Schema) Methods() []*MethodDef {
	out := make([]*MethodDef, 0, len(s.methods))
	for _, def := range s.methods {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].FullName() < out[j].FullName()
	})
	return out
}
