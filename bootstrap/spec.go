package bootstrap

import (
	"fmt"
	"time"

	"github.com/ruteri/secrets-gateway/cryptoutils"
	"github.com/ruteri/secrets-gateway/interfaces"
)

// GeneratorKind selects how a seeded field gets its value.
type GeneratorKind string

const (
	// GeneratorLiteral uses Value as is.
	GeneratorLiteral GeneratorKind = "literal"
	// GeneratorEnv reads the Env variable, falling back to Value when unset or empty.
	GeneratorEnv GeneratorKind = "env"
	// GeneratorAlphanumeric draws Length characters from Charset (alphanumeric by default).
	GeneratorAlphanumeric GeneratorKind = "alphanumeric"
	// GeneratorHex draws Length random bytes and hex-encodes them.
	GeneratorHex GeneratorKind = "hex"
	// GeneratorTimestamp writes the seeding time in RFC 3339.
	GeneratorTimestamp GeneratorKind = "timestamp"
)

// Generator produces the value of a seeded field.
type Generator struct {
	Kind    GeneratorKind `json:"kind" yaml:"kind"`
	Value   string        `json:"value,omitempty" yaml:"value,omitempty"`
	Env     string        `json:"env,omitempty" yaml:"env,omitempty"`
	Length  int           `json:"length,omitempty" yaml:"length,omitempty"`
	Charset string        `json:"charset,omitempty" yaml:"charset,omitempty"`
}

// Random reports whether the generator produces fresh random material, and is
// therefore usable for rotation.
func (g Generator) Random() bool {
	return g.Kind == GeneratorAlphanumeric || g.Kind == GeneratorHex
}

// Generate returns the field value.
func (g Generator) Generate(now time.Time, getenv func(string) string) (string, error) {
	switch g.Kind {
	case GeneratorLiteral:
		return g.Value, nil
	case GeneratorEnv:
		if v := getenv(g.Env); v != "" {
			return v, nil
		}
		return g.Value, nil
	case GeneratorAlphanumeric:
		return cryptoutils.RandomString(g.Length, g.Charset)
	case GeneratorHex:
		return cryptoutils.RandomHex(g.Length)
	case GeneratorTimestamp:
		return now.UTC().Format(time.RFC3339), nil
	default:
		return "", fmt.Errorf("%w: unknown generator kind %q", interfaces.ErrInvalidArgument, g.Kind)
	}
}

// Validate checks that the generator parameters are usable.
func (g Generator) Validate() error {
	switch g.Kind {
	case GeneratorLiteral, GeneratorTimestamp:
		return nil
	case GeneratorEnv:
		if g.Env == "" {
			return fmt.Errorf("%w: env generator without variable name", interfaces.ErrInvalidArgument)
		}
		return nil
	case GeneratorAlphanumeric, GeneratorHex:
		if g.Length <= 0 {
			return fmt.Errorf("%w: %s generator needs a positive length", interfaces.ErrInvalidArgument, g.Kind)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown generator kind %q", interfaces.ErrInvalidArgument, g.Kind)
	}
}

// FieldSeed is one field of a seeded document.
type FieldSeed struct {
	Name      string    `json:"name" yaml:"name"`
	Generator Generator `json:"generator" yaml:"generator"`
}

// SecretSeed is a document written once, only if its path holds nothing yet.
type SecretSeed struct {
	Path   string      `json:"path" yaml:"path"`
	Fields []FieldSeed `json:"fields" yaml:"fields"`
}

// Spec is the declarative bootstrap specification. Policies are installed
// before secrets, each list in order.
type Spec struct {
	Policies []interfaces.Policy `json:"policies" yaml:"policies"`
	Secrets  []SecretSeed        `json:"secrets" yaml:"secrets"`
}

// Validate checks for duplicates and unusable generators.
func (s *Spec) Validate() error {
	policyNames := map[string]struct{}{}
	for _, p := range s.Policies {
		if err := p.Validate(); err != nil {
			return err
		}
		if _, dup := policyNames[p.Name]; dup {
			return fmt.Errorf("%w: duplicate policy %s", interfaces.ErrInvalidArgument, p.Name)
		}
		policyNames[p.Name] = struct{}{}
	}

	paths := map[string]struct{}{}
	for _, seed := range s.Secrets {
		if seed.Path == "" {
			return fmt.Errorf("%w: secret seed with empty path", interfaces.ErrInvalidArgument)
		}
		if _, dup := paths[seed.Path]; dup {
			return fmt.Errorf("%w: duplicate secret path %s", interfaces.ErrInvalidArgument, seed.Path)
		}
		paths[seed.Path] = struct{}{}

		fields := map[string]struct{}{}
		for _, f := range seed.Fields {
			if f.Name == "" {
				return fmt.Errorf("%w: %s: field with empty name", interfaces.ErrInvalidArgument, seed.Path)
			}
			if _, dup := fields[f.Name]; dup {
				return fmt.Errorf("%w: %s: duplicate field %s", interfaces.ErrInvalidArgument, seed.Path, f.Name)
			}
			fields[f.Name] = struct{}{}
			if err := f.Generator.Validate(); err != nil {
				return fmt.Errorf("%s.%s: %w", seed.Path, f.Name, err)
			}
		}
	}
	return nil
}

// GeneratorFor returns the generator seeding path.field, if any.
func (s *Spec) GeneratorFor(path, field string) (Generator, bool) {
	for _, seed := range s.Secrets {
		if seed.Path != path {
			continue
		}
		for _, f := range seed.Fields {
			if f.Name == field {
				return f.Generator, true
			}
		}
	}
	return Generator{}, false
}

// Render produces the document for a seed.
func (seed SecretSeed) Render(now time.Time, getenv func(string) string) (interfaces.Document, error) {
	doc := make(interfaces.Document, len(seed.Fields))
	for _, f := range seed.Fields {
		v, err := f.Generator.Generate(now, getenv)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", seed.Path, f.Name, err)
		}
		doc[f.Name] = v
	}
	return doc, nil
}
