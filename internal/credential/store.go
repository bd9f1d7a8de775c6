// Package credential resolves credential identifiers to decrypted secret
// values and scrubs anything secret-looking from user-visible text. Secret
// values live in memory only; the profile file on disk names environment
// variables, never values.
package credential

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// RefPrefix marks an injected credential reference inside rewritten script
// text, e.g. "@cred:slack-prod". References are safe to persist and log.
const RefPrefix = "@cred:"

// envDefaultPrefix is the well-known naming convention for system-wide
// default credentials: SCRIPTFLOW_CRED_<TYPE> (type upper-cased, non-alnum
// mapped to underscore).
const envDefaultPrefix = "SCRIPTFLOW_CRED_"

// Resolver resolves a credential id to its secret value. Implementations may
// refresh OAuth tokens or decrypt at rest; the bundled store returns
// statically resolved values.
type Resolver interface {
	Resolve(ctx context.Context, id string) (string, error)
}

// Profile is one named credential. Value is resolved from Env at load time
// and is never written back to disk.
type Profile struct {
	ID    string `yaml:"id"`
	Type  string `yaml:"type"`
	Env   string `yaml:"env,omitempty"`
	Value string `yaml:"-"`
}

const maskSuffix = "***"

// Masked returns the value with most characters replaced, keeping at most
// the first 4 for identification.
func (p *Profile) Masked() string {
	if p.Value == "" {
		return ""
	}
	if len(p.Value) <= 4 {
		return maskSuffix
	}
	return p.Value[:4] + maskSuffix
}

// Store holds resolved credential profiles and per-type defaults. Safe for
// concurrent use; DefaultFor may register a synthetic profile while other
// executions read.
type Store struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
	defaults map[string]string // credential type -> profile id
}

func NewStore() *Store {
	return &Store{
		profiles: make(map[string]*Profile),
		defaults: make(map[string]string),
	}
}

// Load reads a profile file (a YAML list of {id, type, env}) and resolves
// each value from the environment. A missing file is not an error.
func (s *Store) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading credential profiles: %w", err)
	}
	var profiles []Profile
	if err := yaml.Unmarshal(data, &profiles); err != nil {
		return fmt.Errorf("parsing credential profiles: %w", err)
	}
	for i := range profiles {
		p := profiles[i]
		if p.ID == "" || p.Type == "" {
			return fmt.Errorf("credential profile %d: id and type are required", i)
		}
		if p.Env != "" {
			p.Value = os.Getenv(p.Env)
		}
		s.Add(&p)
	}
	return nil
}

// Add registers a profile. The first profile of a type becomes that type's
// default unless SetDefault overrides it.
func (s *Store) Add(p *Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addLocked(p)
}

func (s *Store) addLocked(p *Profile) {
	cp := *p
	s.profiles[p.ID] = &cp
	if _, ok := s.defaults[p.Type]; !ok {
		s.defaults[p.Type] = p.ID
	}
}

// SetDefault pins the system-wide default profile for a credential type.
func (s *Store) SetDefault(credType, profileID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaults[credType] = profileID
}

// DefaultFor returns the system-wide default credential id for a type. When
// no profile covers the type, the SCRIPTFLOW_CRED_<TYPE> environment
// convention is consulted and a synthetic profile is registered on the fly.
func (s *Store) DefaultFor(credType string) (string, bool) {
	s.mu.RLock()
	id, ok := s.defaults[credType]
	s.mu.RUnlock()
	if ok {
		return id, true
	}
	envVar := envDefaultPrefix + envSuffix(credType)
	val, ok := os.LookupEnv(envVar)
	if !ok || val == "" {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// Another execution may have registered the type in the meantime.
	if id, ok := s.defaults[credType]; ok {
		return id, true
	}
	id = "default-" + strings.ToLower(credType)
	s.addLocked(&Profile{ID: id, Type: credType, Env: envVar, Value: val})
	s.defaults[credType] = id
	return id, true
}

// Get returns a profile by id.
func (s *Store) Get(id string) (*Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[strings.TrimPrefix(id, RefPrefix)]
	return p, ok
}

// Resolve returns the secret value for a credential id. The id may carry the
// RefPrefix of an injected reference.
func (s *Store) Resolve(_ context.Context, id string) (string, error) {
	id = strings.TrimPrefix(id, RefPrefix)
	s.mu.RLock()
	p, ok := s.profiles[id]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("credential %q not found", id)
	}
	if p.Value == "" {
		return "", fmt.Errorf("credential %q has no value (env %s unset)", id, p.Env)
	}
	return p.Value, nil
}

// Values returns every resolved secret value, for the redactor's
// known-values pass.
func (s *Store) Values() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.profiles))
	for _, p := range s.profiles {
		if p.Value != "" {
			out = append(out, p.Value)
		}
	}
	return out
}

// Redactor returns a redactor that consults the store's current values on
// every pass, so profiles registered after construction are covered.
func (s *Store) Redactor() *Redactor {
	return &Redactor{source: s.Values}
}

func envSuffix(credType string) string {
	var sb strings.Builder
	for _, r := range strings.ToUpper(credType) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		} else {
			sb.WriteByte('_')
		}
	}
	return sb.String()
}
