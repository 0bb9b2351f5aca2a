package lang

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/cutekitek/rankode-grader/internal/repository/models"
	"github.com/pkg/errors"
)

type Registry struct {
	mu    sync.RWMutex
	specs map[string]Spec
}

// NewRegistry returns a registry holding the built-in languages.
func NewRegistry() *Registry {
	r := &Registry{specs: make(map[string]Spec)}
	for _, s := range builtins() {
		r.specs[s.Name] = s
	}
	return r
}

func (r *Registry) Register(spec Spec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.specs[spec.Name] = spec
	r.mu.Unlock()
	return nil
}

func (r *Registry) Get(name string) (Spec, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.specs[name]; ok {
		return s, nil
	}
	if canonical, ok := aliases[name]; ok {
		if s, ok := r.specs[canonical]; ok {
			return s, nil
		}
	}
	return Spec{}, errors.Wrap(models.ErrLanguageNotFound, name)
}

func (r *Registry) List() []Spec {
	r.mu.RLock()
	out := make([]Spec, 0, len(r.specs))
	for _, s := range r.specs {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// fileConfig is the on-disk languages/<name>/config.json format.
type fileConfig struct {
	Kind         Kind     `json:"kind"`
	Image        string   `json:"image"`
	BuildCmd     []string `json:"build"`
	RunCmd       []string `json:"run"`
	BuildTimeout int64    `json:"build_timeout"`
	CodeFile     string   `json:"codefile"`
	Unit         string   `json:"unit"`
}

func readFileConfig(dir string) (*fileConfig, error) {
	file, err := os.Open(filepath.Join(dir, "config.json"))
	if err != nil {
		return nil, err
	}
	defer file.Close()
	cfg := new(fileConfig)
	if err := json.NewDecoder(file).Decode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDir reads every <path>/<name>/config.json. Fields present in a file
// override the built-in language of the same name; unknown names are added.
func (r *Registry) LoadDir(path string) error {
	entries, err := os.ReadDir(path)
	if err != nil {
		return errors.Wrap(err, "failed to read languages dir")
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		cfg, err := readFileConfig(filepath.Join(path, e.Name()))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return errors.Wrapf(err, "failed to load language %s", e.Name())
		}

		name := strings.ToLower(e.Name())
		r.mu.RLock()
		spec, ok := r.specs[name]
		r.mu.RUnlock()
		if !ok {
			spec = Spec{Name: name, Kind: KindInterpreted}
			if len(cfg.BuildCmd) > 0 {
				spec.Kind = KindCompiled
			}
		}
		spec.merge(cfg)
		if err := r.Register(spec); err != nil {
			return errors.Wrapf(err, "invalid language %s", name)
		}
		slog.Debug("language loaded", "name", name, "kind", spec.Kind)
	}
	return nil
}

func (s *Spec) merge(cfg *fileConfig) {
	if cfg.Kind != "" {
		s.Kind = cfg.Kind
	}
	if cfg.Image != "" {
		s.Image = cfg.Image
	}
	if len(cfg.BuildCmd) > 0 {
		s.Build = cfg.BuildCmd
	}
	if len(cfg.RunCmd) > 0 {
		s.Run = cfg.RunCmd
	}
	if cfg.BuildTimeout > 0 {
		s.BuildTimeoutMs = cfg.BuildTimeout
	}
	if cfg.CodeFile != "" {
		s.SourceFile = cfg.CodeFile
	}
	if cfg.Unit != "" {
		s.Unit = cfg.Unit
	}
}
