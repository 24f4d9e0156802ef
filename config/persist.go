package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"

	yml "gopkg.in/yaml.v2"

	"github.com/ultrafast-lab/scanctl/axis"
)

// Snapshot is the write-through document: the configuration as edited at
// run time plus the last known axis positions
type Snapshot struct {
	Config `yaml:",inline"`

	Positions map[string]float64 `yaml:"Positions"`
}

// ReadSnapshot reads a document written by a Persister
func ReadSnapshot(path string) (Snapshot, error) {
	s := Snapshot{}
	b, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	err = yml.Unmarshal(b, &s)
	return s, err
}

// Persister rewrites the snapshot at Path after every change
type Persister struct {
	Path string

	mu   sync.Mutex
	snap Snapshot
}

// NewPersister returns a persister starting from c and the positions in pos
func NewPersister(path string, c Config, pos map[string]float64) *Persister {
	p := &Persister{Path: path, snap: Snapshot{Config: c, Positions: map[string]float64{}}}
	for k, v := range pos {
		p.snap.Positions[k] = v
	}
	return p
}

// Snapshot returns a copy of the current document
func (p *Persister) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.snap
	s.Axes = append([]Axis(nil), p.snap.Axes...)
	s.Positions = make(map[string]float64, len(p.snap.Positions))
	for k, v := range p.snap.Positions {
		s.Positions[k] = v
	}
	return s
}

// Axis records edited axis settings; it has the signature of
// axis.Controller.OnEdit hooks
func (p *Persister) Axis(s axis.Settings) {
	p.mu.Lock()
	for i, a := range p.snap.Axes {
		if a.Name == s.Name {
			p.snap.Axes[i] = a.FromSettings(s)
		}
	}
	p.mu.Unlock()
	p.save()
}

// Positions records the last known positions of axes
func (p *Persister) Positions(ctls ...*axis.Controller) {
	p.mu.Lock()
	for _, c := range ctls {
		if pos, ok := c.Position(); ok {
			p.snap.Positions[c.Name()] = pos
		}
	}
	p.mu.Unlock()
	p.save()
}

func (p *Persister) save() {
	if err := p.Save(); err != nil {
		log.Printf("saving %s: %v", p.Path, err)
	}
}

// Save writes the document.  The file is replaced atomically.
func (p *Persister) Save() error {
	if p.Path == "" {
		return nil
	}
	p.mu.Lock()
	b, err := yml.Marshal(p.snap)
	p.mu.Unlock()
	if err != nil {
		return err
	}
	dir := filepath.Dir(p.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(p.Path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), p.Path)
}

// Restore moves the recorded positions into the controllers without
// commanding hardware, and reports the axes it restored
func Restore(s Snapshot, ctls map[string]*axis.Controller) []string {
	var out []string
	for name, pos := range s.Positions {
		if c, ok := ctls[name]; ok {
			c.Restore(pos)
			out = append(out, fmt.Sprintf("%s=%g", name, pos))
		}
	}
	sort.Strings(out)
	return out
}
