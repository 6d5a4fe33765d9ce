// Package file keeps discovery registrations in the `state` section of the agent's YAML config file.
package file

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/vshulcz/hostmqtt/internal/domain"
	"github.com/vshulcz/hostmqtt/internal/ports"
)

const stateSection = "state"

// Store is loaded once and rewritten atomically on every new registration.
// Sections other than `state` are written back untouched.
type Store struct {
	path string
	perm fs.FileMode
	doc  *yaml.Node
	done map[string]bool
	mu   sync.Mutex
}

var _ ports.RegistrationStore = (*Store)(nil)

// Open parses the file at path. The file must exist.
func Open(path string) (*Store, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read: %w", domain.ErrPersistence, err)
	}

	doc := &yaml.Node{}
	if err := yaml.Unmarshal(raw, doc); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", domain.ErrPersistence, err)
	}
	if doc.Kind == 0 {
		doc = &yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}}
	}
	if len(doc.Content) != 1 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: %s: top level is not a mapping", domain.ErrPersistence, path)
	}

	s := &Store{
		path: path,
		perm: info.Mode().Perm(),
		doc:  doc,
		done: make(map[string]bool),
	}
	if state := lookup(doc.Content[0], stateSection); state != nil && state.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(state.Content); i += 2 {
			var on bool
			if err := state.Content[i+1].Decode(&on); err == nil && on {
				s.done[state.Content[i].Value] = true
			}
		}
	}
	return s, nil
}

// IsRegistered reports whether `<host>_<metric>_configured` is true in the state section.
func (s *Store) IsRegistered(_ context.Context, host domain.Host, m domain.Metric) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done[domain.StateKey(host, m)], nil
}

// MarkRegistered persists the registration before recording it in memory.
func (s *Store) MarkRegistered(_ context.Context, host domain.Host, m domain.Metric) error {
	k := domain.StateKey(host, m)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done[k] {
		return nil
	}

	next := cloneNode(s.doc)
	setTrue(next.Content[0], stateSection, k)

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(next); err != nil {
		return fmt.Errorf("%w: encode: %w", domain.ErrPersistence, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("%w: encode: %w", domain.ErrPersistence, err)
	}
	if err := writeAtomic(s.path, buf.Bytes(), s.perm); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}

	s.doc = next
	s.done[k] = true
	return nil
}

func lookup(mapping *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

func setTrue(root *yaml.Node, section, key string) {
	sec := lookup(root, section)
	if sec == nil {
		sec = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		root.Content = append(root.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: section}, sec)
	} else if sec.Kind != yaml.MappingNode {
		// `state:` with no entries decodes as a null scalar.
		*sec = yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	}

	val := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: "true"}
	for i := 0; i+1 < len(sec.Content); i += 2 {
		if sec.Content[i].Value == key {
			sec.Content[i+1] = val
			return
		}
	}
	sec.Content = append(sec.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, val)
}

func cloneNode(n *yaml.Node) *yaml.Node {
	if n == nil {
		return nil
	}
	c := *n
	if n.Content != nil {
		c.Content = make([]*yaml.Node, len(n.Content))
		for i, child := range n.Content {
			c.Content[i] = cloneNode(child)
		}
	}
	return &c
}

func writeAtomic(path string, data []byte, perm fs.FileMode) (retErr error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".state-*")
	if err != nil {
		return fmt.Errorf("create tmp: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := true
	closed := false
	defer func() {
		if !closed {
			if cerr := tmp.Close(); cerr != nil && retErr == nil {
				retErr = fmt.Errorf("close tmp: %w", cerr)
			}
		}
		if cleanup {
			if err := os.Remove(tmpName); err != nil && retErr == nil {
				retErr = fmt.Errorf("remove tmp: %w", err)
			}
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write tmp: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return fmt.Errorf("chmod tmp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync tmp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close tmp: %w", err)
	}
	closed = true
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	cleanup = false
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open dir: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync dir: %w", err)
	}
	return nil
}
