package core

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

var (
	registry   = make(map[string]SourceDefinition)
	registryMu sync.RWMutex
)

// SourceDefinition describes one input file a job directory must hold.
type SourceDefinition struct {
	Key             string   // Unique identifier: "cleaner_log"
	Label           string   // Display name: "Cleaner log"
	FileName        string   // Name inside the job directory: "CL_Cleaner.csv"
	RequiredColumns []string // Header names checked when the file is loaded
	Order           int      // Position in listings
}

// Path returns the source's location inside a job directory.
func (d SourceDefinition) Path(dir string) string {
	return filepath.Join(dir, d.FileName)
}

// Register adds a source definition to the registry.
// Panics if a source with the same key or file name is already registered.
func Register(def SourceDefinition) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[def.Key]; exists {
		panic(fmt.Sprintf("source already registered: %s", def.Key))
	}
	for _, other := range registry {
		if strings.EqualFold(other.FileName, def.FileName) {
			panic(fmt.Sprintf("source file already registered: %s", def.FileName))
		}
	}
	registry[def.Key] = def
}

// GetSource returns a source definition by key.
func GetSource(key string) (SourceDefinition, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	def, ok := registry[key]
	return def, ok
}

// SourceForFile returns the source whose file name matches name, ignoring case.
func SourceForFile(name string) (SourceDefinition, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	for _, def := range registry {
		if strings.EqualFold(def.FileName, name) {
			return def, true
		}
	}
	return SourceDefinition{}, false
}

// AllSources returns every registered source, in Order.
func AllSources() []SourceDefinition {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]SourceDefinition, 0, len(registry))
	for _, def := range registry {
		result = append(result, def)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Order != result[j].Order {
			return result[i].Order < result[j].Order
		}
		return result[i].Key < result[j].Key
	})
	return result
}

// MissingSources returns the file names of registered sources absent from dir.
func MissingSources(dir string) []string {
	var missing []string
	for _, def := range AllSources() {
		if _, err := os.Stat(def.Path(dir)); err != nil {
			missing = append(missing, def.FileName)
		}
	}
	return missing
}

// LoadSource reads a registered source from dir and checks its required columns.
func LoadSource(dir, key string) (*Table, error) {
	def, ok := GetSource(key)
	if !ok {
		return nil, fmt.Errorf("unknown source: %s", key)
	}
	t, err := ReadTable(def.Path(dir))
	if err != nil {
		return nil, err
	}
	if _, err := t.Require(def.RequiredColumns...); err != nil {
		return nil, fmt.Errorf("%s: %w", def.FileName, err)
	}
	return t, nil
}
