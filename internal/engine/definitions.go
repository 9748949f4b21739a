package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Aman-CERP/indexkeeper/internal/index"
)

// DefinitionFileName stores the index definition inside the index
// directory, so startup can rediscover every on-disk index without a
// separate catalog.
const DefinitionFileName = "definition.json"

// WriteDefinition persists the definition into the index directory.
func WriteDefinition(dir string, def *index.Definition) error {
	data, err := json.MarshalIndent(def, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode definition for %q: %w", def.Name, err)
	}

	path := filepath.Join(dir, DefinitionFileName)
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to write definition for %q: %w", def.Name, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write definition for %q: %w", def.Name, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync definition for %q: %w", def.Name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close definition for %q: %w", def.Name, err)
	}
	return os.Rename(tmp, path)
}

// ReadDefinition loads the definition stored in the index directory.
func ReadDefinition(dir string) (*index.Definition, error) {
	data, err := os.ReadFile(filepath.Join(dir, DefinitionFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to read index definition: %w", err)
	}
	var def index.Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to decode index definition: %w", err)
	}
	return &def, nil
}

// ListDefinitions scans the data root and returns the definition of every
// on-disk index. Directories without a readable definition are skipped with
// their error collected into the second return value, keyed by directory
// name; a missing root yields no definitions.
func (e *Engine) ListDefinitions() ([]*index.Definition, map[string]error) {
	entries, err := os.ReadDir(e.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, map[string]error{".": err}
	}

	var defs []*index.Definition
	var broken map[string]error
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(e.root, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, DefinitionFileName)); os.IsNotExist(err) {
			continue
		}
		def, err := ReadDefinition(dir)
		if err != nil {
			if broken == nil {
				broken = make(map[string]error)
			}
			broken[entry.Name()] = err
			continue
		}
		defs = append(defs, def)
	}
	return defs, broken
}
