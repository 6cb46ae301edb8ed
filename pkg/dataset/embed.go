package dataset

import (
	"embed"
	"io/fs"
	"strings"

	"github.com/promptgate/promptgate/pkg/types"
)

// builtinFS embeds the built-in rule datasets shipped with the binary.
// They are used when the configured dataset directory holds no datasets.
//
//go:embed builtin/*.yaml
var builtinFS embed.FS

// LoadBuiltin parses the embedded datasets through the normal validation
// path. Embedded datasets are unsigned; they ship inside the binary, so
// the binary checksum covers them.
func (l *Loader) LoadBuiltin() (map[string]*types.Dataset, error) {
	datasets := make(map[string]*types.Dataset)
	entries, err := fs.ReadDir(builtinFS, "builtin")
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		name := strings.TrimSuffix(entry.Name(), ".yaml")
		data, err := builtinFS.ReadFile("builtin/" + entry.Name())
		if err != nil {
			return nil, err
		}
		ds, err := l.Parse(name, data)
		if err != nil {
			return nil, err
		}
		datasets[name] = ds
	}
	return datasets, nil
}
