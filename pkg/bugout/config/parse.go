package config

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// Extension marks the files read from a directory source.
const Extension = ".hcl"

// ParseConfigFiles parses each source. A string names a file, or a
// directory searched recursively for Extension files. []byte is parsed
// as-is and an embed.FS is searched like a directory.
func ParseConfigFiles(sources ...any) ([]hcl.Body, hcl.Diagnostics) {
	p := &sourceParser{parser: hclparse.NewParser()}

	for _, source := range sources {
		switch v := source.(type) {
		case string:
			p.path(v)
		case []byte:
			p.add(p.parser.ParseHCL(v, fmt.Sprintf("<bytes@%p>", v)))
		case embed.FS:
			p.walk(v, "embedded files", func(path string) (*hcl.File, hcl.Diagnostics) {
				content, err := fs.ReadFile(v, path)
				if err != nil {
					return nil, hcl.Diagnostics{sourceError("Failed to read file", path, err)}
				}
				return p.parser.ParseHCL(content, path)
			})
		default:
			p.diags = p.diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid source type",
				Detail:   fmt.Sprintf("Invalid source type: %T", v),
			})
		}
	}

	return p.bodies, p.diags
}

type sourceParser struct {
	parser *hclparse.Parser
	bodies []hcl.Body
	diags  hcl.Diagnostics
}

func (p *sourceParser) add(file *hcl.File, diags hcl.Diagnostics) {
	p.diags = p.diags.Extend(diags)
	if file != nil {
		p.bodies = append(p.bodies, file.Body)
	}
}

func (p *sourceParser) path(name string) {
	info, err := os.Stat(name)
	switch {
	case err != nil:
		p.diags = p.diags.Append(sourceError("Failed to stat file", name, err))
	case info.IsDir():
		p.walk(os.DirFS(name), name, func(path string) (*hcl.File, hcl.Diagnostics) {
			return p.parser.ParseHCLFile(filepath.Join(name, path))
		})
	default:
		p.add(p.parser.ParseHCLFile(name))
	}
}

func (p *sourceParser) walk(fsys fs.FS, name string, parse func(path string) (*hcl.File, hcl.Diagnostics)) {
	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			p.diags = p.diags.Append(sourceError("Failed to access file or directory", path, err))
			return nil
		}
		if !d.IsDir() && strings.HasSuffix(path, Extension) {
			p.add(parse(path))
		}
		return nil
	})
	if err != nil {
		p.diags = p.diags.Append(sourceError("Failed to walk directory", name, err))
	}
}

func sourceError(summary, name string, err error) *hcl.Diagnostic {
	return &hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  summary,
		Detail:   fmt.Sprintf("%s: %s", name, err),
	}
}
