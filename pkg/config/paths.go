package config

import (
	"fmt"
	"path/filepath"
)

// AssetKind names a category of files the compiler reads or writes.
type AssetKind string

const (
	AssetStylesheets     AssetKind = "stylesheets"
	AssetSass            AssetKind = "sass"
	AssetImages          AssetKind = "images"
	AssetGeneratedImages AssetKind = "generated_images"
	AssetFonts           AssetKind = "fonts"
)

// Paths holds the directories of a project resolved against its root, and
// the public URL prefix of each published asset kind.
type Paths struct {
	Root string `json:"root"`

	CSSDir    string `json:"css_dir"`
	SassDir   string `json:"sass_dir"`
	ImagesDir string `json:"images_dir"`
	FontsDir  string `json:"fonts_dir"`

	HTTPPath                string `json:"http_path"`
	HTTPStylesheetsPath     string `json:"http_stylesheets_path"`
	HTTPImagesPath          string `json:"http_images_path"`
	HTTPGeneratedImagesPath string `json:"http_generated_images_path"`
	HTTPFontsPath           string `json:"http_fonts_path"`
}

// Resolve joins the project's relative directories onto root. Absolute
// directories are kept. Nothing on disk is read or created.
func Resolve(p *Project, root string) (*Paths, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %s: %w", root, err)
	}

	dir := func(d string) string {
		if filepath.IsAbs(d) {
			return filepath.Clean(d)
		}
		return filepath.Join(absRoot, filepath.FromSlash(d))
	}

	return &Paths{
		Root:                    absRoot,
		CSSDir:                  dir(p.CSSDir),
		SassDir:                 dir(p.SassDir),
		ImagesDir:               dir(p.ImagesDir),
		FontsDir:                dir(p.FontsDir),
		HTTPPath:                p.HTTPPath,
		HTTPStylesheetsPath:     JoinURL(p.HTTPPath, filepath.ToSlash(filepath.Base(p.CSSDir))),
		HTTPImagesPath:          p.HTTPImagesPath,
		HTTPGeneratedImagesPath: p.HTTPGeneratedImagesPath,
		HTTPFontsPath:           p.HTTPFontsPath,
	}, nil
}

// Dir returns the filesystem directory of an asset kind.
func (ps *Paths) Dir(kind AssetKind) (string, error) {
	switch kind {
	case AssetStylesheets:
		return ps.CSSDir, nil
	case AssetSass:
		return ps.SassDir, nil
	case AssetImages, AssetGeneratedImages:
		return ps.ImagesDir, nil
	case AssetFonts:
		return ps.FontsDir, nil
	}
	return "", fmt.Errorf("unknown asset kind %q", kind)
}

// URL returns the public URL of name within an asset kind.
func (ps *Paths) URL(kind AssetKind, name string) (string, error) {
	var base string
	switch kind {
	case AssetStylesheets:
		base = ps.HTTPStylesheetsPath
	case AssetImages:
		base = ps.HTTPImagesPath
	case AssetGeneratedImages:
		base = ps.HTTPGeneratedImagesPath
	case AssetFonts:
		base = ps.HTTPFontsPath
	case AssetSass:
		return "", fmt.Errorf("sass sources are not published")
	default:
		return "", fmt.Errorf("unknown asset kind %q", kind)
	}
	return JoinURL(base, name), nil
}
