package config

import (
	"path"
	"strings"
)

// Default settings of a stand-alone project. Rails projects keep their
// sources under app/ and publish from public/.
var (
	standAloneDirs = map[string]string{
		KeyCSSDir:    "stylesheets",
		KeySassDir:   "sass",
		KeyImagesDir: "images",
	}
	railsDirs = map[string]string{
		KeyCSSDir:    "public/stylesheets",
		KeySassDir:   "app/assets/stylesheets",
		KeyImagesDir: "public/images",
		KeyFontsDir:  "public/fonts",
	}
)

// Defaults returns a complete record for the given project type.
func Defaults(pt ProjectType) *Project {
	p := &Project{ProjectType: pt}
	ApplyDefaults(p, map[string]bool{KeyProjectType: true})
	return p
}

// ApplyDefaults fills the keys missing from explicit. Keys present in
// explicit are left exactly as loaded. Derived defaults (public URLs, the
// fonts directory) are computed from the final values of the keys they
// derive from.
func ApplyDefaults(p *Project, explicit map[string]bool) {
	set := func(key string) bool { return explicit[key] }

	if !set(KeyProjectType) || p.ProjectType == "" {
		p.ProjectType = ProjectTypeStandAlone
	}

	dirs := standAloneDirs
	if p.ProjectType == ProjectTypeRails {
		dirs = railsDirs
	}

	if !set(KeyHTTPPath) {
		p.HTTPPath = "/"
	}
	if !set(KeyCSSDir) {
		p.CSSDir = dirs[KeyCSSDir]
	}
	if !set(KeySassDir) {
		p.SassDir = dirs[KeySassDir]
	}
	if !set(KeyImagesDir) {
		p.ImagesDir = dirs[KeyImagesDir]
	}
	if !set(KeyFontsDir) {
		if d, ok := dirs[KeyFontsDir]; ok {
			p.FontsDir = d
		} else {
			p.FontsDir = path.Join(p.CSSDir, "fonts")
		}
	}

	publish := func(dir string) string {
		if p.ProjectType == ProjectTypeRails {
			dir = strings.TrimPrefix(dir, "public/")
		}
		return JoinURL(p.HTTPPath, dir)
	}

	if !set(KeyHTTPImagesPath) {
		p.HTTPImagesPath = publish(p.ImagesDir)
	}
	if !set(KeyHTTPGeneratedImagesPath) {
		p.HTTPGeneratedImagesPath = p.HTTPImagesPath
	}
	if !set(KeyHTTPFontsPath) {
		p.HTTPFontsPath = publish(p.FontsDir)
	}

	if !set(KeyLineComments) {
		p.LineComments = true
	}
	if !set(KeyOutputStyle) {
		p.OutputStyle = OutputStyleExpanded
	}
}

// JoinURL joins URL path segments with exactly one slash between them.
// Absolute URLs in base keep their scheme and host.
func JoinURL(base string, elems ...string) string {
	out := base
	for _, e := range elems {
		if e == "" {
			continue
		}
		out = strings.TrimRight(out, "/") + "/" + strings.TrimLeft(e, "/")
	}
	if out == "" {
		return "/"
	}
	return out
}
