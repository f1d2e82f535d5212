package config

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDefaults(t *testing.T) {
	tests := []struct {
		pt   ProjectType
		want *Project
	}{
		{
			pt: ProjectTypeStandAlone,
			want: &Project{
				ProjectType:             ProjectTypeStandAlone,
				HTTPPath:                "/",
				HTTPImagesPath:          "/images",
				HTTPGeneratedImagesPath: "/images",
				HTTPFontsPath:           "/stylesheets/fonts",
				CSSDir:                  "stylesheets",
				SassDir:                 "sass",
				ImagesDir:               "images",
				FontsDir:                "stylesheets/fonts",
				LineComments:            true,
				OutputStyle:             OutputStyleExpanded,
			},
		},
		{
			pt: ProjectTypeRails,
			want: &Project{
				ProjectType:             ProjectTypeRails,
				HTTPPath:                "/",
				HTTPImagesPath:          "/images",
				HTTPGeneratedImagesPath: "/images",
				HTTPFontsPath:           "/fonts",
				CSSDir:                  "public/stylesheets",
				SassDir:                 "app/assets/stylesheets",
				ImagesDir:               "public/images",
				FontsDir:                "public/fonts",
				LineComments:            true,
				OutputStyle:             OutputStyleExpanded,
			},
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.pt), func(t *testing.T) {
			if diff := cmp.Diff(tt.want, Defaults(tt.pt)); diff != "" {
				t.Errorf("defaults mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestApplyDefaults_FullySpecifiedIsUnchanged(t *testing.T) {
	p := referenceProject()
	explicit := make(map[string]bool)
	for _, k := range Keys() {
		explicit[k] = true
	}

	ApplyDefaults(p, explicit)
	if diff := cmp.Diff(referenceProject(), p); diff != "" {
		t.Errorf("explicit settings changed (-want +got):\n%s", diff)
	}
}

func TestApplyDefaults_DerivesFromExplicit(t *testing.T) {
	p := &Project{HTTPPath: "/tech-blog/", ImagesDir: "source/images"}
	ApplyDefaults(p, map[string]bool{KeyHTTPPath: true, KeyImagesDir: true})

	if p.HTTPImagesPath != "/tech-blog/source/images" {
		t.Errorf("http_images_path: got %q", p.HTTPImagesPath)
	}
	if p.HTTPGeneratedImagesPath != p.HTTPImagesPath {
		t.Errorf("http_generated_images_path should follow http_images_path, got %q", p.HTTPGeneratedImagesPath)
	}
	if p.ProjectType != ProjectTypeStandAlone {
		t.Errorf("project_type: got %q", p.ProjectType)
	}
}

func TestJoinURL(t *testing.T) {
	tests := []struct {
		base  string
		elems []string
		want  string
	}{
		{base: "/", elems: []string{"images"}, want: "/images"},
		{base: "/tech-blog/", elems: []string{"images"}, want: "/tech-blog/images"},
		{base: "/tech-blog", elems: []string{"/fonts/"}, want: "/tech-blog/fonts/"},
		{base: "/tech-blog/", elems: []string{""}, want: "/tech-blog/"},
		{base: "", want: "/"},
		{base: "https://cdn.example.com/", elems: []string{"a", "b.png"}, want: "https://cdn.example.com/a/b.png"},
	}

	for _, tt := range tests {
		if got := JoinURL(tt.base, tt.elems...); got != tt.want {
			t.Errorf("JoinURL(%q, %v) = %q, want %q", tt.base, tt.elems, got, tt.want)
		}
	}
}
