package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		httpPathsRootedPolicy(),
		separateOutputDirPolicy(),
		compressedWithoutCommentsPolicy(),
		knownPluginsPolicy(),
	}
}

// httpPathsRootedPolicy checks that public URLs are absolute.
func httpPathsRootedPolicy() Policy {
	return Policy{
		Name:        "http-paths-rooted",
		Description: "Public URL paths start with / or are absolute http(s) URLs",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"paths", "urls"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package sasscfg.policies.paths

import rego.v1

url_keys := [
	"http_path",
	"http_images_path",
	"http_generated_images_path",
	"http_fonts_path",
]

deny contains violation if {
	some key in url_keys
	value := input.project[key]
	is_string(value)
	value != ""
	not startswith(value, "/")
	not regex.match("^https?://", value)
	violation := {
		"message": sprintf("%s %s is relative and resolves against each stylesheet's URL", [key, value]),
		"key": key,
		"remediation": sprintf("use /%s", [value]),
	}
}
`,
	}
}

// separateOutputDirPolicy keeps compiled output away from the sources.
func separateOutputDirPolicy() Policy {
	return Policy{
		Name:        "separate-output-dir",
		Description: "css_dir differs from sass_dir and is not nested inside it",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"paths", "layout"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package sasscfg.policies.output

import rego.v1

clean(p) := trim_suffix(trim_prefix(p, "./"), "/")

deny contains violation if {
	css := clean(input.project.css_dir)
	sass := clean(input.project.sass_dir)
	css == sass
	violation := {
		"message": sprintf("css_dir and sass_dir are both %s; compiled stylesheets would overwrite sources", [css]),
		"key": "css_dir",
	}
}

deny contains violation if {
	css := clean(input.project.css_dir)
	sass := clean(input.project.sass_dir)
	css != sass
	startswith(css, concat("", [sass, "/"]))
	violation := {
		"message": sprintf("css_dir %s is inside sass_dir %s", [css, sass]),
		"key": "css_dir",
	}
}
`,
	}
}

// compressedWithoutCommentsPolicy flags line comments that compression drops.
func compressedWithoutCommentsPolicy() Policy {
	return Policy{
		Name:        "compressed-without-comments",
		Description: "Compressed output is not combined with line_comments",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"output"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package sasscfg.policies.comments

import rego.v1

deny contains violation if {
	input.project.output_style == "compressed"
	input.project.line_comments == true
	violation := {
		"message": "line_comments has no effect with compressed output",
		"key": "line_comments",
		"remediation": "line_comments = false",
	}
}
`,
	}
}

// knownPluginsPolicy reports plugins missing from the allow-list.
func knownPluginsPolicy() Policy {
	return Policy{
		Name:        "known-plugins",
		Description: "Each required plugin is a known Compass or Sass extension",
		Severity:    SeverityInfo,
		Enabled:     true,
		Tags:        []string{"plugins"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package sasscfg.policies.plugins

import rego.v1

deny contains violation if {
	some plugin in input.project.requires
	not plugin in data.sasscfg.known_plugins
	violation := {
		"message": sprintf("plugin %s is not a known extension", [plugin]),
		"key": "requires",
		"details": {"plugin": plugin},
	}
}
`,
	}
}
