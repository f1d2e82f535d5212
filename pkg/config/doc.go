// Package config loads the settings file of a Compass-style stylesheet
// project and exposes it as a flat, typed record.
//
// # Overview
//
// A settings file assigns eleven recognized keys and may require plugins:
//
//	require 'sass-globbing'
//
//	project_type = :stand_alone
//	http_path = "/tech-blog/"
//	css_dir = "public/tech-blog/stylesheets"
//	sass_dir = "sass"
//	line_comments = false
//	output_style = :compressed
//
// Values are exposed literally: css_dir above loads to exactly
// "public/tech-blog/stylesheets". The record is read by an external
// compiler; this package never compiles stylesheets, expands glob imports
// or copies assets.
//
// # Formats
//
// The same record can be written in several syntaxes, chosen by extension:
//
//   - .rb, .config: the Ruby subset above (require, key = literal, comments)
//   - .yaml, .yml, .json: a mapping of keys plus an optional requires list
//   - .cue: top-level fields, validated against the #Project schema
//   - .star: Starlark globals, with require() and an environment variable
//
// # Usage Example
//
//	loader, err := config.NewLoader(logger, config.LoadOptions{})
//	if err != nil {
//	    return err
//	}
//
//	path, err := config.Discover(".")
//	if err != nil {
//	    return err
//	}
//
//	lc, err := loader.Load(ctx, path)
//	if err != nil {
//	    return err
//	}
//	fmt.Println(lc.Project.CSSDir)
//
// # Validation
//
// Load runs two passes: go-playground/validator struct tags (non-empty
// paths, enum membership) and the CUE #Project schema, which can be
// extended with LoadOptions.ExtraSchemas. Unknown keys and repeated
// assignments are warnings, or errors in strict mode.
//
// # Defaults
//
// With LoadOptions.ApplyDefaults, keys absent from the file get the
// defaults for the project type. Keys present in the file are never changed.
//
// # Thread Safety
//
// Loader and SchemaRegistry are safe for concurrent use. Watcher serializes
// its reloads.
package config
