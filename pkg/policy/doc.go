// Package policy lints settings records with Open Policy Agent (OPA).
//
// Policies are Rego modules whose package defines a `deny` set. Each entry
// is either a message string or an object with message, key, severity,
// remediation and details fields.
//
// # Architecture
//
//  1. Engine - Compiles Rego policies and evaluates them against a record
//  2. Loader - Loads policies from .rego files, JSON definitions and bundles
//  3. Built-in Policies - Checks every settings file gets by default
//
// # Usage
//
//	engine, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//
//	result, err := engine.Evaluate(ctx, loaded, &policy.PolicyContext{Operation: "lint"})
//	if err != nil {
//	    return err
//	}
//
//	for _, v := range result.Violations {
//	    fmt.Printf("%s: %s: %s\n", v.Severity, v.Policy, v.Message)
//	}
//
// # Input Document
//
// Policies see the record under input.project, keyed by setting name, with
// requires always present as a list. input.explicit lists the keys written
// in the file and input.context carries the source, format and operation.
// The plugin allow-list is data.sasscfg.known_plugins.
//
// # Built-in Policies
//
//  1. http-paths-rooted - Public URLs start with / or are absolute (warning)
//  2. separate-output-dir - css_dir is neither sass_dir nor inside it (error)
//  3. compressed-without-comments - No line comments in compressed output (warning)
//  4. known-plugins - Required plugins are known extensions (info)
//
// # Custom Policies
//
//	# Stylesheets are published from public/
//	# severity: error
//	package custom.output
//
//	import rego.v1
//
//	deny contains violation if {
//	    not startswith(input.project.css_dir, "public/")
//	    violation := {"message": "css_dir must be under public/", "key": "css_dir"}
//	}
//
// The leading comment block becomes the description, and a "severity:"
// comment sets the default severity.
//
// # Hot Reload
//
//	loader := policy.NewLoader(logger)
//	err = loader.Watch(ctx, paths, engine.ReplaceCustomPolicies)
package policy
