package stores_test

import (
	"context"
	"fmt"
	"log"

	"github.com/techblog/sasscfg/pkg/config"
	"github.com/techblog/sasscfg/pkg/stores"
)

// ExampleOpen demonstrates opening a store and comparing a record against
// the latest snapshot.
func ExampleOpen() {
	ctx := context.Background()

	store, err := stores.Open(ctx, ":memory:")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	saved := &config.Project{CSSDir: "stylesheets", SassDir: "sass"}
	if err := store.SaveSnapshot(ctx, &stores.Snapshot{
		Source:  "config.rb",
		Format:  config.FormatRuby,
		Digest:  "abc123",
		Project: saved,
	}); err != nil {
		log.Fatal(err)
	}

	latest, err := store.LatestSnapshot(ctx, "config.rb")
	if err != nil {
		log.Fatal(err)
	}

	current := &config.Project{CSSDir: "public/css", SassDir: "sass"}
	for _, c := range config.Diff(latest.Project, current) {
		fmt.Printf("%s: %s -> %s\n", c.Key, c.Old, c.New)
	}
	// Output: css_dir: stylesheets -> public/css
}
