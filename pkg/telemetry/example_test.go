package telemetry_test

import (
	"context"
	"fmt"

	"github.com/techblog/sasscfg/pkg/config"
	"github.com/techblog/sasscfg/pkg/telemetry"
)

func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = "1.0.0"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	logger := telemetry.FromContext(ctx)
	logger.Info("sasscfg started")

	fmt.Println("Telemetry ready")
	// Output: Telemetry ready
}

func Example_eventPublishing() {
	cfg := telemetry.DefaultConfig()

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	tel.Events.Subscribe(func(e telemetry.Event) {
		fmt.Printf("%s %s\n", e.Type, e.Path)
	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))

	_ = tel.Events.PublishConfigLoaded("config.rb", "rb", "abc123", 11)
	_ = tel.Events.PublishDriftDetected("config.rb", []string{"css_dir"})
	_ = tel.Events.PublishConfigInvalid("broken.rb", "syntax error")

	// Output:
	// drift.detected config.rb
	// config.invalid broken.rb
}

func Example_trackLoad() {
	cfg := telemetry.DefaultConfig()

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	tel.Events.Subscribe(func(e telemetry.Event) {
		fmt.Println(e.Type)
	}, telemetry.FilterByType(telemetry.EventTypeConfigLoaded))

	ctx := tel.WithContext(context.Background())
	lc, err := telemetry.TrackLoad(ctx, "config.rb", func(ctx context.Context) (*config.LoadedConfig, error) {
		return &config.LoadedConfig{
			Project:  &config.Project{CSSDir: "stylesheets"},
			Source:   "config.rb",
			Format:   config.FormatRuby,
			Explicit: map[string]bool{config.KeyCSSDir: true},
		}, nil
	})
	if err != nil {
		panic(err)
	}

	fmt.Println(lc.Project.CSSDir)
	// Output:
	// config.loaded
	// stylesheets
}

func Example_instrumentedOperation() {
	cfg := telemetry.DefaultConfig()

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	op := telemetry.StartOperation(ctx, "render", telemetry.AttrFormat.String("yaml"))
	op.Logger.Debug("Rendering settings")
	op.End(nil)

	fmt.Println("Operation complete")
	// Output: Operation complete
}
