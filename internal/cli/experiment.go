package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	clierrors "github.com/ariel-frischer/wxflow/internal/errors"
	"github.com/ariel-frischer/wxflow/internal/realize"
)

// experimentFlags selects and realizes the experiment configuration.
type experimentFlags struct {
	configs  []string
	cycle    string
	leadtime string
}

func (f *experimentFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&f.configs, "config", "c", nil, "Experiment config file; repeat to layer overrides")
	cmd.Flags().StringVar(&f.cycle, "cycle", "", "Forecast cycle, e.g. 2024-05-05T12 or 2024050512")
	cmd.Flags().StringVar(&f.leadtime, "leadtime", "", "Forecast leadtime in hours or as a duration (requires --cycle)")
}

// context parses --cycle and --leadtime.
func (f *experimentFlags) context() (realize.Context, error) {
	var (
		cycle    *time.Time
		leadtime *time.Duration
	)
	if f.cycle != "" {
		t, err := realize.ParseCycle(f.cycle)
		if err != nil {
			return realize.Context{}, clierrors.InvalidCycle(err)
		}
		cycle = &t
	}
	if f.leadtime != "" {
		if cycle == nil {
			return realize.Context{}, clierrors.LeadtimeWithoutCycle()
		}
		d, err := realize.ParseLeadtime(f.leadtime)
		if err != nil {
			return realize.Context{}, clierrors.InvalidLeadtime(err)
		}
		leadtime = &d
	}
	return realize.NewContext(cycle, leadtime), nil
}

// realize loads every -c file in order, merges them and dereferences the
// result.
func (f *experimentFlags) realize(command string) (*realize.Config, error) {
	if len(f.configs) == 0 {
		return nil, clierrors.MissingConfigFile(command)
	}
	ctx, err := f.context()
	if err != nil {
		return nil, err
	}

	var merged *realize.Config
	for _, path := range f.configs {
		cfg, err := realize.LoadFile(path)
		if err != nil {
			var parseErr *realize.ParseError
			if errors.As(err, &parseErr) {
				return nil, err
			}
			return nil, clierrors.WrapWithMessage(err, clierrors.Configuration,
				fmt.Sprintf("cannot load %s", path),
				"Check that the file exists and is readable",
			)
		}
		if merged == nil {
			merged = cfg
			continue
		}
		merged = merged.Merge(cfg)
	}
	return realize.Dereference(merged, ctx)
}
