package main

import (
	"fmt"

	"github.com/pkg/profile"
)

// profileOptions maps the --profile flag to the options of
// github.com/pkg/profile. Profiles are written below ./profile.
func profileOptions(mode string) ([]func(*profile.Profile), error) {
	opts := []func(*profile.Profile){
		profile.ProfilePath("profile"),
		profile.NoShutdownHook,
	}
	switch mode {
	case "cpu":
		opts = append(opts, profile.CPUProfile)
	case "mem":
		opts = append(opts, profile.MemProfile)
	case "block":
		opts = append(opts, profile.BlockProfile)
	case "mutex":
		opts = append(opts, profile.MutexProfile)
	case "goroutine":
		opts = append(opts, profile.GoroutineProfile)
	default:
		return nil, fmt.Errorf("unknown profile %q (cpu | mem | block | mutex | goroutine)", mode)
	}
	return opts, nil
}
