package dynfilter

import (
	"fmt"
	"strconv"
	"strings"
)

// Env variable names, relative to the caller-supplied prefix (the host
// project's own convention, e.g. "SCOREP_SUBSTRATES_DYNFILTER").
const (
	envThreshold              = "THRESHOLD"
	envMethod                 = "METHOD"
	envContinueDespiteFailure = "CONTINUE_DESPITE_FAILURE"
	envCreateReport           = "CREATE_REPORT"
	envCreateFilterFile       = "CREATE_FILTER_FILE"

	defaultThreshold = 100000
)

// Config is the substrate's once-at-init configuration, parsed from the
// five environment variables.
type Config struct {
	Threshold              uint64
	Policy                 Policy
	ContinueDespiteFailure bool
	CreateReport           bool
	CreateFilterFile       bool
}

// LoadConfig parses Config from environment variables named "<prefix>_<name>",
// using getenv (os.Getenv in production; a fake in tests) as the lookup.
// A parse failure or a zero threshold is an error the caller must treat
// as fatal.
func LoadConfig(prefix string, getenv func(string) string) (Config, error) {
	cfg := Config{
		Threshold: defaultThreshold,
		Policy:    PolicyAbsolute,
	}

	if v := getenv(prefix + "_" + envThreshold); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("dynfilter: invalid %s value %q: %w", envThreshold, v, err)
		}
		cfg.Threshold = n
	}
	if cfg.Threshold == 0 {
		return Config{}, fmt.Errorf("dynfilter: %s must be a positive integer, got 0", envThreshold)
	}

	if v := getenv(prefix + "_" + envMethod); v != "" {
		switch strings.ToLower(v) {
		case "absolute":
			cfg.Policy = PolicyAbsolute
		case "relative":
			cfg.Policy = PolicyRelative
		default:
			return Config{}, fmt.Errorf("dynfilter: invalid %s value %q: want absolute or relative", envMethod, v)
		}
	}

	cfg.ContinueDespiteFailure = isTruthy(getenv(prefix + "_" + envContinueDespiteFailure))
	cfg.CreateReport = isTruthy(getenv(prefix + "_" + envCreateReport))
	cfg.CreateFilterFile = isTruthy(getenv(prefix + "_" + envCreateFilterFile))

	return cfg, nil
}

// isTruthy follows common env-var boolean convention: "1", "true", "yes",
// "on" (case-insensitive) are truthy; everything else, including unset, is
// not.
func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
